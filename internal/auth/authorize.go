package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/apikit/internal/models"
)

// UserCredentials maps usernames to passwords accepted by the login form.
type UserCredentials map[string]string

const (
	csrfTokenBytes = 32
	authCodeBytes  = 32

	rateLimitWindow  = 5 * time.Minute
	rateLimitMaxFail = 10

	// rateLimitPruneThreshold bounds the failure map across many IPs.
	rateLimitPruneThreshold = 1000
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>apikit sandbox sign in</title>
<style>
  body { font-family: system-ui, sans-serif; background: #f4f4f5; display: flex; justify-content: center; padding-top: 10vh; }
  .card { background: #fff; border-radius: 8px; padding: 2rem; width: 20rem; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
  h1 { font-size: 1.2rem; margin: 0 0 1rem; }
  label { display: block; font-size: 0.85rem; margin-top: 0.75rem; }
  input[type=text], input[type=password] { width: 100%; padding: 0.5rem; box-sizing: border-box; }
  button { margin-top: 1.25rem; width: 100%; padding: 0.6rem; }
  .error { color: #b91c1c; font-size: 0.85rem; }
</style>
</head>
<body>
<div class="card">
  <h1>apikit sandbox</h1>
  <p><strong>{{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}</strong> is requesting access{{if .Scope}} to <code>{{.Scope}}</code>{{end}}.</p>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <form method="POST">
    <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="state" value="{{.State}}">
    <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
    <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <label for="username">Username</label>
    <input type="text" id="username" name="username" autocomplete="username" required autofocus>
    <label for="password">Password</label>
    <input type="password" id="password" name="password" autocomplete="current-password" required>
    <button type="submit">Sign in</button>
  </form>
</div>
</body>
</html>`))

type loginForm struct {
	CSRFToken           string
	ClientID            string
	ClientName          string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	Error               string
}

// loginRateLimiter counts failed logins per IP over a sliding window.
type loginRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{failures: make(map[string][]time.Time)}
}

// limited reports whether ip has too many recent failures.
func (rl *loginRateLimiter) limited(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rateLimitWindow)

	if len(rl.failures) > rateLimitPruneThreshold {
		for k, times := range rl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.failures, k)
			}
		}
	}

	recent := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.failures, ip)
	} else {
		rl.failures[ip] = recent
	}

	return len(recent) >= rateLimitMaxFail
}

func (rl *loginRateLimiter) record(ip string) {
	rl.mu.Lock()
	rl.failures[ip] = append(rl.failures[ip], time.Now())
	rl.mu.Unlock()
}

// remoteIP is r.RemoteAddr without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// HandleAuthorize returns the /oauth/authorize handler. GET renders the
// login form; POST checks the credentials and redirects back to the
// client with an authorization code. PKCE with S256 is required.
func HandleAuthorize(store *Store, users UserCredentials, logger *slog.Logger, issuer string) http.HandlerFunc {
	limiter := newLoginRateLimiter()

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			authorizeGET(w, r, store)
		case http.MethodPost:
			authorizePOST(w, r, store, users, logger, limiter, issuer)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func authorizeGET(w http.ResponseWriter, r *http.Request, store *Store) {
	q := r.URL.Query()

	client, redirectURI, ok := resolveClient(w, store, q.Get("client_id"), q.Get("redirect_uri"))
	if !ok {
		return
	}

	state := q.Get("state")

	// RFC 6749 Section 4.1.2.1: once the redirect URI is trusted, errors
	// go back to the client as query parameters.
	switch responseType := q.Get("response_type"); {
	case responseType == "":
		redirectWithError(w, r, redirectURI, state, "invalid_request", "response_type is required")
		return
	case responseType != "code":
		redirectWithError(w, r, redirectURI, state, "unsupported_response_type", `response_type must be "code"`)
		return
	}

	challenge := q.Get("code_challenge")
	if challenge == "" {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge is required (PKCE)")
		return
	}

	method := q.Get("code_challenge_method")
	if method != "S256" {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge_method must be S256")
		return
	}

	renderLogin(w, http.StatusOK, loginForm{
		CSRFToken:           newCSRFToken(store, client.ClientID, redirectURI),
		ClientID:            client.ClientID,
		ClientName:          client.ClientName,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Scope:               q.Get("scope"),
	})
}

func authorizePOST(w http.ResponseWriter, r *http.Request, store *Store, users UserCredentials, logger *slog.Logger, limiter *loginRateLimiter, issuer string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	client, redirectURI, ok := resolveClient(w, store, r.PostFormValue("client_id"), r.PostFormValue("redirect_uri"))
	if !ok {
		return
	}

	form := loginForm{
		ClientID:            client.ClientID,
		ClientName:          client.ClientName,
		RedirectURI:         redirectURI,
		State:               r.PostFormValue("state"),
		CodeChallenge:       r.PostFormValue("code_challenge"),
		CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
		Scope:               r.PostFormValue("scope"),
	}

	if form.CodeChallenge == "" {
		redirectWithError(w, r, redirectURI, form.State, "invalid_request", "code_challenge is required (PKCE)")
		return
	}

	// Check the limit before consuming CSRF so a limited request does not
	// burn the user's form.
	ip := remoteIP(r)
	if limiter.limited(ip) {
		logger.Warn("login rate limited", slog.String("ip", ip))
		http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

		return
	}

	// A forged form may carry an attacker's redirect URI, so CSRF failures
	// get a plain error instead of a redirect.
	if !store.ConsumeCSRF(r.PostFormValue("csrf_token"), client.ClientID, redirectURI) {
		http.Error(w, "invalid or expired CSRF token", http.StatusForbidden)
		return
	}

	username := r.PostFormValue("username")
	if !users.check(username, r.PostFormValue("password")) {
		logger.Warn("login failed", slog.String("username", username), slog.String("ip", ip))
		limiter.record(ip)

		form.CSRFToken = newCSRFToken(store, client.ClientID, redirectURI)
		form.Error = "Invalid username or password"
		renderLogin(w, http.StatusUnauthorized, form)

		return
	}

	logger.Info("login successful", slog.String("username", username), slog.String("client_id", client.ClientID))

	code := RandomHex(authCodeBytes)
	store.SaveCode(&AuthCode{
		Code:          code,
		ClientID:      client.ClientID,
		RedirectURI:   redirectURI,
		CodeChallenge: form.CodeChallenge,
		UserID:        username,
		Scopes:        strings.Fields(form.Scope),
		ExpiresAt:     store.now().Add(codeExpiry),
	})

	params := url.Values{"code": {code}}
	if form.State != "" {
		params.Set("state", form.State)
	}

	// RFC 9207 issuer identification.
	if issuer != "" {
		params.Set("iss", issuer)
	}

	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// check compares SHA-256 digests in constant time so neither the
// username nor the password length leaks through timing.
func (u UserCredentials) check(username, password string) bool {
	expected, ok := u[username]
	if !ok {
		expected = "\x00invalid"
	}

	expectedH := sha256.Sum256([]byte(expected))
	passwordH := sha256.Sum256([]byte(password))

	return subtle.ConstantTimeCompare(expectedH[:], passwordH[:]) == 1 && ok
}

// resolveClient looks up the client and settles the redirect URI,
// writing a plain error when either is unacceptable.
func resolveClient(w http.ResponseWriter, store *Store, clientID, redirectURI string) (*models.OAuthClient, string, bool) {
	if clientID == "" {
		http.Error(w, "missing client_id", http.StatusBadRequest)
		return nil, "", false
	}

	client := store.GetClient(clientID)
	if client == nil {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return nil, "", false
	}

	if redirectURI == "" {
		// RFC 6749 Section 3.1.2.3: a single registered URI is the default.
		if len(client.RedirectURIs) != 1 || isLoopbackPrefix(client.RedirectURIs[0]) {
			http.Error(w, "redirect_uri is required", http.StatusBadRequest)
			return nil, "", false
		}

		return client, client.RedirectURIs[0], true
	}

	if !validateRedirectURI(client, redirectURI) {
		http.Error(w, "redirect_uri not registered for this client", http.StatusBadRequest)
		return nil, "", false
	}

	return client, redirectURI, true
}

// validateRedirectURI requires an exact match against the registered
// URIs, except that a registered bare loopback origin (http://127.0.0.1
// or http://localhost) accepts any port and path per RFC 8252 Section
// 7.3. Clients with no registered URIs accept loopback redirects only.
func validateRedirectURI(client *models.OAuthClient, redirectURI string) bool {
	if len(client.RedirectURIs) == 0 {
		u, err := url.Parse(redirectURI)
		return err == nil && u.Scheme == "http" && isLoopbackHost(u.Hostname())
	}

	for _, registered := range client.RedirectURIs {
		if redirectURI == registered {
			return true
		}

		if isLoopbackPrefix(registered) && sameLoopbackHost(redirectURI, registered) {
			return true
		}
	}

	return false
}

func isLoopbackPrefix(uri string) bool {
	return uri == "http://127.0.0.1" || uri == "http://localhost"
}

func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// sameLoopbackHost compares parsed hostnames so 127.0.0.1.evil.com does
// not match a 127.0.0.1 prefix.
func sameLoopbackHost(redirectURI, registered string) bool {
	ru, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	pu, err := url.Parse(registered)
	if err != nil {
		return false
	}

	return ru.Scheme == pu.Scheme && ru.Hostname() == pu.Hostname()
}

func newCSRFToken(store *Store, clientID, redirectURI string) string {
	token := RandomHex(csrfTokenBytes)
	store.SaveCSRF(token, clientID, redirectURI)

	return token
}

func renderLogin(w http.ResponseWriter, status int, form loginForm) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(status)
	_ = loginPage.Execute(w, form)
}

// redirectWithError sends an RFC 6749 Section 4.1.2.1 error to a
// validated redirect URI.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, errCode, description string) {
	params := url.Values{
		"error":             {errCode},
		"error_description": {description},
	}

	if state != "" {
		params.Set("state", state)
	}

	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// appendQuery adds params to uri, keeping any query it already has.
func appendQuery(uri string, params url.Values) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}

	return uri + sep + params.Encode()
}
