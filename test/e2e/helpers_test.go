package e2e_test

import (
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alexjbarnes/apikit/api"
	"github.com/alexjbarnes/apikit/internal/auth"
	"github.com/alexjbarnes/apikit/internal/keystore"
	"github.com/alexjbarnes/apikit/internal/models"
	"github.com/alexjbarnes/apikit/internal/server"
	"github.com/alexjbarnes/apikit/oauth"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testUsername   = "testuser"
	testPassword   = "testpass"
	testClientID   = "e2e-cli"
	testCCClientID = "e2e-service"
	testSecret     = "e2e-test-secret-value"
	testPassphrase = "correct horse battery staple"
)

var testScopes = []string{"openid", "offline_access"}

// harness holds the full e2e stack: a sandbox authorization server and
// protected API behind a real HTTP listener.
type harness struct {
	URL   string
	Store *auth.Store
}

// newHarness wires the sandbox via server.NewMux with a public CLI
// client and a confidential client_credentials client.
func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	store := auth.NewStore(logger)
	t.Cleanup(store.Stop)

	store.RegisterPreConfiguredClient(&models.OAuthClient{
		ClientID:     testClientID,
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		RedirectURIs: []string{"http://127.0.0.1", "http://localhost"},
	})

	hash, err := auth.HashSecret(testSecret)
	require.NoError(t, err)

	store.RegisterPreConfiguredClient(&models.OAuthClient{
		ClientID:   testCCClientID,
		SecretHash: hash,
		GrantTypes: []string{"client_credentials"},
	})

	// The listener address is needed before the mux is built so the
	// issuer and resource metadata carry the real URL.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Store:  store,
		Signer: auth.NewIDTokenSigner(serverURL, nil),
		Users:  auth.UserCredentials{testUsername: testPassword},
		Files: fstest.MapFS{
			"reports/q1.csv": {Data: []byte("region,total\nnorth,42\n")},
		},
		Logger:    logger,
		ServerURL: serverURL,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{URL: serverURL, Store: store}
}

func (h *harness) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: testClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  h.URL + "/oauth/authorize",
			TokenURL: h.URL + "/oauth/token",
		},
		Scopes: testScopes,
	}
}

// login runs the interactive login against the sandbox, with browser
// playing the user.
func (h *harness) login(t *testing.T) *oauth2.Token {
	t.Helper()

	tok, err := oauth.Login(t.Context(), h.oauthConfig(), browser(testUsername, testPassword), nil)
	require.NoError(t, err)

	return tok
}

var hiddenInput = regexp.MustCompile(`<input type="hidden" name="(\w+)" value="([^"]*)">`)

// browser returns an OpenFunc that renders the login form, submits the
// credentials and follows the redirect to the loopback callback.
func browser(username, password string) oauth.OpenFunc {
	return func(authURL string) error {
		resp, err := http.Get(authURL)
		if err != nil {
			return err
		}

		page, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			return err
		}

		form := url.Values{
			"username": {username},
			"password": {password},
		}

		for _, m := range hiddenInput.FindAllStringSubmatch(string(page), -1) {
			form.Set(m[1], html.UnescapeString(m[2]))
		}

		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}

		u.RawQuery = ""

		// http.Client follows the 302 from the login POST to the
		// loopback callback with a GET.
		resp, err = http.Post(u.String(), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}

		_, _ = io.Copy(io.Discard, resp.Body)

		return resp.Body.Close()
	}
}

// session is a client side stack: keystore, token manager, refresh
// provider and an api.Client with the bearer interceptor.
type session struct {
	keystore *keystore.Keystore
	manager  *oauth.OIDCTokenManager
	provider *oauth.RefreshProvider
	client   *api.Client
	failures chan error
}

func (h *harness) newSession(t *testing.T, path string) *session {
	t.Helper()

	ks, err := keystore.OpenAt(path, testPassphrase)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })

	manager := oauth.NewOIDCTokenManager("e2e", ks.Secrets(), oauth.WithPreferences(ks.Preferences()))
	provider := oauth.NewRefreshProvider(manager, h.URL+"/oauth/token", testClientID,
		oauth.WithScopes(testScopes...),
	)

	failures := make(chan error, 8)

	ic := oauth.NewInterceptor(provider,
		oauth.WithUnauthorizedRetry(),
		oauth.WithNotifyDelay(10*time.Millisecond),
		oauth.WithFailedToRenew(func(err error) { failures <- err }),
	)
	t.Cleanup(ic.Close)

	return &session{
		keystore: ks,
		manager:  manager,
		provider: provider,
		client:   api.New(api.WithInterceptors(ic), api.WithMaxConcurrent(4)),
		failures: failures,
	}
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "apikit.db")
}

func (h *harness) get(t *testing.T, path string) *api.Request {
	t.Helper()

	req, err := api.Get(h.URL + path)
	require.NoError(t, err)

	return req
}
