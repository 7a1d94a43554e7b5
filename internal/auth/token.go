package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/alexjbarnes/apikit/internal/models"
)

const maxRequestBody = 64 << 10

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	IDToken               string `json:"id_token,omitempty"`
	Scope                 string `json:"scope,omitempty"`
}

// HandleToken returns the /oauth/token handler. It supports the
// authorization_code (PKCE required), refresh_token and
// client_credentials grants. Refresh tokens rotate on every use.
func HandleToken(store *Store, signer *IDTokenSigner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		req, ok := parseTokenRequest(w, r)
		if !ok {
			return
		}

		client, usedBasic := authenticateClient(store, r, &req)
		if client == nil {
			logger.Warn("token: client authentication failed", slog.String("client_id", req.ClientID))

			if usedBasic {
				w.Header().Set("WWW-Authenticate", `Basic realm="apikit"`)
			}

			writeJSONError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")

			return
		}

		if !client.AllowsGrant(req.GrantType) {
			writeJSONError(w, http.StatusBadRequest, "unauthorized_client", "client may not use grant type "+req.GrantType)
			return
		}

		var (
			userID       string
			scopes       []string
			issueRefresh bool
		)

		switch req.GrantType {
		case "authorization_code":
			ac, msg := redeemCode(store, client, &req)
			if ac == nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_grant", msg)
				return
			}

			userID, scopes = ac.UserID, ac.Scopes
			issueRefresh = client.AllowsGrant("refresh_token")
		case "refresh_token":
			if req.RefreshToken == "" {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
				return
			}

			rt := store.ConsumeRefreshToken(req.RefreshToken, client.ClientID)
			if rt == nil {
				logger.Debug("token: rejected refresh token", slog.String("client_id", client.ClientID))
				writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired refresh token")

				return
			}

			userID, scopes = rt.UserID, rt.Scopes

			// A refresh may narrow the original scope but not widen it.
			if req.Scope != "" {
				requested := strings.Fields(req.Scope)
				for _, s := range requested {
					if !slices.Contains(rt.Scopes, s) {
						writeJSONError(w, http.StatusBadRequest, "invalid_scope", "scope exceeds the original grant")
						return
					}
				}

				scopes = requested
			}

			issueRefresh = true
		case "client_credentials":
			if !client.Confidential() {
				writeJSONError(w, http.StatusBadRequest, "unauthorized_client", "client_credentials requires a confidential client")
				return
			}

			userID, scopes = client.ClientID, strings.Fields(req.Scope)
		default:
			writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type",
				"grant_type must be authorization_code, refresh_token or client_credentials")

			return
		}

		access := store.IssueAccessToken(client.ClientID, userID, scopes)

		resp := tokenResponse{
			AccessToken: access.Token,
			TokenType:   "Bearer",
			ExpiresIn:   int64(store.AccessTTL().Seconds()),
			Scope:       strings.Join(scopes, " "),
		}

		if issueRefresh {
			resp.RefreshToken = store.IssueRefreshToken(client.ClientID, userID, scopes).Token
			resp.RefreshTokenExpiresIn = int64(store.RefreshTTL().Seconds())
		}

		if signer != nil && slices.Contains(scopes, "openid") {
			idToken, err := signer.Sign(client.ClientID, userID)
			if err != nil {
				logger.Error("token: signing id token", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "server_error", "could not sign id token")

				return
			}

			resp.IDToken = idToken
		}

		logger.Info("token issued",
			slog.String("grant_type", req.GrantType),
			slog.String("client_id", client.ClientID),
			slog.String("user_id", userID),
			slog.Bool("refresh", issueRefresh),
		)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// parseTokenRequest reads a JSON or form-encoded token request.
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, bool) {
	var req tokenRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return req, false
		}

		return req, true
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return req, false
	}

	req = tokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
	}

	return req, true
}

// authenticateClient resolves the calling client from HTTP Basic
// credentials or client_id/client_secret parameters. Confidential
// clients must present a matching secret. Returns nil on failure, and
// whether Basic auth was used.
func authenticateClient(store *Store, r *http.Request, req *tokenRequest) (*models.OAuthClient, bool) {
	usedBasic := false

	// RFC 6749 Section 2.3.1: Basic credentials are form-encoded first.
	if id, secret, ok := r.BasicAuth(); ok {
		usedBasic = true

		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}

		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}

		req.ClientID, req.ClientSecret = id, secret
	}

	if req.ClientID == "" {
		return nil, usedBasic
	}

	client := store.GetClient(req.ClientID)
	if client == nil {
		return nil, usedBasic
	}

	if client.Confidential() && !VerifySecret(client.SecretHash, req.ClientSecret) {
		return nil, usedBasic
	}

	return client, usedBasic
}

// redeemCode consumes an authorization code and checks it against the
// client, redirect URI and PKCE verifier. On failure it returns nil and
// an error description.
func redeemCode(store *Store, client *models.OAuthClient, req *tokenRequest) (*AuthCode, string) {
	if req.Code == "" {
		return nil, "code is required"
	}

	ac := store.ConsumeCode(req.Code)
	if ac == nil {
		return nil, "invalid or expired authorization code"
	}

	if ac.ClientID != client.ClientID {
		return nil, "authorization code was issued to another client"
	}

	if ac.RedirectURI != "" && req.RedirectURI != ac.RedirectURI {
		return nil, "redirect_uri mismatch"
	}

	if ac.CodeChallenge == "" {
		return nil, "authorization code has no PKCE challenge"
	}

	if req.CodeVerifier == "" {
		return nil, "code_verifier is required"
	}

	if !verifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
		return nil, "PKCE verification failed"
	}

	return ac, ""
}

// verifyPKCE checks that BASE64URL(SHA256(verifier)) matches the
// challenge (S256 method).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
