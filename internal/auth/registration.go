package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/apikit/internal/models"
)

// registrationRequest is the DCR POST body (RFC 7591).
type registrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// registrationResponse is the DCR response.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// HandleRegistration returns the /oauth/register handler. Clients that
// ask for client_secret_basic or client_secret_post get a generated
// secret; everyone else is registered as a public client.
func HandleRegistration(store *Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid request body")
			return
		}

		if len(req.RedirectURIs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris is required")
			return
		}

		for _, uri := range req.RedirectURIs {
			if !acceptableRedirectURI(uri) {
				writeJSONError(w, http.StatusBadRequest, "invalid_redirect_uri",
					"redirect_uris must be https or http on a loopback host: "+uri)

				return
			}
		}

		grantTypes := req.GrantTypes
		if len(grantTypes) == 0 {
			grantTypes = []string{"authorization_code", "refresh_token"}
		}

		for _, g := range grantTypes {
			if g != "authorization_code" && g != "refresh_token" && g != "client_credentials" {
				writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "unsupported grant type "+g)
				return
			}
		}

		authMethod := req.TokenEndpointAuthMethod

		switch authMethod {
		case "":
			authMethod = "none"
		case "none", "client_secret_basic", "client_secret_post":
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata",
				"unsupported token_endpoint_auth_method "+authMethod)

			return
		}

		if !store.RegistrationAllowed() {
			writeJSONError(w, http.StatusTooManyRequests, "too_many_requests", "registration rate limit exceeded")
			return
		}

		client := &models.OAuthClient{
			ClientID:     RandomHex(16),
			ClientName:   req.ClientName,
			GrantTypes:   grantTypes,
			RedirectURIs: req.RedirectURIs,
		}

		var secret string

		if authMethod != "none" {
			secret = RandomHex(24)

			hash, err := HashSecret(secret)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "server_error", "could not store client secret")
				return
			}

			client.SecretHash = hash
		}

		if !store.RegisterClient(client) {
			writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "client limit reached")
			return
		}

		logger.Info("client registered",
			slog.String("client_id", client.ClientID),
			slog.String("client_name", client.ClientName),
			slog.String("auth_method", authMethod),
		)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(registrationResponse{
			ClientID:                client.ClientID,
			ClientSecret:            secret,
			ClientName:              client.ClientName,
			RedirectURIs:            client.RedirectURIs,
			GrantTypes:              grantTypes,
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: authMethod,
		})
	}
}

// acceptableRedirectURI allows https anywhere and http only on loopback.
func acceptableRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" || u.Fragment != "" {
		return false
	}

	switch u.Scheme {
	case "https":
		return true
	case "http":
		return isLoopbackHost(u.Hostname())
	}

	return false
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
