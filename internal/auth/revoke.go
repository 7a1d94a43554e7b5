package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleRevoke returns the RFC 7009 /oauth/revoke handler. Unknown
// tokens are not an error, so the response is 200 whenever the client
// authenticates.
func HandleRevoke(store *Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
			return
		}

		req := tokenRequest{
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
		}

		client, _ := authenticateClient(store, r, &req)
		if client == nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}

		token := r.PostFormValue("token")
		if token == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "token is required")
			return
		}

		if store.RevokeToken(token) {
			logger.Info("token revoked", slog.String("client_id", client.ClientID))
		}

		w.WriteHeader(http.StatusOK)
	}
}

// HandleRevokeAccessTokens returns the sandbox control endpoint that
// drops every access token. Clients then see 401 on their next call and
// exercise the refresh path.
func HandleRevokeAccessTokens(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		n := store.RevokeAccessTokens()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"revoked": n})
	}
}
