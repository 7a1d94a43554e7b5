package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/apikit/internal/models"
)

type contextKey int

const ctxToken contextKey = iota

// RequestToken returns the access token record of an authenticated
// request, or nil.
func RequestToken(ctx context.Context) *models.OAuthToken {
	t, _ := ctx.Value(ctxToken).(*models.OAuthToken)
	return t
}

// Middleware returns HTTP middleware that requires a valid Bearer token.
// Requests without one get 401 with a WWW-Authenticate challenge
// pointing at the protected resource metadata (RFC 9728 Section 5.1).
func Middleware(store *Store, logger *slog.Logger, serverURL string) func(http.Handler) http.Handler {
	metadataURL := serverURL + "/.well-known/oauth-protected-resource"
	// RFC 6750 Section 3.1: no error attribute when no token was sent.
	wwwAuthNoToken := fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL)
	// error="invalid_token" tells the client to refresh and retry.
	wwwAuthInvalid := fmt.Sprintf(`Bearer error="invalid_token", resource_metadata="%s"`, metadataURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			ti := store.ValidateToken(token)
			if ti == nil {
				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("user_id", ti.UserID),
				slog.String("client_id", ti.ClientID),
				slog.String("ip", ip),
			)

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxToken, ti)))
		})
	}
}
