// Package server assembles the sandbox HTTP server: the OAuth
// authorization endpoints from internal/auth and a small bearer-protected
// API to call with apikit.
package server

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/apikit/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store  *auth.Store
	Signer *auth.IDTokenSigner
	Users  auth.UserCredentials
	// Files backs /api/files/. Nil serves nothing there.
	Files     fs.FS
	Logger    *slog.Logger
	ServerURL string
}

// NewMux builds the mux with OAuth discovery, registration,
// authorization, token and revocation endpoints, the sandbox control
// endpoint and the protected /api/ routes.
func NewMux(cfg MuxConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	serverMeta := auth.HandleServerMetadata(cfg.ServerURL)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(cfg.ServerURL))
	mux.HandleFunc("/.well-known/oauth-authorization-server", serverMeta)
	mux.HandleFunc("/.well-known/openid-configuration", serverMeta)
	mux.HandleFunc("/oauth/register", auth.HandleRegistration(cfg.Store, logger))
	mux.HandleFunc("/oauth/authorize", auth.HandleAuthorize(cfg.Store, cfg.Users, logger, cfg.ServerURL))
	mux.HandleFunc("/oauth/token", auth.HandleToken(cfg.Store, cfg.Signer, logger))
	mux.HandleFunc("/oauth/revoke", auth.HandleRevoke(cfg.Store, logger))
	mux.HandleFunc("/sandbox/revoke-access", auth.HandleRevokeAccessTokens(cfg.Store))
	mux.HandleFunc("/healthz", handleHealth)

	requireToken := auth.Middleware(cfg.Store, logger, cfg.ServerURL)
	mux.Handle("/api/", requireToken(newResourceMux(cfg.Files)))

	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}
