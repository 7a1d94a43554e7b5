package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrLoginState is returned when the authorization callback carries a
// state that this login did not issue.
var ErrLoginState = errors.New("oauth: login callback state mismatch")

// LoginError is an error returned to the redirect URI by the
// authorization server.
type LoginError struct {
	Code        string
	Description string
}

func (e *LoginError) Error() string {
	if e.Description == "" {
		return "oauth: authorization failed: " + e.Code
	}

	return fmt.Sprintf("oauth: authorization failed: %s: %s", e.Code, e.Description)
}

// OpenFunc presents the authorization URL to the user, typically by
// printing it or opening a browser.
type OpenFunc func(authURL string) error

type callbackResult struct {
	code string
	err  error
}

// Login runs the authorization code grant with PKCE against cfg. It
// listens on an ephemeral loopback port for the redirect, hands the
// authorization URL to open, and exchanges the returned code. The
// redirect URL of cfg is replaced with the loopback listener.
func Login(ctx context.Context, cfg *oauth2.Config, open OpenFunc, logger *slog.Logger) (*oauth2.Token, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening for login callback: %w", err)
	}

	c := *cfg
	c.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr())

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		res := parseCallback(r, state)

		select {
		case results <- res:
		default:
		}

		if res.err != nil {
			http.Error(w, "Sign in failed: "+res.err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Signed in. You can close this window.\n"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() { _ = srv.Serve(ln) }()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := c.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	logger.Debug("waiting for login callback", slog.String("redirect_uri", c.RedirectURL))

	if err := open(authURL); err != nil {
		return nil, fmt.Errorf("opening authorization url: %w", err)
	}

	var res callbackResult

	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, res.err
	}

	tok, err := c.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	logger.Info("signed in", slog.String("token_url", c.Endpoint.TokenURL))

	return tok, nil
}

func parseCallback(r *http.Request, state string) callbackResult {
	q := r.URL.Query()

	if q.Get("state") != state {
		return callbackResult{err: ErrLoginState}
	}

	if code := q.Get("error"); code != "" {
		return callbackResult{err: &LoginError{Code: code, Description: q.Get("error_description")}}
	}

	code := q.Get("code")
	if code == "" {
		return callbackResult{err: &LoginError{Code: "invalid_request", Description: "callback without code"}}
	}

	return callbackResult{code: code}
}

// SetOAuth2Token stores tok as if it were a token endpoint response.
// A token without an expiry is kept as never expiring.
func (m *OIDCTokenManager) SetOAuth2Token(tok *oauth2.Token) {
	if tok == nil || tok.AccessToken == "" {
		return
	}

	resp := map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.Type(),
		"expires_in":   UnboundedExpiry,
	}

	if !tok.Expiry.IsZero() {
		resp["expires_in"] = int64(tok.Expiry.Sub(m.now()).Round(time.Second) / time.Second)
	}

	if tok.RefreshToken != "" {
		resp["refresh_token"] = tok.RefreshToken

		if v := tok.Extra("refresh_token_expires_in"); v != nil {
			resp["refresh_token_expires_in"] = v
		}
	}

	if v, ok := tok.Extra("id_token").(string); ok && v != "" {
		resp["id_token"] = v
	}

	data, err := json.Marshal(resp)
	if err != nil {
		m.logger.Warn("encoding oauth2 token", slog.String("error", err.Error()))
		return
	}

	m.Decode(data)
}
