package oauth

import (
	"context"
	"errors"
	"sync"

	"github.com/alexjbarnes/apikit/api"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// SessionProvider is an identity provider SDK that manages its own
// session, such as a platform sign-in library.
type SessionProvider interface {
	// HasPreviousSession reports whether the user signed in before.
	HasPreviousSession() bool

	// CurrentCredential returns the cached credential, if it is usable.
	CurrentCredential() (string, bool)

	// RestoreSession silently renews the session and returns the new
	// credential.
	RestoreSession(ctx context.Context) (string, error)

	// Attach returns a copy of req carrying token.
	Attach(token string, req *api.Request) *api.Request
}

// SessionAdapter presents a SessionProvider as a Provider.
type SessionAdapter struct {
	session SessionProvider
}

// NewSessionAdapter wraps s.
func NewSessionAdapter(s SessionProvider) *SessionAdapter {
	return &SessionAdapter{session: s}
}

// TokenState is Missing without a session, Valid with a usable cached
// credential and Expired otherwise.
func (a *SessionAdapter) TokenState() TokenState {
	if !a.session.HasPreviousSession() {
		return Missing()
	}

	if tok, ok := a.session.CurrentCredential(); ok {
		return Valid(tok)
	}

	return Expired()
}

func (a *SessionAdapter) RefreshToken(ctx context.Context) (string, error) {
	if !a.session.HasPreviousSession() {
		return "", ErrNoSession
	}

	return a.session.RestoreSession(ctx)
}

func (a *SessionAdapter) Attach(token string, req *api.Request) *api.Request {
	return a.session.Attach(token, req)
}

// TokenFetcher obtains a fresh oauth2 token.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// TokenSourceSession is a SessionProvider backed by golang.org/x/oauth2.
// The session exists until SignOut; restoring it fetches a new token.
type TokenSourceSession struct {
	BearerAttacher

	fetch TokenFetcher

	mu        sync.RWMutex
	token     *oauth2.Token
	signedOut bool
}

// NewTokenSourceSession creates a session that renews with fetch,
// starting from initial, which may be nil.
func NewTokenSourceSession(fetch TokenFetcher, initial *oauth2.Token) *TokenSourceSession {
	return &TokenSourceSession{fetch: fetch, token: initial}
}

// ClientCredentialsSession renews with the client credentials grant.
func ClientCredentialsSession(cfg *clientcredentials.Config) *TokenSourceSession {
	return NewTokenSourceSession(cfg.Token, nil)
}

// RefreshTokenSession renews with the refresh_token grant of cfg,
// starting from tok.
func RefreshTokenSession(cfg *oauth2.Config, tok *oauth2.Token) *TokenSourceSession {
	s := &TokenSourceSession{token: tok}

	s.fetch = func(ctx context.Context) (*oauth2.Token, error) {
		s.mu.RLock()
		var refresh string
		if s.token != nil {
			refresh = s.token.RefreshToken
		}
		s.mu.RUnlock()

		if refresh == "" {
			return nil, ErrNoSession
		}

		next, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
		if err != nil {
			return nil, err
		}

		if next.RefreshToken == "" {
			next.RefreshToken = refresh
		}

		return next, nil
	}

	return s
}

func (s *TokenSourceSession) HasPreviousSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fetch != nil && !s.signedOut
}

func (s *TokenSourceSession) CurrentCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.signedOut || !s.token.Valid() {
		return "", false
	}

	return s.token.AccessToken, true
}

func (s *TokenSourceSession) RestoreSession(ctx context.Context) (string, error) {
	if !s.HasPreviousSession() {
		return "", ErrNoSession
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	if tok == nil || tok.AccessToken == "" {
		return "", errors.New("identity provider returned an empty token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signedOut {
		return "", ErrNoSession
	}

	s.token = tok

	return tok.AccessToken, nil
}

// Token returns the current oauth2 token, which may be nil.
func (s *TokenSourceSession) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// SignOut ends the session. Later restores fail with ErrNoSession.
func (s *TokenSourceSession) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signedOut = true
	s.token = nil
}
