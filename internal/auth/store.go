// Package auth implements a small OAuth 2.0 authorization server and
// bearer-protected resource for exercising apikit against real token
// flows. It issues short-lived access tokens and rotating refresh tokens.
// All state is in-memory; tokens are invalidated on restart.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/apikit/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// AuthCode represents a pending authorization code.
type AuthCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	UserID        string
	Scopes        []string
	ExpiresAt     time.Time
}

const (
	// maxClients caps dynamic registrations.
	maxClients = 100

	// registrationsPerMinute limits unauthenticated /oauth/register calls.
	registrationsPerMinute = 10

	csrfExpiry      = 10 * time.Minute
	codeExpiry      = 2 * time.Minute
	cleanupInterval = 5 * time.Minute

	// DefaultAccessTTL is short so clients hit the refresh path often.
	DefaultAccessTTL = 5 * time.Minute

	// DefaultRefreshTTL bounds a refresh token chain.
	DefaultRefreshTTL = 24 * time.Hour
)

type csrfEntry struct {
	clientID    string
	redirectURI string
	expiresAt   time.Time
}

// Store holds all in-memory OAuth state.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration

	mu       sync.RWMutex
	codes    map[string]*AuthCode
	tokens   map[string]*models.OAuthToken
	refresh  map[string]*models.OAuthToken
	clients  map[string]*models.OAuthClient
	csrf     map[string]csrfEntry
	stopGC   chan struct{}
	stopOnce sync.Once

	registrationTimes []time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.accessTTL = d }
}

// WithRefreshTTL sets the lifetime of issued refresh tokens. Zero issues
// refresh tokens that never expire.
func WithRefreshTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.refreshTTL = d }
}

// WithStoreClock replaces time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store and starts a goroutine that reaps
// expired entries. Call Stop to end it.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		logger:     logger,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		codes:      make(map[string]*AuthCode),
		tokens:     make(map[string]*models.OAuthToken),
		refresh:    make(map[string]*models.OAuthToken),
		clients:    make(map[string]*models.OAuthClient),
		csrf:       make(map[string]csrfEntry),
		stopGC:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	go s.gcLoop()

	return s
}

// Stop terminates the cleanup goroutine. It is safe to call twice.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopGC) })
}

// AccessTTL is the lifetime of issued access tokens.
func (s *Store) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens, zero for unbounded.
func (s *Store) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ac := range s.codes {
		if now.After(ac.ExpiresAt) {
			delete(s.codes, k)
		}
	}

	for k, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, k)
		}
	}

	for k, t := range s.refresh {
		if t.Expired(now) {
			delete(s.refresh, k)
		}
	}

	for k, entry := range s.csrf {
		if now.After(entry.expiresAt) {
			delete(s.csrf, k)
		}
	}
}

// SaveCode stores an authorization code.
func (s *Store) SaveCode(ac *AuthCode) {
	s.mu.Lock()
	s.codes[ac.Code] = ac
	s.mu.Unlock()
}

// ConsumeCode retrieves and deletes an authorization code. Returns nil
// if not found or expired.
func (s *Store) ConsumeCode(code string) *AuthCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok {
		return nil
	}

	delete(s.codes, code)

	if s.now().After(ac.ExpiresAt) {
		return nil
	}

	return ac
}

// IssueAccessToken creates and stores a new access token.
func (s *Store) IssueAccessToken(clientID, userID string, scopes []string) *models.OAuthToken {
	t := &models.OAuthToken{
		Token:     RandomHex(32),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: s.now().Add(s.accessTTL),
	}

	s.mu.Lock()
	s.tokens[t.Token] = t
	s.mu.Unlock()

	return t
}

// IssueRefreshToken creates and stores a new refresh token.
func (s *Store) IssueRefreshToken(clientID, userID string, scopes []string) *models.OAuthToken {
	t := &models.OAuthToken{
		Token:    RandomHex(32),
		ClientID: clientID,
		UserID:   userID,
		Scopes:   scopes,
	}

	if s.refreshTTL > 0 {
		t.ExpiresAt = s.now().Add(s.refreshTTL)
	}

	s.mu.Lock()
	s.refresh[t.Token] = t
	s.mu.Unlock()

	return t
}

// ValidateToken returns the access token record, or nil when the token is
// unknown, revoked or expired.
func (s *Store) ValidateToken(token string) *models.OAuthToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok || t.Expired(s.now()) {
		return nil
	}

	return t
}

// ConsumeRefreshToken deletes a refresh token and returns its record.
// Refresh tokens rotate, so each one is accepted once. Returns nil when
// the token is unknown, expired or was issued to another client.
func (s *Store) ConsumeRefreshToken(token, clientID string) *models.OAuthToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[token]
	if !ok || t.ClientID != clientID {
		return nil
	}

	delete(s.refresh, token)

	if t.Expired(s.now()) {
		return nil
	}

	return t
}

// RevokeAccessTokens drops every access token, leaving refresh tokens in
// place, and returns how many were dropped. Clients holding a revoked
// token get 401 on their next request and must refresh.
func (s *Store) RevokeAccessTokens() int {
	s.mu.Lock()
	n := len(s.tokens)
	s.tokens = make(map[string]*models.OAuthToken)
	s.mu.Unlock()

	s.logger.Info("access tokens revoked", slog.Int("count", n))

	return n
}

// RevokeToken drops a single access or refresh token.
func (s *Store) RevokeToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, access := s.tokens[token]
	_, refresh := s.refresh[token]

	delete(s.tokens, token)
	delete(s.refresh, token)

	return access || refresh
}

// RegistrationAllowed reports whether a dynamic registration fits in the
// per-minute rate limit, and records it if so.
func (s *Store) RegistrationAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	window := now.Add(-1 * time.Minute)

	valid := s.registrationTimes[:0]
	for _, t := range s.registrationTimes {
		if t.After(window) {
			valid = append(valid, t)
		}
	}

	s.registrationTimes = valid

	if len(s.registrationTimes) >= registrationsPerMinute {
		return false
	}

	s.registrationTimes = append(s.registrationTimes, now)

	return true
}

// RegisterClient stores a dynamically registered client. Returns false
// once maxClients is reached.
func (s *Store) RegisterClient(c *models.OAuthClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) >= maxClients {
		return false
	}

	s.clients[c.ClientID] = c

	return true
}

// RegisterPreConfiguredClient stores a client regardless of the limit.
func (s *Store) RegisterPreConfiguredClient(c *models.OAuthClient) {
	s.mu.Lock()
	s.clients[c.ClientID] = c
	s.mu.Unlock()
}

// GetClient returns the client for clientID, or nil.
func (s *Store) GetClient(clientID string) *models.OAuthClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clients[clientID]
}

// SaveCSRF stores a CSRF token bound to a client and redirect URI.
func (s *Store) SaveCSRF(token, clientID, redirectURI string) {
	s.mu.Lock()
	s.csrf[token] = csrfEntry{
		clientID:    clientID,
		redirectURI: redirectURI,
		expiresAt:   s.now().Add(csrfExpiry),
	}
	s.mu.Unlock()
}

// ConsumeCSRF deletes a CSRF token and reports whether it was valid for
// the given client and redirect URI.
func (s *Store) ConsumeCSRF(token, clientID, redirectURI string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.csrf[token]
	if !ok {
		return false
	}

	delete(s.csrf, token)

	return s.now().Before(entry.expiresAt) &&
		entry.clientID == clientID &&
		entry.redirectURI == redirectURI
}

// HashSecret returns the bcrypt hash of a client secret. Secrets longer
// than 72 bytes are rejected.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing client secret: %w", err)
	}

	return string(hash), nil
}

// VerifySecret reports whether secret matches a HashSecret hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// RandomHex generates a cryptographically random hex string of the given
// byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
