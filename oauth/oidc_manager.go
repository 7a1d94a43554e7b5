package oauth

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Token kinds, used as the middle part of persistence keys.
const (
	KindAccessToken  = "access_token"
	KindRefreshToken = "refresh_token"
	KindIDToken      = "id_token"
)

const (
	expiresInSuffix   = "expires_in"
	retrievedOnSuffix = "retrieved_on"
)

// OIDCTokenManager holds the tokens returned by an OpenID Connect token
// endpoint and mirrors every change into a pair of Stores: token values
// go to secrets, expiry metadata to prefs.
//
// Persistence is best effort. A failed write is logged and the in-memory
// tokens stay authoritative for the life of the process.
type OIDCTokenManager struct {
	account string
	secrets Store
	prefs   Store
	logger  *slog.Logger
	now     func() time.Time

	// writeMu orders mutations so the stores end up matching memory.
	writeMu sync.Mutex

	mu     sync.RWMutex
	tokens Tokens
}

// ManagerOption configures an OIDCTokenManager.
type ManagerOption func(*OIDCTokenManager)

// WithManagerLogger sets the logger for persistence and decode problems.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *OIDCTokenManager) {
		m.logger = logger
	}
}

// WithPreferences stores expiry metadata in prefs instead of secrets.
func WithPreferences(prefs Store) ManagerOption {
	return func(m *OIDCTokenManager) {
		m.prefs = prefs
	}
}

// WithClock sets the time source used to stamp decoded tokens.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *OIDCTokenManager) {
		m.now = now
	}
}

// NewOIDCTokenManager creates a manager for account and loads any tokens
// previously persisted for it. A nil secrets store keeps tokens in
// memory only.
func NewOIDCTokenManager(account string, secrets Store, opts ...ManagerOption) *OIDCTokenManager {
	if secrets == nil {
		secrets = NewMemoryStore()
	}

	m := &OIDCTokenManager{
		account: account,
		secrets: secrets,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.prefs == nil {
		m.prefs = m.secrets
	}

	m.tokens = Tokens{
		Access:  m.load(KindAccessToken),
		Refresh: m.load(KindRefreshToken),
		IDToken: m.loadIDToken(),
	}

	return m
}

// Account returns the account the tokens are persisted under.
func (m *OIDCTokenManager) Account() string { return m.account }

func (m *OIDCTokenManager) Snapshot() Tokens {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tokens
}

func (m *OIDCTokenManager) SetAccessToken(t Token) {
	m.update(func(ts *Tokens) { ts.Access = &t }, KindAccessToken)
}

func (m *OIDCTokenManager) SetRefreshToken(t Token) {
	m.update(func(ts *Tokens) { ts.Refresh = &t }, KindRefreshToken)
}

// Decode reads a token endpoint response:
//
//	{"access_token": "...", "token_type": "Bearer", "expires_in": 3600,
//	 "refresh_token": "...", "refresh_token_expires_in": 86400, "id_token": "..."}
//
// access_token and expires_in are required. The refresh and id tokens
// are replaced only when present; a refresh token without
// refresh_token_expires_in never expires.
func (m *OIDCTokenManager) Decode(data []byte) {
	if !gjson.ValidBytes(data) {
		m.logger.Warn("ignoring token response that is not valid JSON", slog.String("account", m.account))
		return
	}

	res := gjson.ParseBytes(data)

	access := res.Get("access_token")
	expiresIn := res.Get("expires_in")

	if access.Type != gjson.String || access.String() == "" || expiresIn.Type != gjson.Number {
		m.logger.Warn("ignoring token response without access_token and expires_in",
			slog.String("account", m.account))

		return
	}

	now := m.now()
	kinds := []string{KindAccessToken}

	refresh := res.Get("refresh_token")
	hasRefresh := refresh.Type == gjson.String && refresh.String() != ""

	refreshExpiresIn := UnboundedExpiry
	if v := res.Get("refresh_token_expires_in"); v.Type == gjson.Number {
		refreshExpiresIn = v.Int()
	}

	if hasRefresh {
		kinds = append(kinds, KindRefreshToken)
	}

	idToken := res.Get("id_token")
	hasID := idToken.Type == gjson.String && idToken.String() != ""

	if hasID {
		kinds = append(kinds, KindIDToken)
	}

	m.update(func(ts *Tokens) {
		a := NewToken(access.String(), expiresIn.Int(), now)
		ts.Access = &a

		if hasRefresh {
			r := NewToken(refresh.String(), refreshExpiresIn, now)
			ts.Refresh = &r
		}

		if hasID {
			ts.IDToken = idToken.String()
		}
	}, kinds...)
}

func (m *OIDCTokenManager) Clear() {
	m.update(func(ts *Tokens) { *ts = Tokens{} }, KindAccessToken, KindRefreshToken, KindIDToken)
}

// update applies fn under the write lock and then persists the named
// kinds from the resulting snapshot.
func (m *OIDCTokenManager) update(fn func(*Tokens), kinds ...string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	fn(&m.tokens)
	snap := m.tokens
	m.mu.Unlock()

	for _, kind := range kinds {
		switch kind {
		case KindAccessToken:
			m.persist(kind, snap.Access)
		case KindRefreshToken:
			m.persist(kind, snap.Refresh)
		case KindIDToken:
			m.persistIDToken(snap.IDToken)
		}
	}
}

func (m *OIDCTokenManager) secretKey(kind string) string {
	return m.account + ":" + kind
}

func (m *OIDCTokenManager) prefKey(kind, suffix string) string {
	return m.account + ":" + kind + ":" + suffix
}

func (m *OIDCTokenManager) persist(kind string, t *Token) {
	if t == nil {
		m.remove(kind)
		return
	}

	if err := m.secrets.Save(m.secretKey(kind), []byte(t.Value)); err != nil {
		m.warn("saving token", kind, err)
		return
	}

	if err := m.prefs.Save(m.prefKey(kind, expiresInSuffix), []byte(strconv.FormatInt(t.ExpiresIn, 10))); err != nil {
		m.warn("saving token expiry", kind, err)
	}

	if err := m.prefs.Save(m.prefKey(kind, retrievedOnSuffix), []byte(strconv.FormatInt(t.RetrievedAt.Unix(), 10))); err != nil {
		m.warn("saving token retrieval time", kind, err)
	}
}

func (m *OIDCTokenManager) persistIDToken(idToken string) {
	if idToken == "" {
		if err := m.secrets.Delete(m.secretKey(KindIDToken)); err != nil {
			m.warn("deleting token", KindIDToken, err)
		}

		return
	}

	if err := m.secrets.Save(m.secretKey(KindIDToken), []byte(idToken)); err != nil {
		m.warn("saving token", KindIDToken, err)
	}
}

func (m *OIDCTokenManager) remove(kind string) {
	if err := m.secrets.Delete(m.secretKey(kind)); err != nil {
		m.warn("deleting token", kind, err)
		return
	}

	for _, suffix := range []string{expiresInSuffix, retrievedOnSuffix} {
		if err := m.prefs.Delete(m.prefKey(kind, suffix)); err != nil {
			m.warn("deleting token metadata", kind, err)
		}
	}
}

// load returns the persisted token of kind, or nil when any part of it is
// missing or unreadable.
func (m *OIDCTokenManager) load(kind string) *Token {
	value, err := m.secrets.Read(m.secretKey(kind))
	if err != nil {
		m.warn("reading token", kind, err)
		return nil
	}

	if len(value) == 0 {
		return nil
	}

	expiresIn := m.readInt(kind, expiresInSuffix)
	retrievedOn := m.readInt(kind, retrievedOnSuffix)

	if expiresIn <= 0 || retrievedOn <= 0 {
		return nil
	}

	t := NewToken(string(value), expiresIn, time.Unix(retrievedOn, 0))

	return &t
}

func (m *OIDCTokenManager) loadIDToken() string {
	value, err := m.secrets.Read(m.secretKey(KindIDToken))
	if err != nil {
		m.warn("reading token", KindIDToken, err)
		return ""
	}

	return string(value)
}

func (m *OIDCTokenManager) readInt(kind, suffix string) int64 {
	raw, err := m.prefs.Read(m.prefKey(kind, suffix))
	if err != nil {
		m.warn("reading token metadata", kind, err)
		return 0
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

func (m *OIDCTokenManager) warn(msg, kind string, err error) {
	m.logger.Warn(msg,
		slog.String("account", m.account),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}
