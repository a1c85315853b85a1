package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// SessionKey is the key-value entry holding the persisted session.
const SessionKey = "pyqdeck.session"

// Session is the persisted authentication state.
type Session struct {
	Token     string    `json:"token,omitempty"`
	Profile   *api.User `json:"profile,omitempty"`
	IsGuest   bool      `json:"isGuest"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the token carries an expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s Session) clone() Session {
	s.Profile = s.Profile.Clone()
	return s
}

// Vault owns the bearer token and the persisted session. It implements
// api.TokenStore so the HTTP client can refresh or reject the token.
type Vault struct {
	kv     store.KeyValue
	logger *slog.Logger

	mu      sync.RWMutex
	session *Session

	// rejected is invoked after TokenRejected has cleared the session.
	rejected func(ctx context.Context)
}

// NewVault creates a Vault persisting into kv.
func NewVault(kv store.KeyValue, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{kv: kv, logger: logger}
}

// Load reads the persisted session. A corrupt entry is discarded.
func (v *Vault) Load(ctx context.Context) (Session, bool, error) {
	raw, ok, err := v.kv.Get(ctx, SessionKey)
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !ok {
		v.session = nil
		return Session{}, false, nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		v.logger.Warn("discarding corrupt session", "error", err)
		v.session = nil
		if err := v.kv.Remove(ctx, SessionKey); err != nil {
			return Session{}, false, fmt.Errorf("remove corrupt session: %w", err)
		}
		return Session{}, false, nil
	}
	v.session = &s
	return s.clone(), true, nil
}

// Session returns a copy of the current session.
func (v *Vault) Session() (Session, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.session == nil {
		return Session{}, false
	}
	return v.session.clone(), true
}

// Token implements api.TokenStore.
func (v *Vault) Token() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.session == nil {
		return ""
	}
	return v.session.Token
}

// StoreToken implements api.TokenStore. It replaces the token of the current
// session, or starts a bare token-only session when there is none.
func (v *Vault) StoreToken(ctx context.Context, token string) error {
	return v.update(ctx, func(s *Session) {
		s.Token = token
		s.IsGuest = false
		s.ExpiresAt = tokenExpiry(token)
	})
}

// TokenRejected implements api.TokenStore by signing out.
func (v *Vault) TokenRejected(ctx context.Context) {
	if err := v.Clear(ctx); err != nil {
		v.logger.Warn("failed to clear rejected session", "error", err)
	}
	if v.rejected != nil {
		v.rejected(ctx)
	}
}

// Save replaces the session and persists it.
func (v *Vault) Save(ctx context.Context, s Session) error {
	s = s.clone()

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.persist(ctx, &s); err != nil {
		return err
	}
	v.session = &s
	return nil
}

// SetProfile replaces the profile of the current session.
func (v *Vault) SetProfile(ctx context.Context, u *api.User) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return nil
	}
	next := v.session.clone()
	next.Profile = u.Clone()
	if err := v.persist(ctx, &next); err != nil {
		return err
	}
	v.session = &next
	return nil
}

// UpdateProfile applies fn to the current profile and persists the result.
// It is a no-op when there is no session or profile.
func (v *Vault) UpdateProfile(ctx context.Context, fn func(u *api.User)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil || v.session.Profile == nil {
		return nil
	}
	next := v.session.clone()
	fn(next.Profile)
	if err := v.persist(ctx, &next); err != nil {
		return err
	}
	v.session = &next
	return nil
}

// Clear removes the session from memory and storage. The in-memory session
// is dropped even when the storage removal fails.
func (v *Vault) Clear(ctx context.Context) error {
	v.mu.Lock()
	v.session = nil
	v.mu.Unlock()

	if err := v.kv.Remove(ctx, SessionKey); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (v *Vault) update(ctx context.Context, fn func(s *Session)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var next Session
	if v.session != nil {
		next = v.session.clone()
	}
	fn(&next)
	if err := v.persist(ctx, &next); err != nil {
		return err
	}
	v.session = &next
	return nil
}

// persist writes s. Callers hold v.mu.
func (v *Vault) persist(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := v.kv.Set(ctx, SessionKey, string(b)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens yield the zero time.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(exp), 0)
}
