// Package auth manages the PYQDeck session: sign in and out, guest mode,
// profile refresh, password flows, and the persisted token.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
)

// State is the session lifecycle state.
type State int

const (
	// StateUnknown is the initial state before Bootstrap resolves.
	StateUnknown State = iota
	StateGuest
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Backend is the subset of the API client the Manager uses.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, in api.RegisterInput) (string, error)
	Me(ctx context.Context) (*api.User, error)
	UpdatePassword(ctx context.Context, current, next string) (string, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, password string) (string, error)
}

// Snapshot is an immutable view of the session handed to readers.
type Snapshot struct {
	State   State
	Session Session
}

// ProfileListener is notified whenever a fresh server profile arrives.
type ProfileListener func(ctx context.Context, u *api.User)

// SignUpInput holds registration fields.
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// Manager owns the authentication lifecycle.
type Manager struct {
	backend Backend
	vault   *Vault
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	subs     map[int]func(Snapshot)
	nextSub  int
	profiles []ProfileListener
}

// NewManager creates a Manager. The vault must be the TokenStore used by the
// backend's client so token rejections reach the Manager.
func NewManager(backend Backend, vault *Vault, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		backend: backend,
		vault:   vault,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[int]func(Snapshot)),
	}
	vault.rejected = m.tokenRejected
	return m
}

// Bootstrap restores the persisted session and resolves the initial state.
// Authentication failures fall back to StateUnauthenticated without error;
// network failures keep the cached session.
func (m *Manager) Bootstrap(ctx context.Context) (State, error) {
	s, ok, err := m.vault.Load(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		return StateUnauthenticated, err
	}

	switch {
	case !ok:
		m.setState(StateUnauthenticated)
		return StateUnauthenticated, nil
	case s.IsGuest:
		m.setState(StateGuest)
		return StateGuest, nil
	case s.Token == "":
		m.clearSession(ctx)
		m.setState(StateUnauthenticated)
		return StateUnauthenticated, nil
	}

	m.setState(StateAuthenticated)
	if s.Expired(m.now()) {
		m.logger.Info("session token expired, refreshing", "expired_at", s.ExpiresAt)
	}

	// An expired or revoked token surfaces as a 401 here, which the client
	// answers with a single refresh.
	if _, err := m.RefreshProfile(ctx); err != nil {
		var ae *apperr.AuthError
		if errors.As(err, &ae) {
			m.logger.Info("stored session rejected", "error", err)
			m.clearSession(ctx)
			m.setState(StateUnauthenticated)
			return StateUnauthenticated, nil
		}
		m.logger.Warn("profile refresh failed, using cached session", "error", err)
	}
	return m.State(), nil
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Session{}, apperr.Required("email")
	}
	if password == "" {
		return Session{}, apperr.Required("password")
	}

	token, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return Session{}, classify(err, apperr.CodeInvalidCredentials)
	}
	return m.establish(ctx, token)
}

// SignUp registers a new account and signs in.
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.Name == "":
		return Session{}, apperr.Required("name")
	case in.Email == "":
		return Session{}, apperr.Required("email")
	case in.Password == "":
		return Session{}, apperr.Required("password")
	}

	token, err := m.backend.Register(ctx, api.RegisterInput{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		return Session{}, classify(err, apperr.CodeRegistrationFailed)
	}
	return m.establish(ctx, token)
}

// establish persists token, fetches the profile, and commits the session.
// A failed profile fetch removes the token again and puts back the session
// that was active before, if any.
func (m *Manager) establish(ctx context.Context, token string) (Session, error) {
	prev, hadPrev := m.vault.Session()
	prevState := m.State()
	rollback := func() {
		if hadPrev {
			if err := m.vault.Save(ctx, prev); err == nil {
				m.setState(prevState)
				return
			}
		}
		m.clearSession(ctx)
		m.setState(StateUnauthenticated)
	}

	if err := m.vault.StoreToken(ctx, token); err != nil {
		return Session{}, err
	}

	u, err := m.backend.Me(ctx)
	if err != nil {
		rollback()
		return Session{}, &apperr.AuthError{Code: apperr.CodeProfileFetchFailed, Err: err}
	}

	// Me may have refreshed the token; keep whatever the vault holds now.
	s := Session{Token: m.vault.Token(), Profile: u}
	if s.Token == "" {
		s.Token = token
	}
	s.ExpiresAt = tokenExpiry(s.Token)
	if err := m.vault.Save(ctx, s); err != nil {
		rollback()
		return Session{}, err
	}

	m.logger.Info("signed in", "user_id", u.ID)
	m.setState(StateAuthenticated)
	m.notifyProfile(ctx, u)
	return s.clone(), nil
}

// SignOut clears the session locally. It never fails.
func (m *Manager) SignOut(ctx context.Context) {
	m.clearSession(ctx)
	m.setState(StateUnauthenticated)
	m.logger.Info("signed out")
}

// ContinueAsGuest starts a local-only guest session.
func (m *Manager) ContinueAsGuest(ctx context.Context) (Session, error) {
	s := Session{
		IsGuest: true,
		Profile: &api.User{
			ID:                 "guest-" + uuid.NewString(),
			Name:               "Guest",
			CompletedQuestions: []string{},
		},
	}
	if err := m.vault.Save(ctx, s); err != nil {
		return Session{}, err
	}
	m.setState(StateGuest)
	return s.clone(), nil
}

// RefreshProfile re-fetches the profile of an authenticated session and
// notifies profile listeners.
func (m *Manager) RefreshProfile(ctx context.Context) (*api.User, error) {
	s, ok := m.vault.Session()
	if !ok || s.IsGuest || s.Token == "" {
		return nil, &apperr.AuthError{Code: apperr.CodeNotAuthenticated}
	}

	u, err := m.backend.Me(ctx)
	if err != nil {
		if apperr.IsUnauthorized(err) {
			m.clearSession(ctx)
			m.setState(StateUnauthenticated)
		}
		return nil, err
	}

	if err := m.vault.SetProfile(ctx, u); err != nil {
		return nil, err
	}
	m.publish()
	m.notifyProfile(ctx, u)
	return u.Clone(), nil
}

// UpdatePassword changes the password of the signed-in user and stores the
// re-issued token.
func (m *Manager) UpdatePassword(ctx context.Context, current, next string) error {
	if current == "" {
		return apperr.Required("current password")
	}
	if next == "" {
		return apperr.Required("new password")
	}
	if m.State() != StateAuthenticated {
		return &apperr.AuthError{Code: apperr.CodeNotAuthenticated}
	}

	token, err := m.backend.UpdatePassword(ctx, current, next)
	if err != nil {
		return err
	}
	return m.vault.StoreToken(ctx, token)
}

// ForgotPassword requests a reset email and returns the server's message.
func (m *Manager) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", apperr.Required("email")
	}
	return m.backend.ForgotPassword(ctx, email)
}

// ResetPassword completes a password reset and signs in with the returned
// token.
func (m *Manager) ResetPassword(ctx context.Context, resetToken, password string) (Session, error) {
	if resetToken == "" {
		return Session{}, apperr.Required("reset token")
	}
	if password == "" {
		return Session{}, apperr.Required("password")
	}
	token, err := m.backend.ResetPassword(ctx, resetToken, password)
	if err != nil {
		return Session{}, err
	}
	return m.establish(ctx, token)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns an immutable view of the session.
func (m *Manager) Snapshot() Snapshot {
	s, _ := m.vault.Session()
	return Snapshot{State: m.State(), Session: s}
}

// Authenticated reports whether a signed-in, non-guest session is active.
func (m *Manager) Authenticated() bool {
	return m.State() == StateAuthenticated
}

// IsGuest reports whether the current session is a guest session.
func (m *Manager) IsGuest() bool {
	s, ok := m.vault.Session()
	return ok && s.IsGuest
}

// Subscribe registers fn to receive a snapshot after every state or profile
// change. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// OnProfile registers a listener for fresh server profiles.
func (m *Manager) OnProfile(fn ProfileListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, fn)
}

// SetCompleted adds or removes id from the session profile's completed list.
func (m *Manager) SetCompleted(ctx context.Context, id string, done bool) error {
	err := m.vault.UpdateProfile(ctx, func(u *api.User) {
		i := slices.Index(u.CompletedQuestions, id)
		switch {
		case done && i < 0:
			u.CompletedQuestions = append(u.CompletedQuestions, id)
		case !done && i >= 0:
			u.CompletedQuestions = slices.Delete(u.CompletedQuestions, i, i+1)
		}
	})
	if err != nil {
		return err
	}
	m.publish()
	return nil
}

// ClearCompleted empties the profile's completed list and returns what it
// contained.
func (m *Manager) ClearCompleted(ctx context.Context) ([]string, error) {
	var prev []string
	err := m.vault.UpdateProfile(ctx, func(u *api.User) {
		prev = u.CompletedQuestions
		u.CompletedQuestions = []string{}
	})
	if err != nil {
		return nil, err
	}
	m.publish()
	return prev, nil
}

func (m *Manager) tokenRejected(context.Context) {
	m.logger.Info("token rejected by server, signing out")
	m.setState(StateUnauthenticated)
}

func (m *Manager) clearSession(ctx context.Context) {
	if err := m.vault.Clear(ctx); err != nil {
		m.logger.Warn("failed to remove persisted session", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) publish() {
	m.mu.Lock()
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	snap := m.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) notifyProfile(ctx context.Context, u *api.User) {
	m.mu.Lock()
	listeners := slices.Clone(m.profiles)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, u.Clone())
	}
}

// classify maps a login or registration failure. Rejections by the server
// become AuthErrors with code; transport failures pass through.
func classify(err error, code string) error {
	status := api.StatusOf(err)
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return &apperr.AuthError{Code: code, Err: err}
	}
	return err
}
