package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type harness struct {
	kv      *store.MemoryKV
	vault   *Vault
	manager *Manager
	client  *api.Client
}

func newHarness(t *testing.T, h http.Handler) *harness {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	kv := store.NewMemoryKV()
	vault := NewVault(kv, nil)
	cfg := api.DefaultConfig()
	cfg.BaseURL = srv.URL
	client := api.New(cfg, vault)
	return &harness{kv: kv, vault: vault, manager: NewManager(client, vault, nil), client: client}
}

func persisted(t *testing.T, kv store.KeyValue) (Session, bool) {
	t.Helper()
	raw, ok, err := kv.Get(context.Background(), SessionKey)
	require.NoError(t, err)
	if !ok {
		return Session{}, false
	}
	var s Session
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s, true
}

func TestSignIn_PersistsCompositeSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "token": "t1"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"name": "A"}})
	})
	h := newHarness(t, mux)

	s, err := h.manager.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t1", s.Token)
	require.NotNil(t, s.Profile)
	assert.Equal(t, "A", s.Profile.Name)
	assert.False(t, s.IsGuest)
	assert.Equal(t, StateAuthenticated, h.manager.State())

	got, ok := persisted(t, h.kv)
	require.True(t, ok)
	assert.Equal(t, "t1", got.Token)
	assert.Equal(t, "A", got.Profile.Name)
	assert.False(t, got.IsGuest)
}

func TestSignIn_ProfileFailureRollsBackToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "token": "t1"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"success": false, "error": "db down"})
	})
	h := newHarness(t, mux)

	_, err := h.manager.SignIn(context.Background(), "a@b.com", "pw")
	require.Error(t, err)
	var ae *apperr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeProfileFetchFailed, ae.Code)

	_, ok := persisted(t, h.kv)
	assert.False(t, ok)
	assert.Empty(t, h.vault.Token())
	assert.Equal(t, StateUnauthenticated, h.manager.State())
}

func TestSignIn_ProfileFailureKeepsGuestSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "token": "t1"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"success": false, "error": "db down"})
	})
	h := newHarness(t, mux)
	ctx := context.Background()

	guest, err := h.manager.ContinueAsGuest(ctx)
	require.NoError(t, err)

	_, err = h.manager.SignIn(ctx, "a@b.com", "pw")
	require.Error(t, err)

	assert.Equal(t, StateGuest, h.manager.State())
	assert.Empty(t, h.vault.Token())
	got, ok := persisted(t, h.kv)
	require.True(t, ok)
	assert.True(t, got.IsGuest)
	assert.Equal(t, guest.Profile.ID, got.Profile.ID)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, map[string]any{"success": false, "error": "Invalid credentials"})
	})
	h := newHarness(t, mux)

	_, err := h.manager.SignIn(context.Background(), "a@b.com", "wrong")
	var ae *apperr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeInvalidCredentials, ae.Code)
}

func TestSignIn_ValidatesBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	tests := []struct {
		name, email, password, field string
	}{
		{"empty email", "", "pw", "email"},
		{"blank email", "   ", "pw", "email"},
		{"empty password", "a@b.com", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.manager.SignIn(context.Background(), tt.email, tt.password)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestSignUp_RequiresAllFields(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for _, in := range []SignUpInput{
		{Email: "a@b.com", Password: "pw"},
		{Name: "A", Password: "pw"},
		{Name: "A", Email: "a@b.com"},
	} {
		_, err := h.manager.SignUp(context.Background(), in)
		assert.True(t, apperr.IsValidation(err), "input %+v", in)
	}
	assert.Zero(t, calls.Load())
}

func TestSignUp_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "A", body["name"])
		writeJSON(w, 201, map[string]any{"success": true, "token": "t9"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"_id": "u9", "name": "A"}})
	})
	h := newHarness(t, mux)

	s, err := h.manager.SignUp(context.Background(), SignUpInput{Name: "A", Email: "a@b.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u9", s.Profile.ID)
	assert.Equal(t, StateAuthenticated, h.manager.State())
}

func TestSignUp_ServerRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"success": false, "error": "Email already registered"})
	})
	h := newHarness(t, mux)

	_, err := h.manager.SignUp(context.Background(), SignUpInput{Name: "A", Email: "a@b.com", Password: "pw"})
	var ae *apperr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeRegistrationFailed, ae.Code)
	assert.Contains(t, err.Error(), "Email already registered")
}

func TestContinueAsGuest(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	s, err := h.manager.ContinueAsGuest(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsGuest)
	assert.Empty(t, s.Token)
	assert.True(t, strings.HasPrefix(s.Profile.ID, "guest-"))
	assert.Equal(t, StateGuest, h.manager.State())
	assert.True(t, h.manager.IsGuest())

	got, ok := persisted(t, h.kv)
	require.True(t, ok)
	assert.True(t, got.IsGuest)
	assert.Zero(t, calls.Load())

	_, err = h.manager.RefreshProfile(context.Background())
	var ae *apperr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeNotAuthenticated, ae.Code)
}

func TestSignOut_ClearsPersistedSession(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	_, err := h.manager.ContinueAsGuest(context.Background())
	require.NoError(t, err)

	h.manager.SignOut(context.Background())

	_, ok := persisted(t, h.kv)
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, h.manager.State())
}

func TestSignOut_NeverFailsOnStorageError(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	_, err := h.manager.ContinueAsGuest(context.Background())
	require.NoError(t, err)
	h.kv.FailRemove = assert.AnError

	h.manager.SignOut(context.Background())
	assert.Equal(t, StateUnauthenticated, h.manager.State())
	_, ok := h.vault.Session()
	assert.False(t, ok)
}

func TestRefreshProfile_UnauthorizedSignsOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, map[string]any{"success": false, "error": "expired"})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, map[string]any{"success": false, "error": "expired"})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.vault.Save(context.Background(), Session{Token: "old", Profile: &api.User{ID: "u1"}}))

	_, err := h.manager.RefreshProfile(context.Background())
	assert.True(t, apperr.IsUnauthorized(err))
	assert.Equal(t, StateUnauthenticated, h.manager.State())
	_, ok := persisted(t, h.kv)
	assert.False(t, ok)
}

func TestRefreshProfile_NetworkErrorKeepsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 503, map[string]any{"success": false, "error": "maintenance"})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.vault.Save(context.Background(), Session{Token: "t1", Profile: &api.User{ID: "u1", Name: "A"}}))

	_, err := h.manager.RefreshProfile(context.Background())
	assert.True(t, apperr.IsNetwork(err))
	s, ok := persisted(t, h.kv)
	require.True(t, ok)
	assert.Equal(t, "A", s.Profile.Name)
}

func TestRefreshProfile_NotifiesListeners(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"_id": "u1", "name": "B", "completedQuestions": []string{"q1"},
		}})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.vault.Save(context.Background(), Session{Token: "t1", Profile: &api.User{ID: "u1", Name: "A"}}))

	var got *api.User
	h.manager.OnProfile(func(_ context.Context, u *api.User) { got = u })
	var snaps []Snapshot
	cancel := h.manager.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })
	defer cancel()

	u, err := h.manager.RefreshProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", u.Name)
	require.NotNil(t, got)
	assert.Equal(t, []string{"q1"}, got.CompletedQuestions)
	require.NotEmpty(t, snaps)
	assert.Equal(t, "B", snaps[len(snaps)-1].Session.Profile.Name)
	assert.Equal(t, "t1", h.vault.Token())
}

func TestBootstrap(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		h := newHarness(t, http.NotFoundHandler())
		st, err := h.manager.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateUnauthenticated, st)
	})

	t.Run("guest", func(t *testing.T) {
		h := newHarness(t, http.NotFoundHandler())
		_, err := h.manager.ContinueAsGuest(context.Background())
		require.NoError(t, err)

		m := NewManager(h.client, NewVault(h.kv, nil), nil)
		st, err := m.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateGuest, st)
	})

	t.Run("corrupt session", func(t *testing.T) {
		h := newHarness(t, http.NotFoundHandler())
		require.NoError(t, h.kv.Set(context.Background(), SessionKey, "{not json"))

		st, err := h.manager.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateUnauthenticated, st)
		_, ok := persisted(t, h.kv)
		assert.False(t, ok)
	})

	t.Run("rejected token falls back silently", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 401, map[string]any{"success": false})
		})
		mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 401, map[string]any{"success": false})
		})
		h := newHarness(t, mux)
		require.NoError(t, h.vault.Save(context.Background(), Session{Token: "old", Profile: &api.User{ID: "u1"}}))

		st, err := h.manager.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateUnauthenticated, st)
	})

	t.Run("offline keeps cached session", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		kv := store.NewMemoryKV()
		vault := NewVault(kv, nil)
		cfg := api.DefaultConfig()
		cfg.BaseURL = srv.URL
		m := NewManager(api.New(cfg, vault), vault, nil)
		require.NoError(t, vault.Save(context.Background(), Session{Token: "t1", Profile: &api.User{ID: "u1"}}))

		st, err := m.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateAuthenticated, st)
		assert.Equal(t, "t1", vault.Token())
	})

	t.Run("expired jwt is refreshed", func(t *testing.T) {
		expired := signedToken(t, time.Now().Add(-time.Hour))
		fresh := signedToken(t, time.Now().Add(time.Hour))
		var refreshes atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+fresh {
				writeJSON(w, 401, map[string]any{"success": false, "error": "jwt expired"})
				return
			}
			writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"_id": "u1", "name": "A"}})
		})
		mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			refreshes.Add(1)
			writeJSON(w, 200, map[string]any{"success": true, "token": fresh})
		})
		h := newHarness(t, mux)
		require.NoError(t, h.vault.StoreToken(context.Background(), expired))
		s, _ := h.vault.Session()
		assert.True(t, s.Expired(time.Now()))

		st, err := h.manager.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateAuthenticated, st)
		assert.Equal(t, int32(1), refreshes.Load())
		s, _ = h.vault.Session()
		assert.Equal(t, fresh, s.Token)
		assert.False(t, s.Expired(time.Now()))
		assert.Equal(t, "A", s.Profile.Name)
	})
}

func TestSetAndClearCompleted(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	ctx := context.Background()
	require.NoError(t, h.vault.Save(ctx, Session{Token: "t1", Profile: &api.User{ID: "u1", CompletedQuestions: []string{"q1"}}}))

	require.NoError(t, h.manager.SetCompleted(ctx, "q2", true))
	require.NoError(t, h.manager.SetCompleted(ctx, "q2", true))
	require.NoError(t, h.manager.SetCompleted(ctx, "q1", false))
	s, _ := persisted(t, h.kv)
	assert.Equal(t, []string{"q2"}, s.Profile.CompletedQuestions)

	prev, err := h.manager.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, prev)
	s, _ = persisted(t, h.kv)
	assert.Empty(t, s.Profile.CompletedQuestions)
}

func TestPasswordFlows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /auth/updatepassword", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]any{"success": true, "token": "t2"})
	})
	mux.HandleFunc("POST /auth/forgotpassword", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "data": "Email sent"})
	})
	mux.HandleFunc("PUT /auth/resetpassword/{token}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.PathValue("token"))
		writeJSON(w, 200, map[string]any{"success": true, "token": "t3"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"_id": "u1", "name": "A"}})
	})
	h := newHarness(t, mux)
	ctx := context.Background()

	err := h.manager.UpdatePassword(ctx, "old", "new")
	var ae *apperr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeNotAuthenticated, ae.Code)

	require.NoError(t, h.vault.Save(ctx, Session{Token: "t1", Profile: &api.User{ID: "u1"}}))
	h.manager.setState(StateAuthenticated)
	require.NoError(t, h.manager.UpdatePassword(ctx, "old", "new"))
	assert.Equal(t, "t2", h.vault.Token())

	msg, err := h.manager.ForgotPassword(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Email sent", msg)

	s, err := h.manager.ResetPassword(ctx, "abc123", "newer")
	require.NoError(t, err)
	assert.Equal(t, "t3", s.Token)
	assert.Equal(t, StateAuthenticated, h.manager.State())

	assert.True(t, apperr.IsValidation(h.manager.UpdatePassword(ctx, "", "x")))
	_, err = h.manager.ForgotPassword(ctx, "")
	assert.True(t, apperr.IsValidation(err))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}
