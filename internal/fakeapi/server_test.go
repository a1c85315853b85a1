package fakeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/auth"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

type harness struct {
	fake   *Server
	client *api.Client
	vault  *auth.Vault
	mgr    *auth.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := New(DefaultConfig(), nil, nil)
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	cfg := api.DefaultConfig()
	cfg.BaseURL = srv.URL + Prefix
	vault := auth.NewVault(store.NewMemoryKV(), nil)
	client := api.New(cfg, vault)
	return &harness{fake: fake, client: client, vault: vault, mgr: auth.NewManager(client, vault, nil)}
}

func TestAuthFlow_RegisterLoginMe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.mgr.SignUp(ctx, auth.SignUpInput{Name: "Asha", Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, sess.Profile)
	assert.Equal(t, "Asha", sess.Profile.Name)
	assert.NotEmpty(t, sess.Profile.ID)
	assert.False(t, sess.ExpiresAt.IsZero(), "issued tokens carry exp")

	h.mgr.SignOut(ctx)
	_, err = h.mgr.SignIn(ctx, "asha@example.com", "wrong-pass")
	assert.True(t, apperr.IsAuth(err))

	sess, err = h.mgr.SignIn(ctx, "ASHA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", sess.Profile.Email)
}

func TestRegister_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.fake.AddUser("Ravi", "ravi@example.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   api.RegisterInput
		msg  string
	}{
		{"duplicate", api.RegisterInput{Name: "R", Email: "ravi@example.com", Password: "secret1"}, "Email already registered"},
		{"short password", api.RegisterInput{Name: "R", Email: "r2@example.com", Password: "123"}, "Password must be at least 6 characters"},
		{"bad email", api.RegisterInput{Name: "R", Email: "nope", Password: "secret1"}, "Please provide a valid email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Register(ctx, tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestExpiredToken_IsRefreshedTransparently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.fake.AddUser("Meera", "meera@example.com", "secret1")
	require.NoError(t, err)

	stale, err := h.fake.IssueToken(id, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.vault.StoreToken(ctx, stale))

	u, err := h.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Meera", u.Name)
	assert.NotEqual(t, stale, h.vault.Token())
	assert.Equal(t, 1, h.fake.Hits(http.MethodPost, "/auth/refresh"))
	assert.Equal(t, 2, h.fake.Hits(http.MethodGet, "/auth/me"))
}

func TestRevokedToken_SignsOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.fake.AddUser("Kiran", "kiran@example.com", "secret1")
	require.NoError(t, err)
	_, err = h.mgr.SignIn(ctx, "kiran@example.com", "secret1")
	require.NoError(t, err)

	h.fake.RevokeTokens(id)
	_, err = h.mgr.RefreshProfile(ctx)
	assert.True(t, apperr.IsUnauthorized(err))
	assert.Equal(t, auth.StateUnauthenticated, h.mgr.State())
	assert.Empty(t, h.vault.Token())
}

func TestPasswordFlows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.fake.AddUser("Dev", "dev@example.com", "secret1")
	require.NoError(t, err)
	_, err = h.mgr.SignIn(ctx, "dev@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, h.mgr.UpdatePassword(ctx, "secret1", "secret2"))
	// The re-issued token keeps the session alive.
	_, err = h.mgr.RefreshProfile(ctx)
	require.NoError(t, err)

	msg, err := h.mgr.ForgotPassword(ctx, "dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Email sent", msg)

	reset := h.fake.ResetTokenFor("dev@example.com")
	require.NotEmpty(t, reset)
	sess, err := h.mgr.ResetPassword(ctx, reset, "secret3")
	require.NoError(t, err)
	assert.Equal(t, "Dev", sess.Profile.Name)

	_, err = h.client.Login(ctx, "dev@example.com", "secret3")
	assert.NoError(t, err)
	_, err = h.client.ResetPassword(ctx, reset, "secret4")
	assert.Error(t, err, "reset tokens are single use")
}

func TestUpdateProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.fake.AddUser("Lena", "lena@example.com", "secret1")
	require.NoError(t, err)
	_, err = h.mgr.SignIn(ctx, "lena@example.com", "secret1")
	require.NoError(t, err)

	done, err := h.client.UpdateProgress(ctx, "q-ds-1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"q-ds-1"}, done)

	_, err = h.client.UpdateProgress(ctx, "q-ds-1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"q-ds-1"}, h.fake.Completed(id), "completing twice is idempotent")

	done, err = h.client.UpdateProgress(ctx, "q-ds-1", false)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	branches, err := h.client.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)

	sems, err := h.client.BranchSemesters(ctx, "br-cse")
	require.NoError(t, err)
	assert.Len(t, sems, 2)

	subs, err := h.client.SemesterSubjects(ctx, "sem-cse-3")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Data Structures", subs[0].Name)

	qs, err := h.client.SubjectQuestions(ctx, "sub-ds", api.QuestionFilters{Year: 2022})
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	qs, err = h.client.SubjectQuestions(ctx, "sub-ds", api.QuestionFilters{Module: "1", Type: "long"})
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "q-ds-2", qs[0].ID)

	_, err = h.client.Subject(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Subject not found")
}

func TestSearch_Paginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	qs, total, err := h.client.SearchQuestions(ctx, api.SearchParams{Query: "explain", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, qs, 1)
	assert.Equal(t, 3, total)

	qs, _, err = h.client.SearchQuestions(ctx, api.SearchParams{Query: "explain", Limit: 1, Page: 2})
	require.NoError(t, err)
	require.Len(t, qs, 1)

	qs, total, err = h.client.SearchQuestions(ctx, api.SearchParams{Query: "no such text"})
	require.NoError(t, err)
	assert.Empty(t, qs)
	assert.Equal(t, 0, total)
}

func TestFailNext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.FailNext(http.MethodGet, "/branches", http.StatusServiceUnavailable, "maintenance", 1)

	_, err := h.client.Branches(ctx)
	require.Error(t, err)
	assert.True(t, apperr.IsNetwork(err))
	assert.Contains(t, err.Error(), "maintenance")

	_, err = h.client.Branches(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, h.fake.Hits(http.MethodGet, "/branches"))
}
