package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnauthorized(t *testing.T) {
	wrapped := fmt.Errorf("refresh profile: %w", &AuthError{Code: CodeUnauthorized})
	assert.True(t, IsUnauthorized(wrapped))
	assert.False(t, IsUnauthorized(&AuthError{Code: CodeProfileFetchFailed}))
	assert.False(t, IsUnauthorized(errors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation with field", Required("email"), "validation failed: email is required"},
		{"validation no field", &ValidationError{Reason: "bad"}, "validation failed: bad"},
		{"auth with cause", &AuthError{Code: CodeUnauthorized, Err: errors.New("expired")}, "auth error (unauthorized): expired"},
		{"auth bare", &AuthError{Code: CodeNotAuthenticated}, "auth error (not_authenticated)"},
		{"network with status", &NetworkError{Op: "GET /branches", Status: 500, Err: errors.New("down")}, "GET /branches: HTTP 500: down"},
		{"network transport", &NetworkError{Op: "GET /branches", Err: errors.New("refused")}, "GET /branches: refused"},
		{"sync", &SyncWarning{Op: "update progress", QuestionIDs: []string{"q1", "q2"}, Err: errors.New("offline")}, "sync warning: update progress [q1,q2]: offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapChains(t *testing.T) {
	root := errors.New("root cause")
	sw := &SyncWarning{Op: "clear", Err: &NetworkError{Op: "PUT /auth/progress", Err: root}}

	assert.ErrorIs(t, sw, root)
	assert.True(t, IsNetwork(sw))
	assert.False(t, IsValidation(sw))
}
