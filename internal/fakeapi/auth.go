package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	ID        string
	Name      string
	Email     string
	Role      string
	Hash      []byte
	Completed []string
	CreatedAt time.Time

	// Generation is bumped to revoke every token issued before.
	Generation int
}

type userJSON struct {
	ID                 string    `json:"_id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Role               string    `json:"role"`
	CompletedQuestions []string  `json:"completedQuestions"`
	CreatedAt          time.Time `json:"createdAt"`
}

func (a *account) view() userJSON {
	return userJSON{
		ID:                 a.ID,
		Name:               a.Name,
		Email:              a.Email,
		Role:               a.Role,
		CompletedQuestions: append([]string{}, a.Completed...),
		CreatedAt:          a.CreatedAt,
	}
}

type ctxKey struct{}

// AddUser creates an account directly and returns its id.
func (s *Server) AddUser(name, email, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.createLocked(name, email, password)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// Completed returns the server-side completed list of a user.
func (s *Server) Completed(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accounts[userID]; a != nil {
		return slices.Clone(a.Completed)
	}
	return nil
}

// SetCompleted replaces the server-side completed list of a user.
func (s *Server) SetCompleted(userID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accounts[userID]; a != nil {
		a.Completed = slices.Clone(ids)
	}
}

// RevokeTokens invalidates every token issued to userID so far, including
// for refresh.
func (s *Server) RevokeTokens(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accounts[userID]; a != nil {
		a.Generation++
	}
}

// ResetTokenFor returns the most recent reset token issued for email.
func (s *Server) ResetTokenFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.byEmail[strings.ToLower(email)]
	for tok, owner := range s.resetTokens {
		if owner == id {
			return tok
		}
	}
	return ""
}

// IssueToken signs a token for userID valid from issuedAt.
func (s *Server) IssueToken(userID string, issuedAt time.Time) (string, error) {
	s.mu.Lock()
	a := s.accounts[userID]
	s.mu.Unlock()
	if a == nil {
		return "", fmt.Errorf("unknown user %s", userID)
	}
	return s.sign(a, issuedAt)
}

func (s *Server) createLocked(name, email, password string) (*account, error) {
	name, email = strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, errors.New("Please provide name, email and password")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.New("Please provide a valid email")
	}
	if len(password) < 6 {
		return nil, errors.New("Password must be at least 6 characters")
	}
	if _, taken := s.byEmail[email]; taken {
		return nil, errors.New("Email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	a := &account{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Name:      name,
		Email:     email,
		Role:      "user",
		Hash:      hash,
		CreatedAt: s.now().UTC(),
	}
	s.accounts[a.ID] = a
	s.byEmail[email] = a.ID
	return a, nil
}

func (s *Server) sign(a *account, issuedAt time.Time) (string, error) {
	s.mu.Lock()
	id, gen := a.ID, a.Generation
	s.mu.Unlock()

	claims := jwt.MapClaims{
		"sub": id,
		"gen": gen,
		"jti": ulid.Make().String(),
		"iat": issuedAt.Unix(),
		"exp": issuedAt.Add(s.cfg.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return []byte(s.cfg.Secret), nil
}

// verify parses raw and returns its account. With allowExpired, tokens
// past exp but inside the refresh window are accepted.
func (s *Server) verify(raw string, allowExpired bool) (*account, error) {
	var opts []jwt.ParserOption
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	tok, err := jwt.NewParser(opts...).Parse(raw, s.keyFunc)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if allowExpired {
		iat, _ := claims["iat"].(float64)
		if s.now().After(time.Unix(int64(iat), 0).Add(s.cfg.RefreshWindow)) {
			return nil, errors.New("token too old to refresh")
		}
	}

	sub, _ := claims["sub"].(string)
	gen, _ := claims["gen"].(float64)

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[sub]
	if a == nil || int(gen) != a.Generation {
		return nil, errors.New("token revoked")
	}
	return a, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			fail(w, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}
		a, err := s.verify(raw, false)
		if err != nil {
			fail(w, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, a.ID)))
	})
}

func (s *Server) current(r *http.Request) *account {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return s.accounts[id]
}

func (s *Server) issue(w http.ResponseWriter, status int, a *account) {
	tok, err := s.sign(a, s.now())
	if err != nil {
		fail(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	writeJSON(w, status, envelope{Success: true, Token: tok})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct{ Name, Email, Password string }
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	a, err := s.createLocked(in.Name, in.Email, in.Password)
	s.mu.Unlock()
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.issue(w, http.StatusCreated, a)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password string }
	if !decode(w, r, &in) {
		return
	}
	if in.Email == "" || in.Password == "" {
		fail(w, http.StatusBadRequest, "Please provide an email and password")
		return
	}

	s.mu.Lock()
	a := s.accounts[s.byEmail[strings.ToLower(strings.TrimSpace(in.Email))]]
	s.mu.Unlock()
	if a == nil || bcrypt.CompareHashAndPassword(a.Hash, []byte(in.Password)) != nil {
		fail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.issue(w, http.StatusOK, a)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	a, err := s.verify(bearer(r), true)
	if err != nil {
		fail(w, http.StatusUnauthorized, "Session expired, please log in again")
		return
	}
	s.issue(w, http.StatusOK, a)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, s.current(r).view())
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decode(w, r, &in) {
		return
	}

	s.mu.Lock()
	a := s.current(r)
	if bcrypt.CompareHashAndPassword(a.Hash, []byte(in.CurrentPassword)) != nil {
		s.mu.Unlock()
		fail(w, http.StatusUnauthorized, "Password is incorrect")
		return
	}
	if len(in.NewPassword) < 6 {
		s.mu.Unlock()
		fail(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.MinCost)
	if err != nil {
		s.mu.Unlock()
		fail(w, http.StatusInternalServerError, "Could not update password")
		return
	}
	a.Hash = hash
	a.Generation++
	s.mu.Unlock()

	s.issue(w, http.StatusOK, a)
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email string }
	if !decode(w, r, &in) {
		return
	}

	s.mu.Lock()
	id, found := s.byEmail[strings.ToLower(strings.TrimSpace(in.Email))]
	if found {
		for tok, owner := range s.resetTokens {
			if owner == id {
				delete(s.resetTokens, tok)
			}
		}
		s.resetTokens[ulid.Make().String()] = id
	}
	s.mu.Unlock()

	if !found {
		fail(w, http.StatusNotFound, "There is no user with that email")
		return
	}
	ok(w, "Email sent")
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct{ Password string }
	if !decode(w, r, &in) {
		return
	}
	token := chi.URLParam(r, "token")

	s.mu.Lock()
	a := s.accounts[s.resetTokens[token]]
	if a == nil {
		s.mu.Unlock()
		fail(w, http.StatusBadRequest, "Invalid token")
		return
	}
	if len(in.Password) < 6 {
		s.mu.Unlock()
		fail(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	if err != nil {
		s.mu.Unlock()
		fail(w, http.StatusInternalServerError, "Could not reset password")
		return
	}
	a.Hash = hash
	a.Generation++
	delete(s.resetTokens, token)
	s.mu.Unlock()

	s.issue(w, http.StatusOK, a)
}

func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request) {
	var in struct {
		QuestionID string `json:"questionId"`
		Completed  *bool  `json:"completed"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.QuestionID == "" || in.Completed == nil {
		fail(w, http.StatusBadRequest, "Please provide questionId and completed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(r)
	idx := slices.Index(a.Completed, in.QuestionID)
	switch {
	case *in.Completed && idx < 0:
		a.Completed = append(a.Completed, in.QuestionID)
	case !*in.Completed && idx >= 0:
		a.Completed = slices.Delete(a.Completed, idx, idx+1)
	}
	ok(w, a.view())
}
