// Package api is the PYQDeck backend client: JSON envelope decoding,
// bearer-token attachment, and a single refresh-and-retry on HTTP 401.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// TokenStore owns the bearer token the client attaches to authenticated
// requests.
type TokenStore interface {
	// Token returns the current token, or "" when there is none.
	Token() string

	// StoreToken replaces the current token after a successful refresh.
	StoreToken(ctx context.Context, token string) error

	// TokenRejected is called when the server rejected the token and a
	// refresh could not recover it. Implementations sign the user out.
	TokenRejected(ctx context.Context)
}

type noTokens struct{}

func (noTokens) Token() string                            { return "" }
func (noTokens) StoreToken(context.Context, string) error { return nil }
func (noTokens) TokenRejected(context.Context)            {}

// Client talks to the PYQDeck REST API.
type Client struct {
	caller Caller
	tokens TokenStore
	logger *slog.Logger

	// refreshes collapses concurrent refreshes of the same stale token.
	refreshes singleflight.Group
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	events     store.EventRepo
	logger     *slog.Logger
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithEvents records every request in the given event repo.
func WithEvents(repo store.EventRepo) Option {
	return func(o *clientOptions) { o.events = repo }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// New creates a Client. tokens may be nil for anonymous use.
func New(cfg Config, tokens TokenStore, opts ...Option) *Client {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if tokens == nil {
		tokens = noTokens{}
	}

	var caller Caller = &httpCaller{
		baseURL:   cfg.BaseURL,
		client:    o.httpClient,
		userAgent: cfg.UserAgent,
	}
	caller = WithLogging(caller, o.events, o.logger)

	return &Client{caller: caller, tokens: tokens, logger: o.logger}
}

// call performs an authenticated request when a token is available.
// On HTTP 401 it refreshes the token once and retries the request once.
func (c *Client) call(ctx context.Context, req Request, out any) (*Envelope, error) {
	if !req.Anonymous {
		req.Token = c.tokens.Token()
	}
	req.RequestID = ulid.Make().String()

	resp, err := c.caller.Call(ctx, &req)
	if err != nil && StatusOf(err) == http.StatusUnauthorized && req.Token != "" {
		fresh, rerr := c.refresh(ctx, req.Token)
		if rerr != nil {
			c.logger.Info("token refresh failed, signing out", "route", req.route(), "error", rerr)
			c.tokens.TokenRejected(ctx)
			return nil, &apperr.AuthError{Code: apperr.CodeUnauthorized, Err: rerr}
		}

		req.Token = fresh
		req.RequestID = ulid.Make().String()
		resp, err = c.caller.Call(ctx, &req)
		if err != nil && StatusOf(err) == http.StatusUnauthorized {
			c.logger.Info("token rejected after refresh, signing out", "route", req.route())
			c.tokens.TokenRejected(ctx)
			return nil, &apperr.AuthError{Code: apperr.CodeUnauthorized, Err: err}
		}
	}
	if err != nil {
		if StatusOf(err) == http.StatusUnauthorized {
			return nil, &apperr.AuthError{Code: apperr.CodeUnauthorized, Err: err}
		}
		return nil, err
	}

	if out != nil && len(resp.Envelope.Data) > 0 {
		if err := json.Unmarshal(resp.Envelope.Data, out); err != nil {
			return nil, &apperr.NetworkError{
				Op:     req.op(),
				Status: resp.Status,
				Err:    fmt.Errorf("decode data: %w", err),
			}
		}
	}
	return &resp.Envelope, nil
}

// refresh exchanges a stale token for a new one via POST /auth/refresh.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refreshes.Do(stale, func() (any, error) {
		// Another request may have refreshed while this one was in flight.
		if cur := c.tokens.Token(); cur != "" && cur != stale {
			return cur, nil
		}
		resp, err := c.caller.Call(ctx, &Request{
			Method:    http.MethodPost,
			Path:      "/auth/refresh",
			Token:     stale,
			RequestID: ulid.Make().String(),
			Purpose:   "refresh",
		})
		if err != nil {
			return "", err
		}
		if resp.Envelope.Token == "" {
			return "", errors.New("refresh response carried no token")
		}
		if err := c.tokens.StoreToken(ctx, resp.Envelope.Token); err != nil {
			return "", fmt.Errorf("store refreshed token: %w", err)
		}
		return resp.Envelope.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// --- auth endpoints ---

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	env, err := c.call(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Anonymous: true,
		Body:      map[string]string{"email": email, "password": password},
		Purpose:   "login",
	}, nil)
	if err != nil {
		return "", err
	}
	return tokenOf(env, "POST /auth/login")
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, in RegisterInput) (string, error) {
	env, err := c.call(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/register",
		Anonymous: true,
		Body:      in,
		Purpose:   "register",
	}, nil)
	if err != nil {
		return "", err
	}
	return tokenOf(env, "POST /auth/register")
}

// Me fetches the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.call(ctx, Request{Method: http.MethodGet, Path: "/auth/me", Purpose: "me"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword changes the password and returns the re-issued token.
func (c *Client) UpdatePassword(ctx context.Context, current, next string) (string, error) {
	env, err := c.call(ctx, Request{
		Method:  http.MethodPut,
		Path:    "/auth/updatepassword",
		Body:    map[string]string{"currentPassword": current, "newPassword": next},
		Purpose: "update-password",
	}, nil)
	if err != nil {
		return "", err
	}
	return tokenOf(env, "PUT /auth/updatepassword")
}

// ForgotPassword asks the backend to email a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var data any
	env, err := c.call(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/forgotpassword",
		Anonymous: true,
		Body:      map[string]string{"email": email},
		Purpose:   "forgot-password",
	}, &data)
	if err != nil {
		return "", err
	}
	if msg, ok := data.(string); ok && msg != "" {
		return msg, nil
	}
	return env.Message, nil
}

// ResetPassword sets a new password using an emailed reset token and
// returns a fresh session token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, password string) (string, error) {
	env, err := c.call(ctx, Request{
		Method:    http.MethodPut,
		Path:      "/auth/resetpassword/" + url.PathEscape(resetToken),
		Route:     "/auth/resetpassword/:token",
		Anonymous: true,
		Body:      map[string]string{"password": password},
		Purpose:   "reset-password",
	}, nil)
	if err != nil {
		return "", err
	}
	return tokenOf(env, "PUT /auth/resetpassword/:token")
}

// UpdateProgress marks a question completed or not on the server and
// returns the server's completed list when the response carries one.
func (c *Client) UpdateProgress(ctx context.Context, questionID string, completed bool) ([]string, error) {
	var u User
	_, err := c.call(ctx, Request{
		Method:  http.MethodPut,
		Path:    "/auth/progress",
		Body:    map[string]any{"questionId": questionID, "completed": completed},
		Purpose: "progress",
	}, &u)
	if err != nil {
		return nil, err
	}
	return u.CompletedQuestions, nil
}

func tokenOf(env *Envelope, op string) (string, error) {
	if env.Token == "" {
		return "", &apperr.NetworkError{Op: op, Err: errors.New("response carried no token")}
	}
	return env.Token, nil
}

// --- catalog endpoints ---

// Branches lists all branches.
func (c *Client) Branches(ctx context.Context) ([]Branch, error) {
	var out []Branch
	_, err := c.call(ctx, Request{Method: http.MethodGet, Path: "/branches", Purpose: "branches"}, &out)
	return out, err
}

// Branch fetches one branch.
func (c *Client) Branch(ctx context.Context, id string) (*Branch, error) {
	var out Branch
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/branches/" + url.PathEscape(id), Route: "/branches/:id", Purpose: "branch",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BranchSemesters lists the semesters of a branch.
func (c *Client) BranchSemesters(ctx context.Context, branchID string) ([]Semester, error) {
	var out []Semester
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/branches/" + url.PathEscape(branchID) + "/semesters",
		Route: "/branches/:id/semesters", Purpose: "semesters",
	}, &out)
	return out, err
}

// Semester fetches one semester.
func (c *Client) Semester(ctx context.Context, id string) (*Semester, error) {
	var out Semester
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/semesters/" + url.PathEscape(id), Route: "/semesters/:id", Purpose: "semester",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SemesterSubjects lists the subjects of a semester.
func (c *Client) SemesterSubjects(ctx context.Context, semesterID string) ([]Subject, error) {
	var out []Subject
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/semesters/" + url.PathEscape(semesterID) + "/subjects",
		Route: "/semesters/:id/subjects", Purpose: "subjects",
	}, &out)
	return out, err
}

// Subject fetches one subject.
func (c *Client) Subject(ctx context.Context, id string) (*Subject, error) {
	var out Subject
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/subjects/" + url.PathEscape(id), Route: "/subjects/:id", Purpose: "subject",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubjectQuestions lists a subject's questions, optionally filtered.
func (c *Client) SubjectQuestions(ctx context.Context, subjectID string, f QuestionFilters) ([]Question, error) {
	q := url.Values{}
	if f.Year > 0 {
		q.Set("year", strconv.Itoa(f.Year))
	}
	if f.Module != "" {
		q.Set("module", f.Module)
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	var out []Question
	_, err := c.call(ctx, Request{
		Method: http.MethodGet, Path: "/subjects/" + url.PathEscape(subjectID) + "/questions",
		Route: "/subjects/:id/questions", Query: q, Purpose: "questions",
	}, &out)
	return out, err
}

// SearchQuestions runs a full-text question search. It returns the page of
// results and the server's total count.
func (c *Client) SearchQuestions(ctx context.Context, p SearchParams) ([]Question, int, error) {
	q := url.Values{}
	if p.Query != "" {
		q.Set("search", p.Query)
	}
	if p.Subject != "" {
		q.Set("subject", p.Subject)
	}
	if p.Year > 0 {
		q.Set("year", strconv.Itoa(p.Year))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var out []Question
	env, err := c.call(ctx, Request{Method: http.MethodGet, Path: "/questions", Query: q, Purpose: "search"}, &out)
	if err != nil {
		return nil, 0, err
	}
	total := env.Count
	if total == 0 {
		total = len(out)
	}
	return out, total, nil
}
