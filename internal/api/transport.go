package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pyqdeck/pyqdeck/internal/apperr"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Request describes one backend call.
type Request struct {
	Method string
	Path   string

	// Route is Path with identifiers replaced by placeholders, e.g.
	// "/branches/:id". It keeps secrets and IDs out of the event log.
	Route string

	Query url.Values
	Body  any

	// Token, when non-empty, is sent as a bearer token.
	Token string

	// Anonymous requests never carry the stored token.
	Anonymous bool

	RequestID string
	Purpose   string
}

func (r *Request) op() string {
	return r.Method + " " + r.route()
}

func (r *Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Response is a decoded backend response.
type Response struct {
	Status   int
	Envelope Envelope
}

// Caller executes backend requests. Implementations return a non-nil
// Response whenever the server answered with a JSON envelope, even if the
// call failed.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// StatusError is a failure reported by the server: a non-2xx status or a
// success:false envelope.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string { return e.Message }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// httpCaller implements Caller over net/http.
type httpCaller struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

func (h *httpCaller) Call(ctx context.Context, req *Request) (*Response, error) {
	op := req.op()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &apperr.NetworkError{Op: op, Err: fmt.Errorf("encode body: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	u := strings.TrimRight(h.baseURL, "/") + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if h.userAgent != "" {
		httpReq.Header.Set("User-Agent", h.userAgent)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if !ok {
			return nil, &apperr.NetworkError{
				Op:     op,
				Status: resp.StatusCode,
				Err:    &StatusError{Status: resp.StatusCode, Message: genericStatusMessage(resp.StatusCode)},
			}
		}
		return nil, &apperr.NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("non-JSON response: %w", err)}
	}

	out := &Response{Status: resp.StatusCode, Envelope: env}
	if !ok || !env.Success {
		return out, &apperr.NetworkError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    &StatusError{Status: resp.StatusCode, Message: env.failureMessage(resp.StatusCode)},
		}
	}
	return out, nil
}
