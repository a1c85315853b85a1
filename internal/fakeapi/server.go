// Package fakeapi is an in-memory implementation of the PYQDeck REST API
// for local development and tests.
package fakeapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Prefix is the path prefix every route is mounted under.
const Prefix = "/api/v1"

// Config tunes the fake backend.
type Config struct {
	// Secret signs issued tokens.
	Secret string

	// TokenTTL is the lifetime of an issued token.
	TokenTTL time.Duration

	// RefreshWindow is how long after issue an expired token can still be
	// exchanged at /auth/refresh.
	RefreshWindow time.Duration
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Secret:        "pyqdeck-dev-secret",
		TokenTTL:      time.Hour,
		RefreshWindow: 7 * 24 * time.Hour,
	}
}

type fault struct {
	status  int
	message string
	times   int
}

// Server holds the fake backend's state.
type Server struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	accounts    map[string]*account // by id
	byEmail     map[string]string   // email -> id
	resetTokens map[string]string   // reset token -> id
	catalog     *Catalog
	faults      map[string]*fault // "METHOD /path"
	hits        map[string]int
}

// New creates a Server seeded with catalog c. A nil c uses SampleCatalog.
func New(cfg Config, c *Catalog, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Secret == "" {
		cfg.Secret = def.Secret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = def.RefreshWindow
	}
	if c == nil {
		c = SampleCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		accounts:    make(map[string]*account),
		byEmail:     make(map[string]string),
		resetTokens: make(map[string]string),
		catalog:     c,
		faults:      make(map[string]*fault),
		hits:        make(map[string]int),
	}
}

// Handler returns the HTTP handler serving every route under Prefix.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.countAndFault)

	r.Route(Prefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/refresh", s.refresh)
			r.Post("/forgotpassword", s.forgotPassword)
			r.Put("/resetpassword/{token}", s.resetPassword)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.me)
				r.Put("/updatepassword", s.updatePassword)
				r.Put("/progress", s.updateProgress)
			})
		})

		r.Get("/branches", s.listBranches)
		r.Get("/branches/{id}", s.getBranch)
		r.Get("/branches/{id}/semesters", s.branchSemesters)
		r.Get("/semesters/{id}", s.getSemester)
		r.Get("/semesters/{id}/subjects", s.semesterSubjects)
		r.Get("/subjects/{id}", s.getSubject)
		r.Get("/subjects/{id}/questions", s.subjectQuestions)
		r.Get("/questions", s.searchQuestions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "Route not found")
	})
	return r
}

// FailNext makes the next n requests to method+path (path without Prefix,
// e.g. "/auth/me") answer with status and message.
func (s *Server) FailNext(method, path string, status int, message string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+Prefix+path] = &fault{status: status, message: message, times: n}
}

// Hits returns how many requests reached method+path (path without Prefix).
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+Prefix+path]
}

// TotalHits returns the number of requests served.
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		n += h
	}
	return n
}

func (s *Server) countAndFault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.hits[key]++
		f := s.faults[key]
		var injected *fault
		if f != nil && f.times > 0 {
			f.times--
			injected = &fault{status: f.status, message: f.message}
		}
		s.mu.Unlock()

		if injected != nil {
			fail(w, injected.status, injected.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("fakeapi request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

// --- envelope helpers ---

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
