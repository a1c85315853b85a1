// Package app is the composition root. It builds every service once per
// process and owns their lifecycles.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/auth"
	"github.com/pyqdeck/pyqdeck/internal/catalog"
	"github.com/pyqdeck/pyqdeck/internal/config"
	"github.com/pyqdeck/pyqdeck/internal/explain"
	"github.com/pyqdeck/pyqdeck/internal/llm"
	"github.com/pyqdeck/pyqdeck/internal/prefs"
	"github.com/pyqdeck/pyqdeck/internal/progress"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// Options holds optional dependencies. Zero values select the defaults
// derived from the Config.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// Provider overrides the LLM provider built from Config.LLM.
	Provider llm.Provider
}

// App wires the services together.
type App struct {
	Config *config.Config

	Store     *store.Store
	Events    store.EventRepo
	Client    *api.Client
	Vault     *auth.Vault
	Session   *auth.Manager
	Prefs     *prefs.Store
	Navigator *catalog.Navigator
	Progress  *progress.Tracker
	Explain   *explain.Service

	logger *slog.Logger

	warnMu   sync.Mutex
	warnings []*apperr.SyncWarning
}

// New opens the store and builds every service. Persisted preferences and
// progress are loaded; the session is resolved later by Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.EnsureDir(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("prepare database dir: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	kv := st.KV()
	events := st.EventRepo()

	a := &App{Config: cfg, Store: st, Events: events, logger: logger}

	a.Vault = auth.NewVault(kv, logger.With("component", "vault"))
	clientOpts := []api.Option{api.WithEvents(events), api.WithLogger(logger.With("component", "api"))}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	a.Client = api.New(cfg.API, a.Vault, clientOpts...)
	a.Session = auth.NewManager(a.Client, a.Vault, logger.With("component", "session"))

	a.Prefs = prefs.New(kv, logger.With("component", "prefs"))
	if err := a.Prefs.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	a.Navigator = catalog.New(a.Client, a.Prefs, logger.With("component", "catalog"))
	a.Navigator.Restore()

	a.Progress = progress.NewTracker(kv, a.Session, a.Client, cfg.Progress, logger.With("component", "progress"))
	if err := a.Progress.Load(ctx); err != nil {
		a.Progress.Close()
		st.Close()
		return nil, fmt.Errorf("load progress: %w", err)
	}
	a.Progress.OnWarning(a.recordWarning)
	a.Session.OnProfile(a.Progress.Reconcile)

	provider := opts.Provider
	if provider == nil && cfg.LLM.Enabled() {
		provider, err = llm.New(ctx, cfg.LLM, events, logger.With("component", "llm"))
		if err != nil {
			logger.Warn("LLM provider unavailable, explanations disabled", "error", err)
			provider = nil
		}
	}
	a.Explain = explain.NewService(provider, kv, cfg.Explain, logger.With("component", "explain"))

	return a, nil
}

// Start resolves the persisted session. For a signed-in user this fetches
// the profile, which reconciles local progress.
func (a *App) Start(ctx context.Context) (auth.State, error) {
	return a.Session.Bootstrap(ctx)
}

// SignOut flushes pending progress syncs, clears the session, and resets
// preferences to defaults. With wipe every persisted key is removed,
// including practice data and cached explanations.
func (a *App) SignOut(ctx context.Context, wipe bool) error {
	if err := a.Progress.Flush(ctx); err != nil {
		a.logger.Warn("flush before sign out", "error", err)
	}
	a.Session.SignOut(ctx)

	if !wipe {
		err := a.Prefs.ResetToDefaults(ctx)
		a.Navigator.Restore()
		return err
	}

	if err := a.Prefs.ResetAll(ctx); err != nil {
		return err
	}
	a.Navigator.Restore()
	return a.Progress.Load(ctx)
}

// Question resolves a question by ID from the session cache or the
// backend.
func (a *App) Question(ctx context.Context, id string) (api.Question, error) {
	return a.Navigator.FindQuestion(ctx, id)
}

// Warnings returns and clears the sync warnings recorded so far.
func (a *App) Warnings() []*apperr.SyncWarning {
	a.warnMu.Lock()
	defer a.warnMu.Unlock()
	w := a.warnings
	a.warnings = nil
	return w
}

func (a *App) recordWarning(w *apperr.SyncWarning) {
	a.warnMu.Lock()
	defer a.warnMu.Unlock()
	a.warnings = append(a.warnings, w)
}

// Close drains pending syncs, prunes the event log, and closes the store.
func (a *App) Close() error {
	a.Progress.Close()

	if keep := a.Config.EventRetention; keep > 0 {
		if err := a.Events.Prune(context.Background(), keep); err != nil {
			a.logger.Warn("prune events", "error", err)
		}
	}
	return a.Store.Close()
}
