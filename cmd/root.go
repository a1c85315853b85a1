package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/config"
	"github.com/pyqdeck/pyqdeck/internal/store"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var rootCmd = &cobra.Command{
	Use:           "pyqdeck",
	Short:         "Study previous-year exam questions",
	Long:          "PYQDeck: browse previous-year questions by branch, semester and subject, and track your practice.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, theme.Err.Render("error:"), err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides PYQDECK_DB env var)")
	rootCmd.PersistentFlags().String("api", "", "Backend base URL (overrides PYQDECK_API_URL env var)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file to load")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, guestCmd, whoamiCmd, refreshCmd, passwordCmd)
	rootCmd.AddCommand(branchesCmd, selectCmd, questionsCmd, searchCmd)
	rootCmd.AddCommand(markCmd, notesCmd, progressCmd)
	rootCmd.AddCommand(prefsCmd, onboardingCmd)
	rootCmd.AddCommand(explainCmd, eventsCmd, resetCmd, devserverCmd, versionCmd)
}

// loadConfig reads the environment and applies the --db and --api flags,
// which take the highest priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		if err := store.EnsureDir(p); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		cfg.DBPath = p
	}
	if u, _ := cmd.Flags().GetString("api"); u != "" {
		cfg.API.BaseURL = u
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

type appRunFunc func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error

// withApp builds the App around fn. When resolve is set the persisted
// session is bootstrapped first. Pending progress syncs are flushed before
// the App closes and any sync warnings are printed.
func withApp(resolve bool, fn appRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
		slog.SetDefault(logger)

		a, err := app.New(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		if resolve {
			if _, serr := a.Start(ctx); serr != nil {
				logger.Warn("could not restore session", "error", serr)
			}
		}

		err = fn(ctx, cmd, args, a)

		if ferr := a.Progress.Flush(ctx); ferr != nil {
			logger.Warn("flush progress", "error", ferr)
		}
		printWarnings(cmd.ErrOrStderr(), a.Warnings())
		return err
	}
}

func printWarnings(w io.Writer, warnings []*apperr.SyncWarning) {
	for _, sw := range warnings {
		fmt.Fprintln(w, theme.Warn.Render("warning:"), sw.Error())
	}
}
