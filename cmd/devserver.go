package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/fakeapi"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run an in-memory backend for local development",
	Long: "Serves the PYQDeck REST API from memory with a small sample catalog. " +
		"Point the CLI at it with --api http://localhost:5000" + fakeapi.Prefix + ".",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		users, _ := cmd.Flags().GetStringArray("user")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg := fakeapi.DefaultConfig()
		cfg.TokenTTL, _ = cmd.Flags().GetDuration("token-ttl")
		if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
			cfg.Secret = secret
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := newLogger(cmd.ErrOrStderr(), level)

		fake := fakeapi.New(cfg, nil, logger)
		for _, u := range users {
			parts := strings.SplitN(u, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid --user %q, want name:email:password", u)
			}
			if _, err := fake.AddUser(parts[0], parts[1], parts[2]); err != nil {
				return fmt.Errorf("seed user %s: %w", parts[1], err)
			}
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           fake.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("devserver listening", "addr", addr, "prefix", fakeapi.Prefix, "users", len(users))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	devserverCmd.Flags().String("addr", ":5000", "Listen address")
	devserverCmd.Flags().StringArray("user", nil, "Seed an account as name:email:password (repeatable)")
	devserverCmd.Flags().String("secret", "", "Token signing secret")
	devserverCmd.Flags().Duration("token-ttl", time.Hour, "Lifetime of issued tokens")
	devserverCmd.Flags().BoolP("verbose", "v", false, "Log every request")
}
