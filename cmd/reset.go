package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Sign out and delete all local data",
	Long: "Factory reset: signs out, removes every stored preference, onboarding flag, " +
		"recent search, practice record and cached explanation. Server-side progress is kept.",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return &apperr.ValidationError{Field: "yes", Reason: "must be set to confirm the reset"}
		}
		if err := a.SignOut(ctx, true); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("All local data removed."))
		return nil
	}),
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm")
}
