package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print preferences as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		b, err := json.MarshalIndent(a.Prefs.Get(), "", "  ")
		if err != nil {
			return err
		}
		if len(args) == 1 {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(b, &fields); err != nil {
				return err
			}
			v, ok := fields[args[0]]
			if !ok {
				return fmt.Errorf("unknown preference %q", args[0])
			}
			b = v
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}),
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one preference; value is JSON, or a plain string",
	Example: `  pyqdeck prefs set language Hindi
  pyqdeck prefs set notificationsEnabled false
  pyqdeck prefs set preferredContent '["pyqs","notes"]'`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		var value any = args[1]
		if json.Valid([]byte(args[1])) {
			value = json.RawMessage(args[1])
		}
		if err := a.Prefs.Update(ctx, args[0], value); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Saved"), args[0])
		return nil
	}),
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default preferences",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		if err := a.Prefs.ResetToDefaults(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Preferences reset."))
		return nil
	}),
}

var onboardingCmd = &cobra.Command{
	Use:   "onboarding",
	Short: "Onboarding and personalization flags",
}

var onboardingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether onboarding and personalization are complete",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, theme.Field("Onboarding", yesNo(a.Prefs.OnboardingCompleted())))
		fmt.Fprintln(out, theme.Field("Personalized", yesNo(a.Prefs.PersonalizationCompleted())))
		return nil
	}),
}

var onboardingCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark onboarding (or personalization) complete",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		if p, _ := cmd.Flags().GetBool("personalization"); p {
			return a.Prefs.CompletePersonalization(ctx)
		}
		return a.Prefs.CompleteOnboarding(ctx)
	}),
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	onboardingCompleteCmd.Flags().Bool("personalization", false, "Mark personalization complete instead")

	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsResetCmd)
	onboardingCmd.AddCommand(onboardingStatusCmd, onboardingCompleteCmd)
}
