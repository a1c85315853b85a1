package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/auth"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		email, _ := cmd.Flags().GetString("email")
		password, err := secret(cmd, "password", "Password: ")
		if err != nil {
			return err
		}
		s, err := a.Session.SignIn(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Signed in as"), s.Profile.Name)
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, err := secret(cmd, "password", "Password: ")
		if err != nil {
			return err
		}
		s, err := a.Session.SignUp(ctx, auth.SignUpInput{Name: name, Email: email, Password: password})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Welcome,"), s.Profile.Name)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and reset preferences",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		wipe, _ := cmd.Flags().GetBool("wipe")
		if err := a.SignOut(ctx, wipe); err != nil {
			return err
		}
		msg := "Signed out."
		if wipe {
			msg = "Signed out and removed all local data."
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render(msg))
		return nil
	}),
}

var guestCmd = &cobra.Command{
	Use:   "guest",
	Short: "Continue without an account (progress stays on this device)",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		if _, err := a.Session.ContinueAsGuest(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Continuing as guest."))
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		snap := a.Session.Snapshot()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, theme.Field("State", snap.State.String()))
		if p := snap.Session.Profile; p != nil {
			fmt.Fprintln(out, theme.Field("Name", p.Name))
			if p.Email != "" {
				fmt.Fprintln(out, theme.Field("Email", p.Email))
			}
			fmt.Fprintln(out, theme.Field("Completed", fmt.Sprint(len(p.CompletedQuestions))))
		}
		if exp := snap.Session.ExpiresAt; !exp.IsZero() {
			fmt.Fprintln(out, theme.Field("Token expiry", exp.Local().Format("2006-01-02 15:04")))
		}
		return nil
	}),
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the profile and reconcile progress",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		u, err := a.Session.RefreshProfile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d completed)\n", theme.OK.Render("Profile refreshed:"), u.Name, len(u.CompletedQuestions))
		return nil
	}),
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change or reset your password",
}

var passwordUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change the password of the signed-in account",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		current, err := secret(cmd, "current", "Current password: ")
		if err != nil {
			return err
		}
		next, err := secret(cmd, "new", "New password: ")
		if err != nil {
			return err
		}
		if err := a.Session.UpdatePassword(ctx, current, next); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Password updated."))
		return nil
	}),
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot <email>",
	Short: "Request a password reset email",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		msg, err := a.Session.ForgotPassword(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render(msg))
		return nil
	}),
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset <token>",
	Short: "Set a new password with a reset token and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		password, err := secret(cmd, "password", "New password: ")
		if err != nil {
			return err
		}
		s, err := a.Session.ResetPassword(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Password reset. Signed in as"), s.Profile.Name)
		return nil
	}),
}

// stdin is shared so consecutive prompts do not lose buffered input.
var stdin *bufio.Reader

// secret returns the value of flag, or reads one line from stdin when the
// flag is empty.
func secret(cmd *cobra.Command, flag, prompt string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	if stdin == nil {
		stdin = bufio.NewReader(cmd.InOrStdin())
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", flag, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	loginCmd.Flags().StringP("email", "e", "", "Account email")
	loginCmd.Flags().StringP("password", "p", "", "Account password (read from stdin when omitted)")

	registerCmd.Flags().StringP("name", "n", "", "Display name")
	registerCmd.Flags().StringP("email", "e", "", "Account email")
	registerCmd.Flags().StringP("password", "p", "", "Account password (read from stdin when omitted)")

	logoutCmd.Flags().Bool("wipe", false, "Also remove all local data (practice progress, cached explanations)")

	passwordUpdateCmd.Flags().String("current", "", "Current password")
	passwordUpdateCmd.Flags().String("new", "", "New password")
	passwordResetCmd.Flags().StringP("password", "p", "", "New password")

	passwordCmd.AddCommand(passwordUpdateCmd, passwordForgotCmd, passwordResetCmd)
}
