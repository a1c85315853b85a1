package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/explain"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var explainCmd = &cobra.Command{
	Use:   "explain <question-id>",
	Short: "Explain how to answer a question (needs an LLM API key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()

		if all, _ := cmd.Flags().GetBool("forget-all"); all {
			n, err := a.Explain.ForgetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d cached explanations\n", theme.OK.Render("Removed"), n)
			return nil
		}
		if len(args) == 0 {
			return errors.New("question id required")
		}
		id := args[0]

		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			if err := a.Explain.Forget(ctx, id); err != nil {
				return err
			}
		}

		// Cached explanations need neither the catalog nor a provider.
		if exp, ok := a.Explain.Cached(ctx, id); ok {
			printExplanation(cmd, exp, true)
			return nil
		}

		q, err := a.Question(ctx, id)
		if err != nil {
			return err
		}
		exp, cached, err := a.Explain.Explain(ctx, q)
		if errors.Is(err, explain.ErrDisabled) {
			return fmt.Errorf("%w: set PYQDECK_LLM_PROVIDER and an API key (e.g. ANTHROPIC_API_KEY)", err)
		}
		if err != nil {
			return err
		}
		printExplanation(cmd, exp, cached)
		return nil
	}),
}

func printExplanation(cmd *cobra.Command, exp *explain.Explanation, cached bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, theme.Title.Render("Explanation"), theme.Subtitle.Render(exp.QuestionID))
	fmt.Fprintln(out, exp.Summary)
	if len(exp.Steps) > 0 {
		fmt.Fprintln(out)
		for i, s := range exp.Steps {
			fmt.Fprintf(out, "%s %s\n", theme.ID.Render(fmt.Sprintf("%d.", i+1)), s)
		}
	}
	if len(exp.KeyConcepts) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, theme.Field("Key concepts", fmt.Sprint(exp.KeyConcepts)))
	}
	src := exp.Model
	if cached {
		src += " (cached)"
	}
	fmt.Fprintln(out, theme.Hint.Render(src))
}

func init() {
	explainCmd.Flags().Bool("refresh", false, "Discard the cached explanation and generate a new one")
	explainCmd.Flags().Bool("forget-all", false, "Remove every cached explanation")
}
