package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/progress"
	"github.com/pyqdeck/pyqdeck/internal/ui/components"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var markCmd = &cobra.Command{
	Use:       "mark <question-id> <not_started|practiced|mastered>",
	Short:     "Set the practice status of a question",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(progress.NotStarted), string(progress.Practiced), string(progress.Mastered)},
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		status, err := progress.ParseStatus(args[1])
		if err != nil {
			return err
		}
		if err := a.Progress.UpdateStatus(ctx, args[0], status); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", theme.ID.Render(args[0]), theme.Status(string(status)))
		return nil
	}),
}

var notesCmd = &cobra.Command{
	Use:   "notes <question-id> [text]",
	Short: "Show or set your notes on a question (notes stay on this device)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			notes := a.Progress.Entry(args[0]).Notes
			if notes == "" {
				fmt.Fprintln(out, theme.Hint.Render("No notes."))
				return nil
			}
			fmt.Fprintln(out, notes)
			return nil
		}
		if err := a.Progress.UpdateNotes(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(out, theme.OK.Render("Notes saved."))
		return nil
	}),
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show practice progress for the selected subject, or overall",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()
		label := "Overall"
		var ids []string

		if sel := a.Navigator.Snapshot(); sel.Subject != nil {
			qs, err := a.Navigator.SelectSubject(ctx, *sel.Subject, sel.Filters)
			if err != nil {
				return err
			}
			label = sel.Subject.Name
			for _, q := range qs {
				ids = append(ids, q.ID)
			}
		}

		st := a.Progress.Stats(ids)
		if st.Total() == 0 {
			fmt.Fprintln(out, theme.Hint.Render("Nothing practiced yet."))
			return nil
		}
		bar := components.NewProgressBar(label, st.Total(), 60,
			components.Segment{Count: st.Mastered, Color: theme.Mastered},
			components.Segment{Count: st.Practiced, Color: theme.Practiced},
		)
		fmt.Fprintln(out, bar.View())
		fmt.Fprintf(out, "%s %d   %s %d   %s %d\n",
			theme.Status(string(progress.Mastered)), st.Mastered,
			theme.Status(string(progress.Practiced)), st.Practiced,
			theme.Status(string(progress.NotStarted)), st.NotStarted,
		)

		if verbose, _ := cmd.Flags().GetBool("list"); verbose {
			data := a.Progress.Data()
			keys := make([]string, 0, len(data))
			for id := range data {
				keys = append(keys, id)
			}
			slices.Sort(keys)
			for _, id := range keys {
				e := data[id]
				fmt.Fprintf(out, "  %s  %s  %s\n", theme.ID.Render(id), theme.Status(string(e.Status)),
					theme.Subtitle.Render(e.UpdatedAt.Local().Format("2006-01-02 15:04")))
			}
		}
		return nil
	}),
}

var progressClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all practice data here and on the server",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return &apperr.ValidationError{Field: "yes", Reason: "must be set to confirm clearing practice data"}
		}
		err := a.Progress.ClearPracticeData(ctx)
		var sw *apperr.SyncWarning
		if errors.As(err, &sw) {
			// Local data is cleared; the warning is printed after the command.
			err = nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.OK.Render("Practice data cleared."))
		return nil
	}),
}

func init() {
	progressCmd.Flags().BoolP("list", "l", false, "List every tracked question")
	progressClearCmd.Flags().Bool("yes", false, "Confirm")
	progressCmd.AddCommand(progressClearCmd)
}
