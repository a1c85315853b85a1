package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/app"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/catalog"
	"github.com/pyqdeck/pyqdeck/internal/progress"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		branches, err := a.Navigator.Branches(ctx)
		if err != nil {
			return err
		}
		current := a.Navigator.Snapshot().Branch
		out := cmd.OutOrStdout()
		for _, b := range branches {
			mark := " "
			if current != nil && current.ID == b.ID {
				mark = theme.OK.Render("*")
			}
			fmt.Fprintf(out, "%s %s  %s %s\n", mark, theme.ID.Render(b.ID), b.Name, theme.Subtitle.Render(b.Code))
		}
		return nil
	}),
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Choose what to study; selecting a level clears everything below it",
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		printSelection(cmd.OutOrStdout(), a.Navigator.Snapshot())
		return nil
	}),
}

var selectBranchCmd = &cobra.Command{
	Use:   "branch <id>",
	Short: "Select a branch and list its semesters",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		b, err := a.Client.Branch(ctx, args[0])
		if err != nil {
			return err
		}
		sems, err := a.Navigator.SelectBranch(ctx, *b)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, theme.Title.Render(b.Name))
		for _, s := range sems {
			fmt.Fprintf(out, "  %s  %s\n", theme.ID.Render(s.ID), s.Label())
		}
		return nil
	}),
}

var selectSemesterCmd = &cobra.Command{
	Use:   "semester <id>",
	Short: "Select a semester of the current branch and list its subjects",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		sem, err := a.Client.Semester(ctx, args[0])
		if err != nil {
			return err
		}
		subs, err := a.Navigator.SelectSemester(ctx, *sem)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, theme.Title.Render(sem.Label()))
		for _, s := range subs {
			fmt.Fprintf(out, "  %s  %s %s\n", theme.ID.Render(s.ID), s.Name, theme.Subtitle.Render(s.Code))
		}
		return nil
	}),
}

var selectSubjectCmd = &cobra.Command{
	Use:   "subject <id>",
	Short: "Select a subject of the current semester and list its questions",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		subj, err := a.Client.Subject(ctx, args[0])
		if err != nil {
			return err
		}
		qs, err := a.Navigator.SelectSubject(ctx, *subj, filtersFrom(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.Title.Render(subj.Name))
		printQuestions(cmd.OutOrStdout(), qs, a.Progress)
		return nil
	}),
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the questions of the selected subject",
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		sel := a.Navigator.Snapshot()
		if sel.Subject == nil {
			return &apperr.ValidationError{Field: "subject", Reason: "must be selected first (pyqdeck select subject <id>)"}
		}
		qs, err := a.Navigator.SelectSubject(ctx, *sel.Subject, filtersFrom(cmd))
		if err != nil {
			return err
		}
		printQuestions(cmd.OutOrStdout(), qs, a.Progress)
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search questions by text",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(true, func(ctx context.Context, cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()
		if clearRecent, _ := cmd.Flags().GetBool("clear-recent"); clearRecent {
			return a.Prefs.ClearRecentSearches(ctx)
		}
		if len(args) == 0 {
			for _, q := range a.Prefs.RecentSearches() {
				fmt.Fprintln(out, q)
			}
			return nil
		}

		p := api.SearchParams{Query: strings.TrimSpace(args[0])}
		p.Subject, _ = cmd.Flags().GetString("subject")
		p.Year, _ = cmd.Flags().GetInt("year")
		p.Page, _ = cmd.Flags().GetInt("page")
		p.Limit, _ = cmd.Flags().GetInt("limit")

		res, err := a.Navigator.Search(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, theme.Subtitle.Render(fmt.Sprintf("%d matching questions", res.Total)))
		printQuestions(out, res.Questions, a.Progress)
		return nil
	}),
}

func filtersFrom(cmd *cobra.Command) api.QuestionFilters {
	var f api.QuestionFilters
	f.Year, _ = cmd.Flags().GetInt("year")
	f.Module, _ = cmd.Flags().GetString("module")
	f.Type, _ = cmd.Flags().GetString("type")
	return f
}

func printSelection(w io.Writer, sel catalog.Selection) {
	none := theme.Hint.Render("none")
	branch, sem, subj := none, none, none
	if sel.Branch != nil {
		branch = sel.Branch.Name
	}
	if sel.Semester != nil {
		sem = sel.Semester.Label()
	}
	if sel.Subject != nil {
		subj = sel.Subject.Name
	}
	fmt.Fprintln(w, theme.Field("Branch", branch))
	fmt.Fprintln(w, theme.Field("Semester", sem))
	fmt.Fprintln(w, theme.Field("Subject", subj))
}

func printQuestions(w io.Writer, qs []api.Question, tr *progress.Tracker) {
	if len(qs) == 0 {
		fmt.Fprintln(w, theme.Hint.Render("No questions."))
		return
	}
	for _, q := range qs {
		meta := []string{}
		if q.Year != 0 {
			meta = append(meta, fmt.Sprint(q.Year))
		}
		if q.Marks != 0 {
			meta = append(meta, fmt.Sprintf("%d marks", q.Marks))
		}
		if q.Module != "" {
			meta = append(meta, "module "+q.Module)
		}
		fmt.Fprintf(w, "%s  %-12s %s\n    %s\n",
			theme.ID.Render(q.ID),
			theme.Status(string(tr.Entry(q.ID).Status)),
			theme.Subtitle.Render(strings.Join(meta, " · ")),
			q.Text,
		)
	}
}

func init() {
	for _, c := range []*cobra.Command{selectSubjectCmd, questionsCmd} {
		c.Flags().Int("year", 0, "Only questions from this exam year")
		c.Flags().String("module", "", "Only questions from this module")
		c.Flags().String("type", "", "Only questions of this type (e.g. short, long)")
	}

	searchCmd.Flags().String("subject", "", "Restrict to a subject ID")
	searchCmd.Flags().Int("year", 0, "Restrict to an exam year")
	searchCmd.Flags().Int("page", 1, "Result page")
	searchCmd.Flags().Int("limit", 20, "Results per page")
	searchCmd.Flags().Bool("clear-recent", false, "Forget recent searches")

	selectCmd.AddCommand(selectBranchCmd, selectSemesterCmd, selectSubjectCmd)
}
