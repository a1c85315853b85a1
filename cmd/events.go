package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyqdeck/pyqdeck/internal/llm"
	"github.com/pyqdeck/pyqdeck/internal/store"
	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded backend and LLM requests",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent request events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kind, _ := cmd.Flags().GetString("kind")
		failed, _ := cmd.Flags().GetBool("failed")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.EventRepo().Query(cmd.Context(), store.QueryOpts{Kind: kind, Limit: limit})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No events found.")
			return nil
		}

		fmt.Fprintf(out, "%-5s  %-19s  %-4s  %-10s  %-32s  %-6s  %-7s  %s\n",
			"ID", "Timestamp", "Kind", "Method", "Target", "Status", "Ms", "OK")
		fmt.Fprintln(out, strings.Repeat("─", 100))

		for _, e := range events {
			if failed && e.Success {
				continue
			}
			ok := theme.OK.Render("✓")
			if !e.Success {
				ok = theme.Err.Render("✗")
			}
			fmt.Fprintf(out, "%-5d  %-19s  %-4s  %-10s  %-32s  %-6d  %-7d  %s\n",
				e.ID,
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Kind,
				truncate(e.Method, 10),
				truncate(e.Target, 32),
				e.Status,
				e.LatencyMs,
				ok,
			)
			if !e.Success && e.ErrorMessage != "" {
				fmt.Fprintln(out, "       "+theme.Hint.Render(truncate(e.ErrorMessage, 90)))
			}
		}
		return nil
	},
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show call counts, failures and latency per endpoint or model",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.EventRepo().Stats(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("query stats: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(stats) == 0 {
			fmt.Fprintln(out, "No requests recorded yet.")
			return nil
		}

		fmt.Fprintf(out, "%-4s  %-32s  %6s  %6s  %8s  %10s  %10s\n",
			"Kind", "Target", "Calls", "Failed", "Avg Ms", "Input", "Output")
		fmt.Fprintln(out, strings.Repeat("─", 88))

		var calls, failures, in, outTok int
		for _, st := range stats {
			fmt.Fprintf(out, "%-4s  %-32s  %6d  %6d  %8d  %10d  %10d\n",
				st.Kind, truncate(st.Target, 32), st.Calls, st.Failures, st.AvgLatencyMs, st.InputTokens, st.OutputTokens)
			calls += st.Calls
			failures += st.Failures
			in += st.InputTokens
			outTok += st.OutputTokens
		}

		fmt.Fprintln(out, strings.Repeat("─", 88))
		fmt.Fprintf(out, "%-4s  %-32s  %6d  %6d  %8s  %10d  %10d\n",
			"", "TOTAL", calls, failures, "", in, outTok)

		printCosts(out, stats)
		return nil
	},
}

// printCosts estimates LLM spend per model from recorded token usage.
func printCosts(out io.Writer, stats []store.EventStat) {
	var rows []store.EventStat
	for _, st := range stats {
		if st.Kind == store.KindLLM {
			rows = append(rows, st)
		}
	}
	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Estimated Cost (USD)")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	var total float64
	var unknown []string
	for _, st := range rows {
		cost := llm.LookupCost(st.Target)
		if cost == nil {
			unknown = append(unknown, st.Target)
			fmt.Fprintf(out, "%-40s  %10s\n", truncate(st.Target, 40), "?")
			continue
		}
		c := cost.Cost(st.InputTokens, st.OutputTokens)
		total += c
		fmt.Fprintf(out, "%-40s  %10s\n", truncate(st.Target, 40), formatCost(c))
	}

	fmt.Fprintln(out, strings.Repeat("─", 60))
	label := "TOTAL"
	if len(unknown) > 0 {
		label = "TOTAL (partial)"
	}
	fmt.Fprintf(out, "%-40s  %10s\n", label, formatCost(total))
	if len(unknown) > 0 {
		fmt.Fprintf(out, "\nPricing unavailable for: %s\n", strings.Join(unknown, ", "))
	}
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

// openStore opens the configured database without building the services.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func init() {
	eventsListCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	eventsListCmd.Flags().StringP("kind", "k", "", "Filter by kind (api, llm)")
	eventsListCmd.Flags().Bool("failed", false, "Only show failed requests")
	eventsStatsCmd.Flags().StringP("kind", "k", "", "Filter by kind (api, llm)")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
}
