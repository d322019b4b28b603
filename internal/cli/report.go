package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

var reportRaw bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a markdown usage report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		snap, err := fetchOnce(ctx)
		if err != nil {
			return err
		}
		md := buildReportMarkdown(snap)
		if reportRaw || !colorEnabled() {
			fmt.Print(md)
			return nil
		}

		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(terminalWidth()),
		)
		if err != nil {
			fmt.Print(md)
			return nil
		}
		out, err := r.Render(md)
		if err != nil {
			fmt.Print(md)
			return nil
		}
		fmt.Print(out)
		return nil
	},
}

func buildReportMarkdown(snap *quota.Snapshot) string {
	var b strings.Builder
	b.WriteString("# Usage Report\n\n")
	if snap.Plan != "" {
		fmt.Fprintf(&b, "Plan: **%s**\n\n", snap.Plan)
	}
	fmt.Fprintf(&b, "Generated %s\n\n", snap.TakenAt.Local().Format(time.RFC1123))
	b.WriteString("| Model | Remaining | Resets |\n")
	b.WriteString("|-------|-----------|--------|\n")
	now := time.Now()
	for _, m := range snap.Models {
		resets := "never"
		if m.ResetsEventually() {
			resets = "in " + formatCountdown(m.ResetAt.Sub(now))
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", m.Label, m.RemainingDisplay, resets)
	}
	return b.String()
}

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print raw markdown without terminal rendering")
	rootCmd.AddCommand(reportCmd)
}
