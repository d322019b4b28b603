package cli

import (
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/qwatch/internal/history"
)

var (
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded quota snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		if historyPrune > 0 {
			n, err := store.Prune(time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d rows\n", n)
			return nil
		}

		entries, err := store.Recent(historyLimit)
		if err != nil {
			return err
		}
		if handled, err := emit(entries); handled {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no history recorded yet (run: qwatch watch --record)")
			return nil
		}
		for _, e := range entries {
			state := fmt.Sprintf("%d%%", e.Percentage)
			if e.Exhausted {
				state = "exhausted"
			}
			fmt.Printf("%s  %s %s\n",
				e.TakenAt.Local().Format("2006-01-02 15:04:05"),
				runewidth.FillRight(e.Label, 24),
				state,
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum rows to show")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete rows older than this duration and exit")
	rootCmd.AddCommand(historyCmd)
}
