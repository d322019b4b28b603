package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/qwatch/internal/client"
	"github.com/Dicklesworthstone/qwatch/internal/config"
	"github.com/Dicklesworthstone/qwatch/internal/history"
	"github.com/Dicklesworthstone/qwatch/internal/monitor"
	"github.com/Dicklesworthstone/qwatch/internal/quota"
	"github.com/Dicklesworthstone/qwatch/internal/tui"
)

var (
	watchInterval time.Duration
	watchRecord   bool
	watchPlain    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll quotas continuously with a live dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		svc, err := newDiscoveryService()
		if err != nil {
			return err
		}
		mon := monitor.New(svc)
		if err := mon.Connect(ctx); err != nil {
			return discoveryFailure(svc, err)
		}
		defer mon.Stop()

		interval := watchInterval
		if interval == 0 {
			interval = cfg.Interval()
		}

		var store *history.Store
		if watchRecord || cfg.History.Enabled {
			store, err = history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()
		}

		events := make(chan tui.Event, 16)
		send := func(ev tui.Event) {
			// Drop under backpressure; the dashboard only needs the
			// latest state.
			select {
			case events <- ev:
			default:
			}
		}
		poller := mon.Poller()
		poller.OnSnapshot(func(s quota.Snapshot) {
			if store != nil {
				if err := store.Record(s); err != nil {
					fmt.Fprintf(os.Stderr, "history: %v\n", err)
				}
			}
			send(tui.SnapshotEvent{Snapshot: s})
		})
		poller.OnError(func(err error) { send(tui.ErrorEvent{Err: err}) })
		poller.OnStatus(func(st client.Status) { send(tui.StatusEvent{Status: st}) })

		// Live interval reload when the config file changes on disk.
		stopWatch, werr := config.Watch(cfgFile, func(next *config.Config) {
			if watchInterval == 0 && next.Interval() != interval {
				interval = next.Interval()
				poller.StartPolling(interval)
			}
		})
		if werr == nil {
			defer stopWatch()
		}

		mon.Start(interval)

		if !watchPlain && isatty.IsTerminal(os.Stdout.Fd()) {
			return tui.Run(ctx, events, poller.QuickRefresh)
		}
		return streamEvents(ctx, events)
	},
}

// streamEvents is the non-TTY watch surface: one line per update.
func streamEvents(ctx context.Context, events <-chan tui.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev := ev.(type) {
			case tui.SnapshotEvent:
				printSnapshotLine(ev.Snapshot)
			case tui.ErrorEvent:
				fmt.Fprintf(os.Stderr, "%s error: %v\n", time.Now().Format(time.RFC3339), ev.Err)
			}
		}
	}
}

func printSnapshotLine(s quota.Snapshot) {
	fmt.Printf("%s", s.TakenAt.Format(time.RFC3339))
	for _, m := range s.Models {
		fmt.Printf("  %s=%s", m.ID, m.RemainingDisplay)
	}
	fmt.Println()
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "polling interval (default from config, 60s)")
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "record snapshots to the history database")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "line output even on a TTY")
	rootCmd.AddCommand(watchCmd)
}
