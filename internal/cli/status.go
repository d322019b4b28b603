package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/qwatch/internal/client"
	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Discover the language server and fetch quotas once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		snap, err := fetchOnce(ctx)
		if err != nil {
			return err
		}
		if handled, err := emit(snap); handled {
			return err
		}
		fmt.Print(renderSnapshot(snap))
		return nil
	},
}

// fetchOnce runs one discovery and one quota fetch, synchronously.
func fetchOnce(ctx context.Context) (*quota.Snapshot, error) {
	svc, err := newDiscoveryService()
	if err != nil {
		return nil, err
	}
	ep, err := svc.Discover(ctx)
	if err != nil {
		return nil, discoveryFailure(svc, err)
	}

	poller := client.New(*ep)
	snapCh := make(chan quota.Snapshot, 1)
	errCh := make(chan error, 1)
	poller.OnSnapshot(func(s quota.Snapshot) {
		select {
		case snapCh <- s:
		default:
		}
	})
	poller.OnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	poller.QuickRefresh()

	select {
	case snap := <-snapCh:
		return &snap, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 60*time.Second, "overall timeout for discovery and fetch")
	rootCmd.AddCommand(statusCmd)
}
