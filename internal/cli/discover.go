package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	discoverTimeout   time.Duration
	discoverShowToken bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the language server endpoint and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		svc, err := newDiscoveryService()
		if err != nil {
			return err
		}
		ep, err := svc.Discover(ctx)
		if err != nil {
			return discoveryFailure(svc, err)
		}

		token := redactToken(ep.Token)
		if discoverShowToken {
			token = ep.Token
		}
		out := struct {
			SecurePort   int    `json:"secure_port" yaml:"secure_port"`
			FallbackPort int    `json:"fallback_port" yaml:"fallback_port"`
			Token        string `json:"token" yaml:"token"`
		}{ep.SecurePort, ep.FallbackPort, token}

		if handled, err := emit(out); handled {
			return err
		}
		fmt.Printf("secure port:    %d\n", out.SecurePort)
		fmt.Printf("fallback port:  %d\n", out.FallbackPort)
		fmt.Printf("token:          %s\n", out.Token)
		return nil
	},
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 30*time.Second, "discovery timeout")
	discoverCmd.Flags().BoolVar(&discoverShowToken, "show-token", false, "print the CSRF token unredacted")
	rootCmd.AddCommand(discoverCmd)
}
