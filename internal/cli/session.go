package cli

import (
	"fmt"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/discovery"
	"github.com/Dicklesworthstone/qwatch/internal/locator"
	"github.com/Dicklesworthstone/qwatch/internal/platform"
	"github.com/Dicklesworthstone/qwatch/internal/probe"
)

// newDiscoveryService wires strategy, locator and prober from the
// loaded configuration.
func newDiscoveryService() (*discovery.Service, error) {
	var platOpts []platform.Option
	if cfg.Monitor.ProcessName != "" {
		platOpts = append(platOpts, platform.WithProcessName(cfg.Monitor.ProcessName))
	}
	strategy, err := platform.Detect(platOpts...)
	if err != nil {
		return nil, err
	}

	var opts []locator.Option
	if cfg.Monitor.MaxAttempts > 0 || cfg.Monitor.AttemptDelaySeconds > 0 {
		attempts := cfg.Monitor.MaxAttempts
		if attempts <= 0 {
			attempts = locator.DefaultMaxAttempts
		}
		delay := locator.DefaultAttemptDelay
		if cfg.Monitor.AttemptDelaySeconds > 0 {
			delay = time.Duration(cfg.Monitor.AttemptDelaySeconds) * time.Second
		}
		opts = append(opts, locator.WithRetry(attempts, delay))
	}

	loc := locator.New(strategy, opts...)
	return discovery.New(loc, probe.New()), nil
}

// discoveryFailure decorates a terminal discovery error with the
// platform requirements so users know what to fix.
func discoveryFailure(svc *discovery.Service, err error) error {
	return fmt.Errorf("%w\n\nRequirements:\n%s", err, renderRequirements(svc.Requirements()))
}
