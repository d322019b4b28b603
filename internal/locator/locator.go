// Package locator finds the running language server process and maps it
// to its candidate listening ports.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/platform"
)

const (
	// DefaultMaxAttempts bounds the detection retry loop.
	DefaultMaxAttempts = 3

	// DefaultAttemptDelay separates consecutive detection attempts.
	DefaultAttemptDelay = 2 * time.Second

	// processListTimeout bounds the process-listing command. CIM
	// queries on a cold Windows box can take several seconds.
	processListTimeout = 15 * time.Second

	// portListTimeout bounds the port-listing command.
	portListTimeout = 3 * time.Second
)

// Detection failure classes. ErrNotFound is the terminal outcome of an
// exhausted retry loop; ErrToolUnavailable means no supported
// introspection utility exists and retrying cannot help.
var (
	ErrNotFound        = errors.New("language server not found")
	ErrToolUnavailable = errors.New("port inspection tool unavailable")
)

// Candidate is the result of one successful detection: the parsed
// process record plus every loopback port the process is listening on,
// ascending. It only lives until discovery finishes probing.
type Candidate struct {
	Record platform.ProcessRecord
	Ports  []int
}

// Locator orchestrates a platform strategy to find the target process.
type Locator struct {
	strategy     platform.Strategy
	runner       CommandRunner
	selfPID      int
	maxAttempts  int
	attemptDelay time.Duration
}

// Option customizes a Locator.
type Option func(*Locator)

// WithRunner substitutes the command runner (used by tests).
func WithRunner(r CommandRunner) Option {
	return func(l *Locator) { l.runner = r }
}

// WithRetry overrides the attempt budget and delay.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(l *Locator) {
		l.maxAttempts = maxAttempts
		l.attemptDelay = delay
	}
}

// WithSelfPID overrides the pid used for the direct-child preference.
func WithSelfPID(pid int) Option {
	return func(l *Locator) { l.selfPID = pid }
}

// New creates a Locator for the given strategy.
func New(strategy platform.Strategy, opts ...Option) *Locator {
	l := &Locator{
		strategy:     strategy,
		runner:       ExecRunner{},
		selfPID:      os.Getpid(),
		maxAttempts:  DefaultMaxAttempts,
		attemptDelay: DefaultAttemptDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Detect runs the bounded detection loop. Each attempt lists processes,
// parses the best record and enumerates its listening ports. A
// tool-missing failure triggers the platform's structural fallback (if
// one remains) and retries the same attempt slot; any other recoverable
// condition waits attemptDelay and consumes an attempt.
func (l *Locator) Detect(ctx context.Context) (*Candidate, error) {
	if err := l.strategy.EnsurePortTool(l.runner.LookPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, err)
	}

	msgs := l.strategy.Messages()
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		cand, retryable, err := l.attempt(ctx)
		if err == nil {
			slog.Info("language server located",
				"pid", cand.Record.PID,
				"declared_port", cand.Record.DeclaredPort,
				"listening_ports", cand.Ports,
				"attempt", attempt,
			)
			return cand, nil
		}
		if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if retryable {
			// Structural fallback: switch the listing tool and redo
			// this attempt without consuming a slot.
			attempt--
			slog.Warn("process listing tool unavailable, demoting to legacy tool", "attempt", attempt+1)
			continue
		}
		slog.Debug("detection attempt failed",
			"attempt", attempt,
			"max_attempts", l.maxAttempts,
			"error", err,
		)
		if attempt < l.maxAttempts {
			select {
			case <-time.After(l.attemptDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, msgs.ProcessNotFound)
}

// attempt performs one logical detection pass. The bool result reports
// whether a structural fallback was applied and the pass should be
// repeated without consuming the attempt budget.
func (l *Locator) attempt(ctx context.Context) (*Candidate, bool, error) {
	msgs := l.strategy.Messages()

	name, args := l.strategy.ListProcessesCommand()
	out, err := l.runner.Run(ctx, processListTimeout, name, args...)
	if failure := commandFailureText(out, err); err != nil && platform.IsToolMissing(failure) {
		if l.strategy.SupportsToolFallback() && l.strategy.DemoteToLegacy() {
			return nil, true, fmt.Errorf("listing tool missing: %s", failure)
		}
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	record, ok := l.strategy.ParseProcessRecord(out, l.selfPID)
	if !ok {
		return nil, false, fmt.Errorf("%s", msgs.ProcessNotFound)
	}

	name, args = l.strategy.ListeningPortsCommand(record.PID)
	out, err = l.runner.Run(ctx, portListTimeout, name, args...)
	if err != nil && ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	ports := l.strategy.ParseListeningPorts(out)
	if len(ports) == 0 {
		return nil, false, fmt.Errorf("no listening ports for pid %d", record.PID)
	}

	return &Candidate{Record: record, Ports: ports}, false, nil
}

// Requirements returns the user-facing requirement text for this
// platform, for rendering alongside a terminal detection failure.
func (l *Locator) Requirements() []string {
	return l.strategy.Messages().Requirements
}
