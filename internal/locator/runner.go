package locator

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner abstracts OS command execution so detection logic can be
// tested against canned output.
type CommandRunner interface {
	// Run executes a command with a hard timeout and returns its
	// combined output. Output is returned even when err is non-nil;
	// stderr text is what carries tool-missing signatures.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)

	// LookPath resolves a tool name on PATH.
	LookPath(name string) (string, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// commandFailureText merges error and output text for signature
// matching. grep-style tools exit non-zero on empty matches, so exit
// status alone says nothing.
func commandFailureText(out string, err error) string {
	if err == nil {
		return out
	}
	return strings.TrimSpace(err.Error() + "\n" + out)
}
