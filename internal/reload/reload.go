// Package reload runs the external action that makes the proxy pick up a
// newly written ban file (by default `systemctl reload haproxy`).
package reload

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/shlex"
	"golang.org/x/time/rate"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

const (
	// DefaultCommand reloads HAProxy through systemd.
	DefaultCommand = "systemctl reload haproxy"
	// DefaultTimeout bounds a single reload invocation.
	DefaultTimeout = 30 * time.Second
	// maxOutput is how much command output is kept for error messages.
	maxOutput = 512
)

// Config describes the reload action.
type Config struct {
	// Command is split shell-style; it is executed directly, not via a shell.
	Command string
	// Timeout kills the command if it runs longer. Zero means DefaultTimeout.
	Timeout time.Duration
	// MinInterval spaces consecutive reloads. Reloads are delayed, never
	// dropped, so every ban still gets its own reload.
	MinInterval time.Duration
}

// Command is a Trigger that runs an external program.
type Command struct {
	name    string
	args    []string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *log.Logger
}

// Split parses a command line into program and arguments.
func Split(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse reload command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("reload command is empty")
	}
	return argv, nil
}

// NewCommand validates cfg and returns a ready Command.
func NewCommand(cfg Config, logger *log.Logger) (*Command, error) {
	argv, err := Split(cfg.Command)
	if err != nil {
		return nil, errkind.E(errkind.Config, "reload command", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Command{
		name:    argv[0],
		args:    argv[1:],
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// String returns the command line.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// Reload runs the command once and reports its exit status.
// A ban has already been persisted when this is called, so shutdown must not
// cut the reload short: the command runs detached from ctx cancellation,
// bounded only by the timeout.
func (c *Command) Reload(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Debug("reload pacing interrupted, reloading now", "err", err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, c.name, c.args...)
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return errkind.E(errkind.ExternalAction, "reload",
			fmt.Errorf("%s exited with code %d: %w (output: %q)", c.String(), exitCode, err, truncate(out)))
	}

	c.logger.Info("🔄 proxy reloaded", "command", c.String(), "took", elapsed.Round(time.Millisecond))
	return nil
}

func truncate(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		return s[:maxOutput] + "..."
	}
	return s
}
