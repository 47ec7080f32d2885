package action

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/protocol"
)

// DefaultCommandTimeout bounds a single system command.
const DefaultCommandTimeout = 30 * time.Second

// Runner executes one command line and reports its combined output and
// exit code. A non-nil error with exitCode >= 0 means the command ran and
// failed; exitCode < 0 means it could not be run to completion.
type Runner interface {
	Run(ctx context.Context, command string) (output string, exitCode int, err error)
}

// ShellRunner runs commands through a shell.
type ShellRunner struct {
	Shell  string
	Dir    string
	Limits Limits
}

func NewShellRunner(shell, dir string, limits Limits) *ShellRunner {
	if strings.TrimSpace(shell) == "" {
		shell = "sh"
	}
	if limits.MaxLines <= 0 {
		limits.MaxLines = 2000
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = 51200
	}
	return &ShellRunner{Shell: shell, Dir: dir, Limits: limits}
}

func (r *ShellRunner) Run(ctx context.Context, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)
	cmd.Dir = r.Dir
	// Background children may hold the pipe open after the shell is killed.
	cmd.WaitDelay = 2 * time.Second

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	out, _, _ := ApplyOutputLimits(combined.String(), r.Limits)
	if runErr == nil {
		return out, 0, nil
	}
	var ee *exec.ExitError
	if errors.As(runErr, &ee) && ee.ExitCode() >= 0 {
		return out, ee.ExitCode(), runErr
	}
	return out, -1, runErr
}

// CommandHandler runs the utterance content as a system command under a
// hard timeout.
type CommandHandler struct {
	Runner   Runner
	Timeout  time.Duration
	Denylist []string
	Log      *zap.Logger
}

func (h *CommandHandler) Handle(ctx context.Context, content string) (string, error) {
	if h.isDenied(content) {
		return "", protocol.Errorf(protocol.KindAccessDenied, "command denied by policy")
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	out, code, err := h.Runner.Run(runCtx, content)
	if h.Log != nil {
		h.Log.Info("command finished",
			zap.String("command", content),
			zap.Int("exit_code", code),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", protocol.Wrap(protocol.KindCommandTimedOut, runCtx.Err(), "command timed out after %s", timeout)
	}
	if err != nil {
		if code >= 0 {
			return "", protocol.Wrap(protocol.KindCommandFailed, err, "command failed with exit code %d:\n%s", code, out)
		}
		return "", protocol.Wrap(protocol.KindCommandFailed, err, "command could not be run: %v", err)
	}
	return "executed: " + out, nil
}

func (h *CommandHandler) isDenied(command string) bool {
	lower := strings.ToLower(command)
	for _, rule := range h.Denylist {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(rule)) {
			return true
		}
	}
	return false
}
