// Package action implements the side effects behind each protocol prefix:
// category note sinks, the system command runner and the module loader.
package action

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/protocol"
)

// Category directories under the memory root.
const (
	DirOperator    = "to_operator"
	DirReflections = "reflections"
	DirDiary       = "diary"
	DirImages      = "images"
	DirMessages    = "messages"
	DirActions     = "actions"
)

// Categories lists every sink directory.
var Categories = []string{DirOperator, DirReflections, DirDiary, DirImages, DirMessages, DirActions}

// Options wires the handlers to the filesystem and the command runner.
type Options struct {
	WorkspaceDir string
	MemoryDir    string
	LogsDir      string

	CommandTimeout time.Duration
	Shell          string
	Denylist       []string
	Limits         Limits
	// Runner overrides the shell runner, mostly for tests.
	Runner Runner

	MaxLoadLength int
	Now           func() time.Time
	Log           *zap.Logger
}

// EnsureLayout creates the memory root and its category directories.
func EnsureLayout(memoryDir string) error {
	for _, c := range Categories {
		dir := filepath.Join(memoryDir, c)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Routes builds the full route table in protocol order.
func Routes(opts Options) ([]protocol.Route, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if err := EnsureLayout(opts.MemoryDir); err != nil {
		return nil, err
	}
	guard, err := NewPathGuard(opts.MemoryDir, opts.LogsDir)
	if err != nil {
		return nil, err
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewShellRunner(opts.Shell, opts.WorkspaceDir, opts.Limits)
	}
	maxLoad := opts.MaxLoadLength
	if maxLoad <= 0 {
		maxLoad = chunk.MaxContentLength
	}

	note := func(dir string, mode Mode, rule, detail string) *NoteHandler {
		return &NoteHandler{
			Sink:   &Sink{Dir: filepath.Join(opts.MemoryDir, dir), Mode: mode, Rule: rule, Now: opts.Now},
			Detail: detail,
			Log:    log.With(zap.String("sink", dir)),
		}
	}
	where := func(dir, name string) string {
		return "stores it in '" + filepath.ToSlash(filepath.Join(opts.MemoryDir, dir, name)) + "'"
	}

	return []protocol.Route{
		{
			Prefix:  protocol.PrefixOperatorMessage,
			Handler: note(DirOperator, ModeCreate, ruleDash, "message sent to operator"),
			Summary: "message to the operator",
			Effect:  where(DirOperator, "YYYY-MM-DD-HHMMSS.txt"),
			Reply:   "message sent to operator",
			Example: "Hi, how are you today?",
		},
		{
			Prefix:  protocol.PrefixReflection,
			Handler: note(DirReflections, ModeCreate, ruleDouble, "stored in memory"),
			Summary: "your own reflection",
			Effect:  where(DirReflections, "YYYY-MM-DD-HHMMSS.txt"),
			Reply:   "stored in memory",
			Example: "Thoughts addressed to myself...",
		},
		{
			Prefix:  protocol.PrefixDiary,
			Handler: note(DirDiary, ModeAppend, ruleDouble, "diary entry stored"),
			Summary: "diary entry",
			Effect:  where(DirDiary, "YYYY-MM-DD.txt") + " (appended to the day's file)",
			Reply:   "diary entry stored",
			Example: "Dear diary...",
		},
		{
			Prefix:  protocol.PrefixImageDescription,
			Handler: note(DirImages, ModeCreate, ruleDouble, "stored as image description"),
			Summary: "image description",
			Effect:  where(DirImages, "YYYY-MM-DD-HHMMSS.txt"),
			Reply:   "stored as image description",
			Example: "scene: a quiet lake at dawn",
		},
		{
			Prefix: protocol.PrefixCommand,
			Handler: &CommandHandler{
				Runner:   runner,
				Timeout:  opts.CommandTimeout,
				Denylist: opts.Denylist,
				Log:      log.With(zap.String("handler", "command")),
			},
			Summary: "system command",
			Effect:  fmt.Sprintf("runs it in a shell (timeout %s)", commandTimeout(opts.CommandTimeout)),
			Reply:   "executed: {output}",
			Example: "ls",
		},
		{
			Prefix:     protocol.PrefixLoad,
			AllowEmpty: true,
			Handler: &LoadHandler{
				Guard:       guard,
				BaseDir:     opts.WorkspaceDir,
				DefaultPath: opts.MemoryDir,
				MaxLength:   maxLoad,
				Log:         log.With(zap.String("handler", "load")),
			},
			Summary: "load a memory module (files under '" + filepath.ToSlash(opts.MemoryDir) + "' or '" + filepath.ToSlash(opts.LogsDir) + "')",
			Effect:  fmt.Sprintf("replies with the file content (up to %d characters)", maxLoad),
			Example: filepath.ToSlash(filepath.Join(opts.MemoryDir, DirReflections, "YYYY-MM-DD-HHMMSS.txt")),
		},
		{
			Prefix:  protocol.PrefixMessage,
			Handler: note(DirMessages, ModeCreate, ruleDash, "message stored"),
			Summary: "message kept in the messages module",
			Effect:  where(DirMessages, "YYYY-MM-DD-HHMMSS.txt"),
			Reply:   "message stored",
		},
		{
			Prefix:  protocol.PrefixActionLog,
			Handler: note(DirActions, ModeCreate, ruleDash, "action data stored"),
			Summary: "data kept in the actions module",
			Effect:  where(DirActions, "YYYY-MM-DD-HHMMSS.txt"),
			Reply:   "action data stored",
		},
	}, nil
}

func commandTimeout(d time.Duration) string {
	if d <= 0 {
		d = DefaultCommandTimeout
	}
	return d.String()
}
