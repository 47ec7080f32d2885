// Package logging builds the process logger: a console core on stderr and
// a per-run log file under the log directory.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileLayout names the per-run log file.
const FileLayout = "2006-01-02-1504"

// Options configures New.
type Options struct {
	// Dir receives the run's log file; empty logs to the console only.
	Dir     string
	Verbose bool
	// Console defaults to stderr.
	Console io.Writer
	Now     func() time.Time
}

// Logger is a zap logger together with the file it writes to.
type Logger struct {
	*zap.Logger
	Path string
	file *os.File
}

// New creates the logger. Level is info, debug when Verbose is set.
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	out := &Logger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", opts.Dir, err)
		}
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		out.Path = filepath.Join(opts.Dir, now().Format(FileLayout)+".log")
		f, err := os.OpenFile(out.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out.file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), level))
	}

	out.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return out, nil
}

// Close flushes the logger and closes the log file.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
