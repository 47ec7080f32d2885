package action

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/protocol"
)

// Mode selects how a sink stores an entry.
type Mode int

const (
	// ModeCreate writes every entry to a new second-stamped file.
	ModeCreate Mode = iota
	// ModeAppend appends entries to one file per day.
	ModeAppend
)

const (
	createLayout = "2006-01-02-150405"
	dayLayout    = "2006-01-02"
	entryLayout  = "150405"

	maxNameAttempts = 100
)

var (
	ruleDash   = strings.Repeat("-", 40)
	ruleDouble = strings.Repeat("=", 40)
)

// Sink is a category directory that receives text entries.
type Sink struct {
	Dir  string
	Mode Mode
	Rule string
	Now  func() time.Time
}

// Write stores content and returns the file it went to.
func (s *Sink) Write(content string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create sink dir %s: %w", s.Dir, err)
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	rule := s.Rule
	if rule == "" {
		rule = ruleDash
	}

	if s.Mode == ModeAppend {
		path := filepath.Join(s.Dir, now.Format(dayLayout)+".txt")
		entry := "\nEntry at " + now.Format(entryLayout) + ":\n" + content + "\n" + rule + "\n"
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		if _, err := f.WriteString(entry); err != nil {
			f.Close()
			return "", fmt.Errorf("append %s: %w", path, err)
		}
		return path, f.Close()
	}

	stamp := now.Format(createLayout)
	body := content + "\n" + rule + "\n"
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		name := stamp + ".txt"
		if attempt > 1 {
			name = stamp + "-" + strconv.Itoa(attempt) + ".txt"
		}
		path := filepath.Join(s.Dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := f.WriteString(body); err != nil {
			f.Close()
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free file name for %s in %s", stamp, s.Dir)
}

// NoteHandler persists the content of an utterance into a sink.
type NoteHandler struct {
	Sink   *Sink
	Detail string
	Log    *zap.Logger
}

func (h *NoteHandler) Handle(_ context.Context, content string) (string, error) {
	path, err := h.Sink.Write(content)
	if err != nil {
		return "", protocol.Wrap(protocol.KindFileWriteFailure, err, "could not store entry in %s", filepath.Base(h.Sink.Dir))
	}
	if h.Log != nil {
		h.Log.Info("entry stored", zap.String("path", path), zap.Int("bytes", len(content)))
	}
	return h.Detail, nil
}
