package action

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/protocol"
)

// LoadHandler returns the content of a stored file inline. Only files under
// the guard's roots can be read.
type LoadHandler struct {
	Guard       *PathGuard
	BaseDir     string
	DefaultPath string
	MaxLength   int
	Log         *zap.Logger
}

func (h *LoadHandler) Handle(_ context.Context, content string) (string, error) {
	requested := content
	if requested == "" {
		requested = h.DefaultPath
	}
	maxLen := h.MaxLength
	if maxLen <= 0 {
		maxLen = chunk.MaxContentLength
	}

	resolved, err := h.Guard.Resolve(requested, h.BaseDir)
	if err != nil {
		if h.Log != nil {
			h.Log.Warn("load outside allowed roots", zap.String("path", requested), zap.Error(err))
		}
		return "", protocol.Wrap(protocol.KindAccessDenied, err,
			"access denied: %s is outside the allowed directories", requested)
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = fs.ErrInvalid
		}
		return "", protocol.Wrap(protocol.KindFileNotFound, err, "file %s does not exist or is not a file", requested)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", protocol.Wrap(protocol.KindFileReadFailure, err, "could not read file %s", requested)
	}
	defer f.Close()

	// utf8.UTFMax bytes per rune is the most maxLen runes can occupy.
	data, err := io.ReadAll(io.LimitReader(f, int64(maxLen*utf8.UTFMax)+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", protocol.Wrap(protocol.KindFileReadFailure, err, "could not read file %s", requested)
	}
	if utf8.RuneCount(data) > maxLen {
		return "", protocol.Errorf(protocol.KindContentTooLong, "content of %s is too long to send", requested)
	}

	if h.Log != nil {
		h.Log.Info("module loaded", zap.String("path", resolved), zap.Int("bytes", len(data)))
	}
	return "loaded module: " + requested + "\nContent:\n" + string(data), nil
}
