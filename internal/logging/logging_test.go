package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesConsoleAndRunFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "server_log")
	var console bytes.Buffer
	at := time.Date(2026, 10, 19, 9, 5, 0, 0, time.Local)

	log, err := New(Options{Dir: dir, Console: &console, Now: func() time.Time { return at }})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "2026-10-19-0905.log"), log.Path)

	log.Info("loop running")
	log.Debug("hidden at info level")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(log.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "loop running")
	require.NotContains(t, string(data), "hidden at info level")
	require.Contains(t, console.String(), "loop running")
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var console bytes.Buffer
	log, err := New(Options{Verbose: true, Console: &console})
	require.NoError(t, err)
	require.Empty(t, log.Path)

	log.Debug("state change")
	require.NoError(t, log.Close())
	require.Contains(t, console.String(), "state change")
	require.Contains(t, console.String(), "DEBUG")
}
