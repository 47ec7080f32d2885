// Package dummy is a scripted channel for dry runs and tests.
//
// Poll and send scripts are comma separated actions: ok, err:<class>,
// sleep:<ms>, msg:<text> and msgb64:<base64 text> (poll only). Once a
// script is exhausted its last action repeats.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/parley/internal/channel"
)

type action struct {
	kind string
	arg  string
}

var kinds = []string{"err", "sleep", "msg", "msgb64"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
next:
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		for _, k := range kinds {
			if arg, ok := strings.CutPrefix(token, k+":"); ok {
				actions = append(actions, action{kind: k, arg: arg})
				continue next
			}
		}
		return nil, fmt.Errorf("invalid dummy action: %s", token)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// HistorySize bounds the transcript and the sent log.
const HistorySize = 50

// Channel replays poll and send scripts. The transcript only holds peer
// utterances; sent messages are kept separately.
type Channel struct {
	mu         sync.Mutex
	poll       *scriptRunner
	send       *scriptRunner
	transcript []string
	sent       []string
	refreshes  int
	opened     bool
}

var _ channel.Channel = (*Channel)(nil)

func New(pollScript, sendScript string) (*Channel, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, fmt.Errorf("poll script: %w", err)
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, fmt.Errorf("send script: %w", err)
	}
	return &Channel{poll: poll, send: send}, nil
}

func (c *Channel) Open(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	return nil
}

func (c *Channel) Poll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy channel poll error class=%s", emptyAs(a.arg, "channel_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return nil, err
		}
	case "msg":
		c.appendUtterance(a.arg)
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy channel msgb64 decode failed: %w", err)
		}
		c.appendUtterance(string(raw))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.transcript))
	copy(out, c.transcript)
	return out, nil
}

func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy channel send error class=%s", emptyAs(a.arg, "channel_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = bounded(append(c.sent, text))
	c.mu.Unlock()
	return nil
}

func (c *Channel) Refresh(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

// Sent returns every message delivered so far.
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Refreshes reports how many times Refresh was called.
func (c *Channel) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func (c *Channel) appendUtterance(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A repeating msg action shows the same utterance once.
	if n := len(c.transcript); n > 0 && c.transcript[n-1] == text {
		return
	}
	c.transcript = bounded(append(c.transcript, text))
}

func bounded(items []string) []string {
	if over := len(items) - HistorySize; over > 0 {
		return append([]string(nil), items[over:]...)
	}
	return items
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
