// Package loop runs the poll, dispatch and reply cycle against a channel.
package loop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/channel"
	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/db"
	"github.com/stupiduntilnot/parley/internal/protocol"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultRefreshEvery = 10
	DefaultHistorySize  = 5
	DefaultChunkDelay   = 3 * time.Second
	DefaultSettleDelay  = 10 * time.Second
)

// State names the phase the loop is in.
type State string

const (
	StateStarting    State = "starting"
	StateWaiting     State = "waiting"
	StatePolling     State = "polling"
	StateDispatching State = "dispatching"
	StateReplying    State = "replying"
	StateRefreshing  State = "refreshing"
	StateRecovering  State = "recovering"
	StateStopped     State = "stopped"
)

// Dispatcher turns one utterance into a reply. The boolean is false when
// nothing must be sent back.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string) (protocol.Result, bool)
}

// Journal receives audit events. parent 0 means the run root.
type Journal interface {
	Record(parent int64, eventType string, payload map[string]any) int64
}

type nopJournal struct{}

func (nopJournal) Record(int64, string, map[string]any) int64 { return 0 }

// Config tunes timing and sizes. Zero values take the defaults.
type Config struct {
	Interval     time.Duration
	RefreshEvery int
	HistorySize  int
	ChunkLimit   int
	ChunkDelay   time.Duration
	SettleDelay  time.Duration

	// Greeting is sent once after the channel opens; empty skips it.
	Greeting     string
	Instructions string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = DefaultRefreshEvery
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = chunk.MaxContentLength
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option customizes a Loop.
type Option func(*Loop)

func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

func WithJournal(j Journal) Option {
	return func(l *Loop) {
		if j != nil {
			l.journal = j
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(l *Loop) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

// Loop owns the dedup window and the cycle counter. It is not safe for
// concurrent use.
type Loop struct {
	cfg     Config
	ch      channel.Channel
	router  Dispatcher
	journal Journal
	log     *zap.Logger
	sleep   SleepFunc

	history *History
	cycle   uint64
	state   State
}

func New(cfg Config, ch channel.Channel, router Dispatcher, opts ...Option) *Loop {
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:     cfg,
		ch:      ch,
		router:  router,
		journal: nopJournal{},
		log:     zap.NewNop(),
		sleep:   Sleep,
		history: NewHistory(cfg.HistorySize),
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) State() State { return l.state }

func (l *Loop) Cycle() uint64 { return l.cycle }

func (l *Loop) History() *History { return l.history }

func (l *Loop) setState(s State) {
	if l.state != s {
		l.log.Debug("state", zap.String("from", string(l.state)), zap.String("to", string(s)))
	}
	l.state = s
}

// Start opens the channel, then sends the greeting and the instruction
// message. Only a failure to open is returned.
func (l *Loop) Start(ctx context.Context) error {
	l.setState(StateStarting)
	if err := l.ch.Open(ctx); err != nil {
		l.setState(StateStopped)
		l.journal.Record(0, db.EventSessionFailed, map[string]any{"error": err.Error()})
		return err
	}
	l.journal.Record(0, db.EventSessionOpened, nil)
	l.log.Info("channel opened")

	if l.cfg.Greeting != "" {
		if err := l.send(ctx, l.cfg.Greeting); err != nil {
			l.log.Warn("greeting not sent", zap.Error(err))
		}
		if err := l.sleep(ctx, l.cfg.ChunkDelay); err != nil {
			return err
		}
	}
	l.sendInstructions(ctx)
	return nil
}

// Run repeats Step until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("loop running",
		zap.Duration("interval", l.cfg.Interval),
		zap.Int("refresh_every", l.cfg.RefreshEvery),
		zap.Int("history_size", l.cfg.HistorySize))
	defer l.setState(StateStopped)
	for {
		if err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				l.log.Info("loop stopped", zap.Uint64("cycle", l.cycle))
				return nil
			}
			return err
		}
	}
}

// Step runs one cycle: wait, poll, dispatch and reply, then refresh when
// the cycle count calls for it. Channel failures are recovered from here;
// only cancellation is returned.
func (l *Loop) Step(ctx context.Context) error {
	l.setState(StateWaiting)
	if err := l.sleep(ctx, l.cfg.Interval); err != nil {
		return err
	}

	if err := l.handleLatest(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.recover(ctx, err)
	}

	l.cycle++
	if l.cycle%uint64(l.cfg.RefreshEvery) == 0 {
		l.refresh(ctx)
	}
	return ctx.Err()
}

func (l *Loop) handleLatest(ctx context.Context) error {
	log := l.log.With(zap.Uint64("cycle", l.cycle+1))

	l.setState(StatePolling)
	utterances, err := l.ch.Poll(ctx)
	if err != nil {
		l.journal.Record(0, db.EventPollFailed, map[string]any{"cycle": l.cycle + 1, "error": err.Error()})
		return channel.PollError(err)
	}
	latest, ok := channel.Latest(utterances)
	if !ok || l.history.Contains(latest) {
		log.Debug("no new utterance", zap.Int("visible", len(utterances)))
		return nil
	}

	l.setState(StateDispatching)
	l.history.Push(latest)
	res, reply := l.router.Dispatch(ctx, latest)
	if !reply {
		l.journal.Record(0, db.EventUtteranceIgnored, map[string]any{"cycle": l.cycle + 1, "text": clip(latest, 200)})
		return nil
	}
	eventID := l.journal.Record(0, db.EventUtteranceReceived, map[string]any{
		"cycle":  l.cycle + 1,
		"ok":     res.OK,
		"prefix": res.Prefix,
		"kind":   string(res.Kind),
		"text":   clip(latest, 200),
	})
	log.Info("utterance handled", zap.Bool("ok", res.OK), zap.String("prefix", res.Prefix), zap.String("kind", string(res.Kind)))

	l.setState(StateReplying)
	text := res.String()
	if err := l.send(ctx, text); err != nil {
		l.journal.Record(eventID, db.EventReplyFailed, map[string]any{"error": err.Error()})
		return err
	}
	l.journal.Record(eventID, db.EventReplySent, map[string]any{
		"parts": len(chunk.Split(text, l.cfg.ChunkLimit)),
		"chars": len([]rune(text)),
	})
	return nil
}

// send splits text and delivers the parts in order with the chunk delay
// between them.
func (l *Loop) send(ctx context.Context, text string) error {
	parts := chunk.Split(text, l.cfg.ChunkLimit)
	for i, part := range parts {
		if i > 0 {
			if err := l.sleep(ctx, l.cfg.ChunkDelay); err != nil {
				return err
			}
		}
		if err := l.ch.Send(ctx, part); err != nil {
			return channel.SendError(err)
		}
		l.log.Debug("part sent", zap.Int("part", i+1), zap.Int("total", len(parts)))
	}
	return nil
}

func (l *Loop) sendInstructions(ctx context.Context) {
	if l.cfg.Instructions == "" {
		return
	}
	if err := l.send(ctx, l.cfg.Instructions); err != nil {
		l.log.Warn("instructions not sent", zap.Error(err))
		return
	}
	l.journal.Record(0, db.EventInstructionsSent, map[string]any{
		"parts": len(chunk.Split(l.cfg.Instructions, l.cfg.ChunkLimit)),
	})
}

// refresh reloads the channel and re-sends the instructions. The history
// is cleared whether or not the reload worked.
func (l *Loop) refresh(ctx context.Context) {
	l.setState(StateRefreshing)
	defer l.history.Reset()

	l.log.Info("scheduled refresh", zap.Uint64("cycle", l.cycle))
	if err := l.ch.Refresh(ctx); err != nil {
		l.log.Warn("refresh failed", zap.Uint64("cycle", l.cycle), zap.Error(err))
		l.journal.Record(0, db.EventRefreshFailed, map[string]any{"cycle": l.cycle, "error": err.Error()})
		return
	}
	if err := l.sleep(ctx, l.cfg.SettleDelay); err != nil {
		return
	}
	l.sendInstructions(ctx)
	l.journal.Record(0, db.EventRefreshCompleted, map[string]any{"cycle": l.cycle})
}

func (l *Loop) recover(ctx context.Context, cause error) {
	l.setState(StateRecovering)
	kind := protocol.KindOf(cause)
	l.log.Warn("cycle failed, refreshing channel",
		zap.Uint64("cycle", l.cycle+1), zap.String("kind", string(kind)), zap.Error(cause))

	payload := map[string]any{"cycle": l.cycle + 1, "kind": string(kind)}
	if err := l.ch.Refresh(ctx); err != nil {
		l.log.Error("recovery refresh failed", zap.Error(err))
		payload["refresh_error"] = err.Error()
	}
	l.journal.Record(0, db.EventRecoveryAttempted, payload)
	_ = l.sleep(ctx, l.cfg.SettleDelay)
}

func clip(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
