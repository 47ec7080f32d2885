package loop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/db"
	"github.com/stupiduntilnot/parley/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	interval = 30 * time.Second
	gap      = 3 * time.Second
	settle   = 10 * time.Second
)

type fakeChannel struct {
	openErr    error
	polls      [][]string
	pollErrs   []error
	sendErrs   []error
	refreshErr error

	pollCalls int
	sent      []string
	refreshes int
	opened    bool
}

func (f *fakeChannel) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeChannel) Send(_ context.Context, text string) error {
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, text)
	return nil
}

// Poll replays the scripted transcripts; the last one stays visible.
func (f *fakeChannel) Poll(context.Context) ([]string, error) {
	i := f.pollCalls
	f.pollCalls++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return nil, f.pollErrs[i]
	}
	if len(f.polls) == 0 {
		return nil, nil
	}
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	return f.polls[i], nil
}

func (f *fakeChannel) Refresh(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeChannel) Close() error { return nil }

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	return nil
}

func (s *fakeSleeper) count(d time.Duration) int {
	n := 0
	for _, x := range s.slept {
		if x == d {
			n++
		}
	}
	return n
}

type recordingJournal struct {
	mu     sync.Mutex
	events []string
}

func (j *recordingJournal) Record(_ int64, eventType string, _ map[string]any) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, eventType)
	return int64(len(j.events))
}

func (j *recordingJournal) has(eventType string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// countingRouter wraps a real router and counts dispatched utterances
// that produced a reply.
type countingRouter struct {
	r     *protocol.Router
	calls []string
}

func (c *countingRouter) Dispatch(ctx context.Context, raw string) (protocol.Result, bool) {
	res, reply := c.r.Dispatch(ctx, raw)
	if reply {
		c.calls = append(c.calls, raw)
	}
	return res, reply
}

func newRouter(t *testing.T, longReply string) *countingRouter {
	t.Helper()
	r, err := protocol.NewRouter(zaptest.NewLogger(t),
		protocol.Route{Prefix: protocol.PrefixOperatorMessage, Handler: protocol.HandlerFunc(
			func(context.Context, string) (string, error) { return "message sent to operator", nil })},
		protocol.Route{Prefix: protocol.PrefixReflection, Handler: protocol.HandlerFunc(
			func(context.Context, string) (string, error) { return longReply, nil })},
	)
	require.NoError(t, err)
	return &countingRouter{r: r}
}

type harness struct {
	ch      *fakeChannel
	router  *countingRouter
	sleeper *fakeSleeper
	journal *recordingJournal
	loop    *Loop
}

func newHarness(t *testing.T, cfg Config, ch *fakeChannel) *harness {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = interval
	}
	if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = gap
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = settle
	}
	h := &harness{
		ch:      ch,
		router:  newRouter(t, strings.Repeat("x", 9000)),
		sleeper: &fakeSleeper{},
		journal: &recordingJournal{},
	}
	h.loop = New(cfg, ch, h.router,
		WithLogger(zaptest.NewLogger(t)),
		WithSleep(h.sleeper.sleep),
		WithJournal(h.journal))
	return h
}

func TestStart_SendsGreetingThenChunkedInstructions(t *testing.T) {
	instructions := strings.Repeat("i", chunk.MaxContentLength+10)
	h := newHarness(t, Config{Greeting: "hello peer", Instructions: instructions}, &fakeChannel{})

	require.NoError(t, h.loop.Start(context.Background()))
	require.True(t, h.ch.opened)
	require.Len(t, h.ch.sent, 3)
	require.Equal(t, "hello peer", h.ch.sent[0])
	require.True(t, strings.HasPrefix(h.ch.sent[1], "[PART 1/2]\n"))
	require.True(t, strings.HasPrefix(h.ch.sent[2], "[PART 2/2]\n"))
	require.Equal(t, []time.Duration{gap, gap}, h.sleeper.slept)
	require.True(t, h.journal.has(db.EventSessionOpened))
	require.True(t, h.journal.has(db.EventInstructionsSent))
}

func TestStart_OpenFailureIsFatal(t *testing.T) {
	h := newHarness(t, Config{Greeting: "hi"}, &fakeChannel{openErr: errors.New("no chrome")})

	err := h.loop.Start(context.Background())
	require.Error(t, err)
	require.Empty(t, h.ch.sent)
	require.Equal(t, StateStopped, h.loop.State())
	require.True(t, h.journal.has(db.EventSessionFailed))
}

func TestStep_DispatchesNewUtteranceOnce(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{polls: [][]string{{"old", "L:>P hello"}}})
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, []string{"REQ:>STATUS - L:[notif] <_> L:>P message sent to operator"}, h.ch.sent)

	require.NoError(t, h.loop.Step(ctx))
	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, []string{"L:>P hello"}, h.router.calls)
	require.Len(t, h.ch.sent, 1)
	require.Equal(t, uint64(3), h.loop.Cycle())
	require.Equal(t, 3, h.sleeper.count(interval))
}

func TestStep_UnknownPrefixGetsErrorReply(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{polls: [][]string{{"XYZ hi"}}})

	require.NoError(t, h.loop.Step(context.Background()))
	require.Equal(t, []string{"ERR:>LOG <_> Error: unrecognized prefix or empty message"}, h.ch.sent)
}

func TestStep_OwnOutputIsNotAnswered(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{polls: [][]string{
		{"REQ:>STATUS - L:[notif] <_> L:>P message sent to operator"},
		{"ERR:>LOG <_> Error: unrecognized prefix or empty message"},
	}})
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	require.NoError(t, h.loop.Step(ctx))
	require.Empty(t, h.ch.sent)
	require.True(t, h.journal.has(db.EventUtteranceIgnored))
}

func TestStep_PartTaggedPeerTextGetsErrorReply(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{polls: [][]string{{"[PART 1/2]\nL:>P hello"}}})

	require.NoError(t, h.loop.Step(context.Background()))
	require.Equal(t, []string{"ERR:>LOG <_> Error: unrecognized prefix or empty message"}, h.ch.sent)
	require.True(t, h.journal.has(db.EventUtteranceReceived))
}

func TestStep_LongReplyIsSentInOrderedParts(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{polls: [][]string{{"L:>L think"}}})

	require.NoError(t, h.loop.Step(context.Background()))
	require.Len(t, h.ch.sent, 3)
	for i, part := range h.ch.sent {
		hdr, _, ok := chunk.Parse(part)
		require.True(t, ok)
		require.Equal(t, i+1, hdr.Index)
		require.Equal(t, 3, hdr.Total)
	}
	joined, err := chunk.Join(h.ch.sent)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(joined, "REQ:>STATUS - L:[notif] <_> L:>L xxx"))
	require.Equal(t, []time.Duration{interval, gap, gap}, h.sleeper.slept)
}

func TestStep_PollErrorRecovers(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{
		polls:    [][]string{nil, {"L:>P after"}},
		pollErrs: []error{errors.New("page crashed")},
	})
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, 1, h.ch.refreshes)
	require.Equal(t, []time.Duration{interval, settle}, h.sleeper.slept)
	require.True(t, h.journal.has(db.EventPollFailed))
	require.True(t, h.journal.has(db.EventRecoveryAttempted))
	require.Equal(t, uint64(1), h.loop.Cycle())

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, []string{"L:>P after"}, h.router.calls)
	require.Len(t, h.ch.sent, 1)
}

func TestStep_SendErrorDoesNotRedispatch(t *testing.T) {
	h := newHarness(t, Config{}, &fakeChannel{
		polls:    [][]string{{"L:>P hello"}},
		sendErrs: []error{errors.New("input vanished")},
	})
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	require.Empty(t, h.ch.sent)
	require.Equal(t, 1, h.ch.refreshes)
	require.True(t, h.journal.has(db.EventReplyFailed))

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, []string{"L:>P hello"}, h.router.calls)
}

func TestStep_RefreshClearsHistoryAndResendsInstructions(t *testing.T) {
	h := newHarness(t, Config{RefreshEvery: 2, Instructions: "rules"}, &fakeChannel{polls: [][]string{{"L:>P hello"}}})
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, 1, h.loop.History().Len())

	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, 1, h.ch.refreshes)
	require.Equal(t, 0, h.loop.History().Len())
	require.Equal(t, "rules", h.ch.sent[len(h.ch.sent)-1])
	require.True(t, h.journal.has(db.EventRefreshCompleted))

	// The window is empty, so the still visible utterance counts as new.
	require.NoError(t, h.loop.Step(ctx))
	require.Equal(t, []string{"L:>P hello", "L:>P hello"}, h.router.calls)
}

func TestStep_FailedRefreshStillClearsHistory(t *testing.T) {
	h := newHarness(t, Config{RefreshEvery: 1, Instructions: "rules"}, &fakeChannel{
		polls:      [][]string{{"L:>P hello"}},
		refreshErr: errors.New("reload timeout"),
	})

	require.NoError(t, h.loop.Step(context.Background()))
	require.Equal(t, 0, h.loop.History().Len())
	require.True(t, h.journal.has(db.EventRefreshFailed))
	require.Equal(t, 0, h.sleeper.count(settle))
	for _, s := range h.ch.sent {
		require.NotEqual(t, "rules", s)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ch := &fakeChannel{polls: [][]string{{"L:>P hello"}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycles := 0
	l := New(Config{Interval: interval}, ch, newRouter(t, "x"),
		WithLogger(zaptest.NewLogger(t)),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			if d == interval {
				cycles++
				if cycles > 4 {
					cancel()
				}
			}
			return ctx.Err()
		}))

	require.NoError(t, l.Run(ctx))
	require.Equal(t, uint64(4), l.Cycle())
	require.Equal(t, StateStopped, l.State())
	require.Len(t, ch.sent, 1)
}

func TestRun_RealSleepHonoursCancellation(t *testing.T) {
	ch := &fakeChannel{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l := New(Config{Interval: time.Hour}, ch, newRouter(t, "x"))
	started := time.Now()
	require.NoError(t, l.Run(ctx))
	require.Less(t, time.Since(started), 5*time.Second)
	require.Zero(t, l.Cycle())
}
