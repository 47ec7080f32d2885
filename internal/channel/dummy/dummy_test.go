package dummy

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestNew_InvalidScript(t *testing.T) {
	if _, err := New("boom", "ok"); err == nil {
		t.Fatal("expected parse error for invalid poll script")
	}
	if _, err := New("ok", "nope:1"); err == nil {
		t.Fatal("expected parse error for invalid send script")
	}
}

func TestPoll_ScriptedTranscript(t *testing.T) {
	c, err := New("ok,msg:first,err:boom,msgb64:aGVsbG8=", "ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := c.Poll(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty transcript, got %v err=%v", got, err)
	}
	got, err = c.Poll(ctx)
	if err != nil || len(got) != 1 || got[0] != "first" {
		t.Fatalf("unexpected transcript: %v err=%v", got, err)
	}
	if _, err := c.Poll(ctx); err == nil {
		t.Fatal("expected scripted poll error")
	}
	got, err = c.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != "hello" {
		t.Fatalf("expected decoded message last, got %v", got)
	}
}

func TestPoll_LastActionRepeats(t *testing.T) {
	c, err := New("msg:again", "ok")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := c.Poll(context.Background())
	if len(got) != 1 || got[0] != "again" {
		t.Fatalf("expected a single repeated utterance, got %v", got)
	}
}

func TestPoll_TranscriptIsBounded(t *testing.T) {
	script := make([]string, 0, HistorySize+10)
	for i := 0; i < HistorySize+10; i++ {
		script = append(script, fmt.Sprintf("msg:line %d", i))
	}
	c, err := New(strings.Join(script, ","), "ok")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for i := 0; i < HistorySize+20; i++ {
		if got, err = c.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != HistorySize {
		t.Fatalf("expected %d utterances, got %d", HistorySize, len(got))
	}
	if want := fmt.Sprintf("line %d", HistorySize+9); got[len(got)-1] != want {
		t.Fatalf("expected newest utterance %q last, got %q", want, got[len(got)-1])
	}
	if got[0] != "line 10" {
		t.Fatalf("expected oldest kept utterance %q, got %q", "line 10", got[0])
	}
}

func TestSend_LogIsBounded(t *testing.T) {
	c, err := New("", "ok")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < HistorySize+5; i++ {
		if err := c.Send(context.Background(), fmt.Sprintf("reply %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	sent := c.Sent()
	if len(sent) != HistorySize || sent[0] != "reply 5" {
		t.Fatalf("unexpected sent log: len=%d first=%q", len(sent), sent[0])
	}
}

func TestSend_RecordsAndFails(t *testing.T) {
	c, err := New("", "ok,err:send_api,ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Send(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(ctx, "two"); err == nil {
		t.Fatal("expected scripted send error")
	}
	if err := c.Send(ctx, "three"); err != nil {
		t.Fatal(err)
	}
	sent := c.Sent()
	if len(sent) != 2 || sent[0] != "one" || sent[1] != "three" {
		t.Fatalf("unexpected sent messages: %v", sent)
	}
}

func TestSleep_HonoursCancellation(t *testing.T) {
	c, err := New("sleep:60000", "ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Poll(ctx); err == nil {
		t.Fatal("expected cancelled sleep to fail")
	}
}

func TestRefreshCounts(t *testing.T) {
	c, _ := New("", "")
	_ = c.Refresh(context.Background())
	_ = c.Refresh(context.Background())
	if c.Refreshes() != 2 {
		t.Fatalf("expected 2 refreshes, got %d", c.Refreshes())
	}
}
