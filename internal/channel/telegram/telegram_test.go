package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGetUpdates_MapsCallbackQueryToMessage(t *testing.T) {
	var answered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getUpdates":
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":11,"callback_query":{"id":"cb-1","data":"L:>P yes","message":{"chat":{"id":123},"date":1700000000}}}]}`)
		case "/answerCallbackQuery":
			answered = true
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	if *updates[0].Message.Text != "L:>P yes" {
		t.Fatalf("unexpected callback mapped text: %q", *updates[0].Message.Text)
	}
	if !answered {
		t.Fatal("expected answerCallbackQuery to be called")
	}
}

func TestGetUpdates_RejectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 2*time.Second).GetUpdates(context.Background(), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestSendMessage_PostsChatAndText(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendMessage(context.Background(), 123, "REQ:>STATUS - L:[notif] <_> L:>P ok"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !strings.Contains(gotBody, `"chat_id":123`) {
		t.Fatalf("expected chat id in payload, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `REQ:>STATUS`) {
		t.Fatalf("expected text in payload, got: %s", gotBody)
	}
}

func TestSendMessage_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 2*time.Second).SendMessage(context.Background(), 1, "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected send rejection, got %v", err)
	}
}

// fakeBot serves queued updates and records the offsets it was asked for.
type fakeBot struct {
	mu      sync.Mutex
	batches []string
	offsets []string
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets = append(b.offsets, r.URL.Query().Get("offset"))
	if len(b.batches) == 0 {
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		return
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	_, _ = io.WriteString(w, `{"ok":true,"result":[`+batch+`]}`)
}

func textUpdate(id, chat int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"chat":{"id":%d},"date":1700000000,"text":%s}}`, id, chat, jsonString(text))
}

func TestChannel_OpenSkipsBacklogAndPollTracksOffset(t *testing.T) {
	bot := &fakeBot{batches: []string{
		textUpdate(40, 7, "old"),
		textUpdate(41, 7, "L:>P hi") + "," + textUpdate(42, 99, "stranger"),
		textUpdate(43, 7, "L:>L second"),
	}}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	ch := New(NewClient(srv.URL, 2*time.Second), Options{ChatID: 7})
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	got, err := ch.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(got) != 1 || got[0] != "L:>P hi" {
		t.Fatalf("unexpected transcript: %v", got)
	}

	got, err = ch.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(got) != 2 || got[1] != "L:>L second" {
		t.Fatalf("expected most recent last, got %v", got)
	}

	bot.mu.Lock()
	offsets := append([]string(nil), bot.offsets...)
	bot.mu.Unlock()
	want := []string{"-1", "41", "43"}
	if strings.Join(offsets, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected offsets: got %v want %v", offsets, want)
	}

	if err := ch.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	got, err = ch.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript after refresh, got %v", got)
	}
}

func TestChannel_TranscriptIsBounded(t *testing.T) {
	var batch []string
	for i := int64(1); i <= 5; i++ {
		batch = append(batch, textUpdate(i, 7, fmt.Sprintf("msg-%d", i)))
	}
	srv := httptest.NewServer(&fakeBot{batches: []string{strings.Join(batch, ",")}})
	defer srv.Close()

	ch := New(NewClient(srv.URL, 2*time.Second), Options{ChatID: 7, TranscriptSize: 3})
	got, err := ch.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "msg-3,msg-4,msg-5" {
		t.Fatalf("unexpected bounded transcript: %v", got)
	}
}

func TestChannel_OpenRequiresChat(t *testing.T) {
	ch := New(NewClient("http://127.0.0.1:0", time.Second), Options{})
	if err := ch.Open(context.Background()); err == nil {
		t.Fatal("expected error without chat id")
	}
}
