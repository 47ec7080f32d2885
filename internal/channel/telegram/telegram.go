// Package telegram implements the conversation channel on top of the
// Telegram Bot API long polling interface.
package telegram

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/channel"
)

// DefaultTranscriptSize bounds the number of utterances kept per session.
const DefaultTranscriptSize = 50

// Channel keeps the text messages received from one chat as the visible
// transcript.
type Channel struct {
	client      *Client
	chatID      int64
	pollTimeout int
	keep        int
	log         *zap.Logger

	mu         sync.Mutex
	offset     int64
	transcript []string
}

var _ channel.Channel = (*Channel)(nil)

// Options configures a Telegram channel.
type Options struct {
	ChatID int64
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout    int
	TranscriptSize int
	Log            *zap.Logger
}

func New(client *Client, opts Options) *Channel {
	keep := opts.TranscriptSize
	if keep <= 0 {
		keep = DefaultTranscriptSize
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		client:      client,
		chatID:      opts.ChatID,
		pollTimeout: max(opts.PollTimeout, 0),
		keep:        keep,
		log:         log,
	}
}

// Open skips the backlog so that only messages sent after startup count.
func (c *Channel) Open(ctx context.Context) error {
	if c.chatID == 0 {
		return fmt.Errorf("telegram chat id is not set")
	}
	updates, err := c.client.GetUpdates(ctx, -1, 0)
	if err != nil {
		return fmt.Errorf("open telegram channel: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
	}
	c.log.Info("telegram channel opened", zap.Int64("chat_id", c.chatID), zap.Int64("offset", c.offset))
	return nil
}

func (c *Channel) Send(ctx context.Context, text string) error {
	return c.client.SendMessage(ctx, c.chatID, text)
}

func (c *Channel) Poll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	updates, err := c.client.GetUpdates(ctx, offset, c.pollTimeout)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Text == nil || *u.Message.Text == "" {
			continue
		}
		if u.Message.Chat.ID != c.chatID {
			c.log.Debug("ignoring message from other chat", zap.Int64("chat_id", u.Message.Chat.ID))
			continue
		}
		c.transcript = append(c.transcript, *u.Message.Text)
	}
	if over := len(c.transcript) - c.keep; over > 0 {
		c.transcript = append([]string(nil), c.transcript[over:]...)
	}
	out := make([]string, len(c.transcript))
	copy(out, c.transcript)
	return out, nil
}

// Refresh drops the transcript; the update offset is kept.
func (c *Channel) Refresh(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = nil
	return nil
}

func (c *Channel) Close() error { return nil }
