// Package channel abstracts the remote text channel the peer talks on.
package channel

import (
	"context"

	"github.com/stupiduntilnot/parley/internal/protocol"
)

// Channel is the conversation surface used by the poll loop.
type Channel interface {
	// Open establishes the session and navigates to the conversation.
	Open(ctx context.Context) error
	// Send delivers one message. Callers chunk text before sending.
	Send(ctx context.Context, text string) error
	// Poll returns the utterances currently visible, most recent last.
	Poll(ctx context.Context) ([]string, error)
	// Refresh reloads the conversation view.
	Refresh(ctx context.Context) error
	Close() error
}

// Latest returns the most recent non-empty utterance.
func Latest(utterances []string) (string, bool) {
	for i := len(utterances) - 1; i >= 0; i-- {
		if utterances[i] != "" {
			return utterances[i], true
		}
	}
	return "", false
}

// SendError marks err as a send failure.
func SendError(err error) error {
	if err == nil {
		return nil
	}
	return protocol.Wrap(protocol.KindChannelSendFailure, err, "send failed: %v", err)
}

// PollError marks err as a poll failure.
func PollError(err error) error {
	if err == nil {
		return nil
	}
	return protocol.Wrap(protocol.KindChannelPollFailure, err, "poll failed: %v", err)
}
