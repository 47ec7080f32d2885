package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// StatusSentinel starts every success reply sent to the peer.
	StatusSentinel = "REQ:>STATUS"
	// ErrorSentinel starts every failure reply sent to the peer.
	ErrorSentinel = "ERR:>LOG"

	statusLead = StatusSentinel + " - L:[notif] <_> "
	errorLead  = ErrorSentinel + " <_> Error: "
)

// Kind classifies a failure.
type Kind string

const (
	KindUnrecognizedPrefix Kind = "unrecognized_prefix"
	KindEmptyContent       Kind = "empty_content"
	KindAccessDenied       Kind = "access_denied"
	KindContentTooLong     Kind = "content_too_long"
	KindFileNotFound       Kind = "file_not_found"
	KindFileReadFailure    Kind = "file_read_failure"
	KindFileWriteFailure   Kind = "file_write_failure"
	KindCommandFailed      Kind = "command_failed"
	KindCommandTimedOut    Kind = "command_timed_out"
	KindChannelSendFailure Kind = "channel_send_failure"
	KindChannelPollFailure Kind = "channel_poll_failure"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Detail is what the peer gets to read; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Errorf builds an *Error with a formatted detail.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that keeps cause for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Result is the outcome of handling one utterance. Exactly one of the
// status or error forms is populated: OK results carry Prefix and Detail,
// failed results carry Kind and Detail.
type Result struct {
	OK     bool
	Prefix string
	Kind   Kind
	Detail string
}

// Status builds a success result for prefix.
func Status(prefix, detail string) Result {
	return Result{OK: true, Prefix: prefix, Detail: detail}
}

// Failure builds an error result.
func Failure(kind Kind, detail string) Result {
	return Result{Kind: kind, Detail: detail}
}

// FromError converts a handler error into a failure result.
func FromError(err error) Result {
	var pe *Error
	if errors.As(err, &pe) {
		return Failure(pe.Kind, pe.Detail)
	}
	return Failure(KindInternal, err.Error())
}

// String renders the result in the wire format understood by the peer.
func (r Result) String() string {
	if r.OK {
		return statusLead + r.Prefix + " " + r.Detail
	}
	return errorLead + r.Detail
}

// IsOwnOutput reports whether text starts with one of our sentinels.
func IsOwnOutput(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, StatusSentinel) || strings.HasPrefix(text, ErrorSentinel)
}
