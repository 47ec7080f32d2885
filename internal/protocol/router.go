package protocol

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

)

// Handler performs the side effect behind one prefix. It returns the
// success detail, or an error (preferably an *Error) describing the failure.
type Handler interface {
	Handle(ctx context.Context, content string) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, content string) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

// Route binds a prefix to its handler. Summary, Effect, Reply and Example
// only feed the instruction message.
type Route struct {
	Prefix     string
	AllowEmpty bool
	Handler    Handler

	Summary string
	Effect  string
	Reply   string
	Example string
}

// Router matches utterances against an ordered route table. The first
// route whose prefix starts the utterance wins.
type Router struct {
	routes []Route
	log    *zap.Logger
}

// NewRouter builds a router from routes in match order.
func NewRouter(log *zap.Logger, routes ...Route) (*Router, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{log: log}
	for _, rt := range routes {
		if err := r.Register(rt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a route. A route is rejected when an earlier prefix is
// a prefix of it, because it could never be matched.
func (r *Router) Register(rt Route) error {
	prefix := strings.TrimSpace(rt.Prefix)
	if prefix == "" {
		return fmt.Errorf("route prefix is empty")
	}
	if prefix != rt.Prefix {
		return fmt.Errorf("route prefix %q has surrounding whitespace", rt.Prefix)
	}
	if rt.Handler == nil {
		return fmt.Errorf("route %s has no handler", prefix)
	}
	for _, existing := range r.routes {
		if existing.Prefix == prefix {
			return fmt.Errorf("route already registered: %s", prefix)
		}
		if strings.HasPrefix(prefix, existing.Prefix) {
			return fmt.Errorf("route %s is shadowed by earlier route %s", prefix, existing.Prefix)
		}
	}
	r.routes = append(r.routes, rt)
	return nil
}

// Routes returns the table in match order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Dispatch routes one utterance. The boolean is false when no reply must be
// sent, which is the case for our own status and error lines.
func (r *Router) Dispatch(ctx context.Context, raw string) (Result, bool) {
	msg := strings.TrimSpace(raw)
	if IsOwnOutput(msg) {
		r.log.Info("ignoring own status output", zap.String("text", clip(msg, 100)))
		return Result{}, false
	}

	for _, rt := range r.routes {
		if !strings.HasPrefix(msg, rt.Prefix) {
			continue
		}
		content := strings.TrimSpace(msg[len(rt.Prefix):])
		if content == "" && !rt.AllowEmpty {
			return Failure(KindEmptyContent, "empty content for prefix "+rt.Prefix), true
		}

		r.log.Debug("dispatching", zap.String("prefix", rt.Prefix), zap.Int("content_len", len(content)))
		detail, err := rt.Handler.Handle(ctx, content)
		if err != nil {
			r.log.Warn("handler failed", zap.String("prefix", rt.Prefix), zap.Error(err))
			return FromError(err), true
		}
		return Status(rt.Prefix, detail), true
	}
	return Failure(KindUnrecognizedPrefix, "unrecognized prefix or empty message"), true
}

func clip(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
