// Package tracing times a dashboard load and the upstream calls it fans out
// to. A root span collects one child per call and is written as a single
// structured log record when the load finishes.
package tracing

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pabbly/hookdash/pkg/logger"
)

type spanKey struct{}

// Span is one timed operation. Children may be added concurrently.
type Span struct {
	Name    string
	TraceID string
	Start   time.Time

	mu       sync.Mutex
	duration time.Duration
	attrs    []slog.Attr
	err      error
	children []*Span
}

// Start opens a span under the one already in ctx, or a new root whose trace
// id is the request id (a fresh uuid when there is none).
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else if s.TraceID = logger.RequestID(ctx); s.TraceID == "" {
		s.TraceID = uuid.NewString()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// Set attaches an attribute that is logged with the span.
func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Finish stops the clock and records err, if any.
func (s *Span) Finish(err error) {
	s.mu.Lock()
	s.duration = time.Since(s.Start)
	s.err = err
	s.mu.Unlock()
}

// Duration is zero until Finish is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Err is the error passed to Finish.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Children returns the child spans, slowest first.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	out := slices.Clone(s.children)
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b *Span) int {
		return cmp.Compare(b.Duration(), a.Duration())
	})
	return out
}

// Log writes the span and its children as one record: Info when everything
// succeeded, Warn otherwise.
func (s *Span) Log(ctx context.Context) {
	children := s.Children()

	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.duration.Milliseconds(),
	}
	for _, a := range s.attrs {
		args = append(args, a)
	}
	failed := s.err != nil
	if failed {
		args = append(args, "error", s.err.Error())
	}
	s.mu.Unlock()

	calls := make([]any, 0, len(children))
	for _, c := range children {
		attrs := []any{"duration_ms", c.Duration().Milliseconds()}
		if err := c.Err(); err != nil {
			failed = true
			attrs = append(attrs, "error", err.Error())
		}
		calls = append(calls, slog.Group(c.Name, attrs...))
	}
	if len(calls) > 0 {
		args = append(args, slog.Group("calls", calls...))
	}

	level := slog.LevelInfo
	if failed {
		level = slog.LevelWarn
	}
	logger.FromContext(ctx).Log(ctx, level, "trace", args...)
}
