// Package progress carries status events of long-running rejudging operations
// from the operation to whatever transport observes it.
package progress

import (
	"context"
	"sync"

	"rejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Event is one progress update. Message is set only on the terminal event.
type Event struct {
	Progress int     `json:"progress"`
	Log      string  `json:"log"`
	Message  *string `json:"message"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Message != nil
}

// Reporter receives progress of one operation.
// Finish must be called exactly once, after which Report is ignored.
type Reporter interface {
	Report(percent int, log string)
	Finish(message string)
}

// Percent returns done/total as a whole percentage clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Stream is a Reporter backed by a channel.
// Progress never decreases, the terminal event always carries 100, and the
// channel is closed right after it. Events are dropped once ctx is done.
type Stream struct {
	ctx context.Context
	ch  chan Event

	mu       sync.Mutex
	last     int
	finished bool
}

// NewStream creates a stream whose channel buffers up to buffer events.
func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{ctx: ctx, ch: make(chan Event, buffer)}
}

// Events returns the channel the transport reads from.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Report publishes a non-terminal event.
func (s *Stream) Report(percent int, log string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if percent < s.last {
		percent = s.last
	}
	if percent > 100 {
		percent = 100
	}
	s.last = percent
	s.send(Event{Progress: percent, Log: log})
}

// Finish publishes the terminal event and closes the channel.
func (s *Stream) Finish(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.last = 100
	msg := message
	s.send(Event{Progress: 100, Message: &msg})
	close(s.ch)
}

func (s *Stream) send(event Event) {
	select {
	case s.ch <- event:
	case <-s.ctx.Done():
	}
}

// LogReporter writes progress to the service log. It serves operations
// nobody is watching, such as automatic finalization.
type LogReporter struct {
	ctx       context.Context
	operation string
	rejudging int64
}

// NewLogReporter creates a reporter that logs under the given operation name.
func NewLogReporter(ctx context.Context, operation string, rejudgingID int64) *LogReporter {
	return &LogReporter{ctx: ctx, operation: operation, rejudging: rejudgingID}
}

func (r *LogReporter) Report(percent int, log string) {
	if log == "" {
		return
	}
	logger.Debug(r.ctx, "rejudging progress",
		zap.String("operation", r.operation),
		zap.Int64("rejudging_id", r.rejudging),
		zap.Int("progress", percent),
		zap.String("log", log),
	)
}

func (r *LogReporter) Finish(message string) {
	logger.Info(r.ctx, "rejudging operation finished",
		zap.String("operation", r.operation),
		zap.Int64("rejudging_id", r.rejudging),
		zap.String("message", message),
	)
}

var (
	_ Reporter = (*Stream)(nil)
	_ Reporter = (*LogReporter)(nil)
)
