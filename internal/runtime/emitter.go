package runtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// EventSink is the outbound side of a connection. The gateway client
// implements it; tests use in-memory recorders.
type EventSink interface {
	SendEvent(protocol.Event) error
}

// RunEmitter binds one run's event stream to a sink. It stamps missing
// timestamps, fills the run id, and drops (with a log line) anything
// emitted after the run's terminal event so a late goroutine cannot
// corrupt the stream.
type RunEmitter struct {
	sink  EventSink
	runID string

	mu     sync.Mutex
	closed bool
}

func NewRunEmitter(sink EventSink, runID string) *RunEmitter {
	return &RunEmitter{sink: sink, runID: runID}
}

func (e *RunEmitter) Emit(event protocol.Event) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		slog.Warn("event dropped after terminal", "run_id", e.runID, "type", event.Type)
		return nil
	}
	if event.IsTerminal() {
		e.closed = true
	}
	e.mu.Unlock()

	if event.RunID == "" {
		event.RunID = e.runID
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	return e.sink.SendEvent(event)
}

// Closed reports whether the terminal event has been emitted.
func (e *RunEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
