// Package toolcall correlates outbound tool-invocation events with the
// results the peer sends back, via one-shot futures keyed by call id.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrToolCallTimeout is returned by Await when a pending call is not
// resolved within the caller's deadline. Run loops convert it into a tool
// error result fed back to the model, never a silent hang.
var ErrToolCallTimeout = errors.New("tool call timed out waiting for peer result")

// resolvedMemory bounds the cache of recently resolved call ids, kept only
// so duplicate results can be logged distinctly from unknown ids.
const resolvedMemory = 256

// Outcome is the one-shot result of a pending tool call.
type Outcome struct {
	Content string
	Err     error
}

// Coordinator tracks the pending tool calls of one session. Register must
// run synchronously in the same step that emits TOOL_CALL_START, before
// control yields, so a fast peer result can never arrive first.
type Coordinator struct {
	mu       sync.Mutex
	pending  map[string]chan Outcome
	resolved *lru.Cache[string, struct{}]
	closed   bool
	closeErr error
}

func NewCoordinator() *Coordinator {
	cache, _ := lru.New[string, struct{}](resolvedMemory)
	return &Coordinator{
		pending:  make(map[string]chan Outcome),
		resolved: cache,
	}
}

// Register creates a pending entry and returns the future the run loop
// awaits. A call id may not be registered twice while outstanding.
func (c *Coordinator) Register(toolCallID string) (<-chan Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.closeErr
	}
	if _, exists := c.pending[toolCallID]; exists {
		return nil, fmt.Errorf("tool call %s already pending", toolCallID)
	}

	ch := make(chan Outcome, 1)
	c.pending[toolCallID] = ch
	return ch, nil
}

// Resolve completes a pending call with the peer's result payload and
// removes the entry. Unknown or already-resolved ids are a logged no-op.
func (c *Coordinator) Resolve(toolCallID, content string) bool {
	c.mu.Lock()
	ch, ok := c.pending[toolCallID]
	if ok {
		delete(c.pending, toolCallID)
		c.resolved.Add(toolCallID, struct{}{})
	}
	duplicate := !ok && c.resolved.Contains(toolCallID)
	c.mu.Unlock()

	if !ok {
		if duplicate {
			slog.Debug("duplicate tool result ignored", "tool_call_id", toolCallID)
		} else {
			slog.Warn("tool result for unknown call ignored", "tool_call_id", toolCallID)
		}
		return false
	}

	ch <- Outcome{Content: content}
	return true
}

// Abandon removes a pending entry whose awaiting run loop gave up on it
// (timeout, or a result that will never be requested). The id is recorded
// as resolved so a late result takes the duplicate no-op path instead of
// writing into a channel nobody reads.
func (c *Coordinator) Abandon(toolCallID string) {
	c.mu.Lock()
	if _, ok := c.pending[toolCallID]; ok {
		delete(c.pending, toolCallID)
		c.resolved.Add(toolCallID, struct{}{})
	}
	c.mu.Unlock()
}

// RejectAll fails every pending call with err. Called on session destroy
// so no run loop awaits forever.
func (c *Coordinator) RejectAll(err error) int {
	c.mu.Lock()
	rejected := c.pending
	c.pending = make(map[string]chan Outcome)
	c.closed = true
	c.closeErr = err
	c.mu.Unlock()

	for id, ch := range rejected {
		ch <- Outcome{Err: err}
		slog.Debug("pending tool call rejected", "tool_call_id", id, "error", err)
	}
	return len(rejected)
}

// PendingCount returns the number of outstanding calls.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Await blocks on a registered future until resolution, context
// cancellation, or timeout. A timeout of zero waits indefinitely.
func Await(ctx context.Context, future <-chan Outcome, timeout time.Duration) (string, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-future:
		return out.Content, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer:
		return "", ErrToolCallTimeout
	}
}
