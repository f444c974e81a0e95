// Package session holds per-connection mutable state: the current thread,
// the single-flight run slot, the peer-registered tool set, and the
// pending tool calls awaiting peer results. Sessions live exactly as long
// as their connection and are never persisted.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/agentwire/internal/toolcall"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

var (
	// ErrSessionClosed rejects pending work when the connection goes away.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyRunning rejects a second run/trigger while one is active.
	ErrAlreadyRunning = errors.New("a run is already active for this session")
)

// Session is the server-side state for one logical connection.
type Session struct {
	ClientID string

	// Pending correlates outstanding tool calls with peer results.
	Pending *toolcall.Coordinator

	mu           sync.Mutex
	threadID     string
	currentRunID string
	tools        *tools.Set
	state        json.RawMessage
	history      []protocol.Message
	mcpHeaders   map[string]string
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(clientID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ClientID: clientID,
		Pending:  toolcall.NewCoordinator(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context is canceled when the session closes; run loops and upstream
// requests derive from it so a disconnect unwinds them.
func (s *Session) Context() context.Context { return s.ctx }

// BeginRun claims the single run slot. It fails with ErrAlreadyRunning
// while another run is in flight and ErrSessionClosed after Close.
func (s *Session) BeginRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.currentRunID != "" {
		return fmt.Errorf("%w (run %s)", ErrAlreadyRunning, s.currentRunID)
	}
	s.currentRunID = runID
	return nil
}

// EndRun releases the run slot if runID still owns it.
func (s *Session) EndRun(runID string) {
	s.mu.Lock()
	if s.currentRunID == runID {
		s.currentRunID = ""
	}
	s.mu.Unlock()
}

// CurrentRunID returns the active run id, or "" when idle.
func (s *Session) CurrentRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRunID
}

// SetThreadID records the current conversation identity.
func (s *Session) SetThreadID(threadID string) {
	s.mu.Lock()
	s.threadID = threadID
	s.mu.Unlock()
}

func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// ReplaceTools swaps the tool set wholesale, as every run and trigger
// request re-registers the peer's tools.
func (s *Session) ReplaceTools(set *tools.Set) {
	s.mu.Lock()
	s.tools = set
	s.mu.Unlock()
}

func (s *Session) Tools() *tools.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// SetState stores the peer-supplied contextual state blob.
func (s *Session) SetState(state json.RawMessage) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) State() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the conversation history.
func (s *Session) SetHistory(msgs []protocol.Message) {
	s.mu.Lock()
	s.history = msgs
	s.mu.Unlock()
}

// SetMCPHeaders stores header overrides scoped to one execution. Callers
// must clear them in a deferred block on every exit path.
func (s *Session) SetMCPHeaders(headers map[string]string) {
	s.mu.Lock()
	s.mcpHeaders = headers
	s.mu.Unlock()
}

// MCPHeaders returns the current per-execution header overrides.
func (s *Session) MCPHeaders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mcpHeaders
}

// ClearMCPHeaders drops the per-execution header overrides.
func (s *Session) ClearMCPHeaders() {
	s.mu.Lock()
	s.mcpHeaders = nil
	s.mu.Unlock()
}

// Close cancels the session context and rejects every pending tool call
// so awaiting run loops unwind instead of hanging. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.Pending.RejectAll(ErrSessionClosed)
}
