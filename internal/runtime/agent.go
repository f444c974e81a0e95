// Package runtime defines the execution contracts shared by conversational
// agents and the gateway: the Agent interface, the event emitter bound to
// a session's outbound channel, and history normalization.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// RunInput carries everything an agent needs for one conversational run.
type RunInput struct {
	Session      *session.Session
	RunID        string
	ThreadID     string
	Messages     []protocol.Message
	Tools        *tools.Set
	State        json.RawMessage
	SystemPrompt string
}

// RunResult reports the outcome of a run. Success=false implies RUN_ERROR
// was emitted and RUN_FINISHED was not.
type RunResult struct {
	Success bool
	Error   string
	History []protocol.Message
}

// Agent turns a message history plus tool set into a strictly ordered
// stream of protocol events, pausing on tool calls. Implementations must:
//
//  1. emit RUN_STARTED first and MESSAGES_SNAPSHOT second;
//  2. stream model output as TEXT_MESSAGE triples and tool invocations as
//     TOOL_CALL triples, feeding each tool result back into the model;
//  3. on failure, close any open message, emit RUN_ERROR, and return
//     Success=false;
//  4. on success, emit RUN_FINISHED and return the updated history.
type Agent interface {
	Name() string
	Run(ctx context.Context, input *RunInput, events EventEmitter) *RunResult
}

// EventEmitter delivers protocol events to the session's peer.
type EventEmitter interface {
	Emit(protocol.Event) error
}
