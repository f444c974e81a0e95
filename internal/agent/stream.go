package agent

import (
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentwire/internal/providers"
	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/toolcall"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// streamedCall accumulates one model tool invocation as it streams in.
type streamedCall struct {
	index       int
	id          string
	name        string
	args        strings.Builder
	argsEmitted bool

	// future is non-nil for tools the peer executes; it is registered
	// synchronously before TOOL_CALL_START is emitted so a result can
	// never arrive before the pending entry exists.
	future <-chan toolcall.Outcome
}

// turnState mirrors one model turn onto the event protocol while
// collecting the assistant message and its tool calls.
type turnState struct {
	input  *runtime.RunInput
	events runtime.EventEmitter

	err       error
	openMsgID string
	lastMsgID string
	text      strings.Builder

	current *streamedCall
	calls   []*streamedCall
}

func newTurnState(input *runtime.RunInput, events runtime.EventEmitter) *turnState {
	return &turnState{input: input, events: events}
}

func (st *turnState) emit(e protocol.Event) {
	if st.err != nil {
		return
	}
	if err := st.events.Emit(e); err != nil {
		st.err = err
	}
}

func (st *turnState) onChunk(c providers.Chunk) {
	if st.err != nil {
		return
	}

	switch {
	case c.TextDelta != "":
		if st.openMsgID == "" {
			st.openMsgID = uuid.NewString()
			st.lastMsgID = st.openMsgID
			st.emit(protocol.NewTextMessageStart(st.input.RunID, st.openMsgID, protocol.RoleAssistant))
		}
		st.text.WriteString(c.TextDelta)
		st.emit(protocol.NewTextMessageContent(st.input.RunID, st.openMsgID, c.TextDelta))

	case c.ToolCall != nil:
		st.closeMessage()
		if st.current == nil || st.current.index != c.ToolCall.Index {
			st.closeCall()
			st.startCall(c.ToolCall)
		}
		if st.current != nil && c.ToolCall.ArgsDelta != "" {
			st.current.args.WriteString(c.ToolCall.ArgsDelta)
			st.current.argsEmitted = true
			st.emit(protocol.NewToolCallArgs(st.input.RunID, st.current.id, c.ToolCall.ArgsDelta))
		}
	}
}

func (st *turnState) startCall(tc *providers.ToolCallChunk) {
	call := &streamedCall{index: tc.Index, id: tc.ID, name: tc.Name}
	if call.id == "" {
		call.id = uuid.NewString()
	}

	if d, ok := st.input.Tools.Get(call.name); ok && !d.IsRemote() {
		future, err := st.input.Session.Pending.Register(call.id)
		if err != nil {
			st.err = err
			return
		}
		call.future = future
	}

	st.emit(protocol.NewToolCallStart(st.input.RunID, call.id, call.name, st.lastMsgID))
	st.current = call
	st.calls = append(st.calls, call)
}

func (st *turnState) closeMessage() {
	if st.openMsgID == "" {
		return
	}
	st.emit(protocol.NewTextMessageEnd(st.input.RunID, st.openMsgID))
	st.openMsgID = ""
}

func (st *turnState) closeCall() {
	if st.current == nil {
		return
	}
	if !st.current.argsEmitted {
		// Tools without arguments still stream a parseable object.
		st.emit(protocol.NewToolCallArgs(st.input.RunID, st.current.id, "{}"))
	}
	st.emit(protocol.NewToolCallEnd(st.input.RunID, st.current.id))
	st.current = nil
}

// closeAll ends any open message and tool call at end of stream, including
// on the error path so peers never see a dangling START.
func (st *turnState) closeAll() {
	st.closeMessage()
	st.closeCall()
}

// assistantMessage materializes the turn's model output in the neutral
// schema.
func (st *turnState) assistantMessage() protocol.Message {
	id := st.lastMsgID
	if id == "" {
		id = uuid.NewString()
	}
	msg := protocol.Message{ID: id, Role: protocol.RoleAssistant, Content: st.text.String()}
	for _, call := range st.calls {
		args := call.args.String()
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, protocol.ToolCall{ID: call.id, Name: call.name, Arguments: args})
	}
	return msg
}
