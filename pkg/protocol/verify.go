package protocol

import (
	"encoding/json"
	"fmt"
)

// SequenceVerifier checks the ordering invariants of a single run's event
// stream. Feed events in emission order, then call Finish. Recorders and
// tests use it to reject out-of-order traces.
type SequenceVerifier struct {
	started  bool
	terminal bool
	snapshot bool

	activeMessage string
	textSeen      bool
	texts         map[string]string
	doneMessages  map[string]bool

	activeCalls map[string]string // toolCallId → accumulated args
	doneCalls   map[string]string
}

func NewSequenceVerifier() *SequenceVerifier {
	return &SequenceVerifier{
		texts:        make(map[string]string),
		doneMessages: make(map[string]bool),
		activeCalls:  make(map[string]string),
		doneCalls:    make(map[string]string),
	}
}

// Feed validates the next event in the stream.
func (v *SequenceVerifier) Feed(e Event) error {
	if v.terminal {
		return fmt.Errorf("event %s after terminal event", e.Type)
	}
	if !v.started && e.Type != EventRunStarted {
		return fmt.Errorf("event %s before RUN_STARTED", e.Type)
	}

	switch e.Type {
	case EventRunStarted:
		if v.started {
			return fmt.Errorf("duplicate RUN_STARTED")
		}
		v.started = true

	case EventRunFinished, EventRunError:
		v.terminal = true

	case EventMessagesSnapshot:
		if v.snapshot {
			return fmt.Errorf("duplicate MESSAGES_SNAPSHOT")
		}
		if v.textSeen {
			return fmt.Errorf("MESSAGES_SNAPSHOT after TEXT_MESSAGE events")
		}
		v.snapshot = true

	case EventTextMessageStart:
		v.textSeen = true
		if v.activeMessage != "" {
			return fmt.Errorf("TEXT_MESSAGE_START for %s while %s is open", e.MessageID, v.activeMessage)
		}
		if v.doneMessages[e.MessageID] {
			return fmt.Errorf("message %s started twice", e.MessageID)
		}
		if e.MessageID == "" {
			return fmt.Errorf("TEXT_MESSAGE_START without messageId")
		}
		v.activeMessage = e.MessageID

	case EventTextMessageContent:
		if e.MessageID != v.activeMessage {
			return fmt.Errorf("TEXT_MESSAGE_CONTENT for %s but open message is %q", e.MessageID, v.activeMessage)
		}
		v.texts[e.MessageID] += e.Delta

	case EventTextMessageEnd:
		if e.MessageID != v.activeMessage {
			return fmt.Errorf("TEXT_MESSAGE_END for %s but open message is %q", e.MessageID, v.activeMessage)
		}
		v.doneMessages[e.MessageID] = true
		v.activeMessage = ""

	case EventToolCallStart:
		if _, open := v.activeCalls[e.ToolCallID]; open {
			return fmt.Errorf("tool call %s already outstanding", e.ToolCallID)
		}
		if e.ToolCallID == "" {
			return fmt.Errorf("TOOL_CALL_START without toolCallId")
		}
		v.activeCalls[e.ToolCallID] = ""

	case EventToolCallArgs:
		if _, open := v.activeCalls[e.ToolCallID]; !open {
			return fmt.Errorf("TOOL_CALL_ARGS for unopened call %s", e.ToolCallID)
		}
		v.activeCalls[e.ToolCallID] += e.Delta

	case EventToolCallEnd:
		args, open := v.activeCalls[e.ToolCallID]
		if !open {
			return fmt.Errorf("TOOL_CALL_END for unopened call %s", e.ToolCallID)
		}
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return fmt.Errorf("tool call %s args are not valid JSON: %q", e.ToolCallID, args)
		}
		delete(v.activeCalls, e.ToolCallID)
		v.doneCalls[e.ToolCallID] = args

	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Finish validates end-of-stream conditions.
func (v *SequenceVerifier) Finish() error {
	if !v.started {
		return fmt.Errorf("no RUN_STARTED")
	}
	if !v.terminal {
		return fmt.Errorf("no terminal event")
	}
	if v.activeMessage != "" {
		return fmt.Errorf("message %s left open", v.activeMessage)
	}
	for id := range v.activeCalls {
		return fmt.Errorf("tool call %s left open", id)
	}
	return nil
}

// Text returns the concatenated deltas for a completed message.
func (v *SequenceVerifier) Text(messageID string) string { return v.texts[messageID] }

// ToolArgs returns the concatenated argument JSON for a completed call.
func (v *SequenceVerifier) ToolArgs(toolCallID string) string { return v.doneCalls[toolCallID] }

// VerifySequence validates a full recorded trace.
func VerifySequence(events []Event) error {
	v := NewSequenceVerifier()
	for i, e := range events {
		if err := v.Feed(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return v.Finish()
}
