// Package protocol defines the wire format for the agentwire runtime:
// the outbound event stream consumed by connected peers and the inbound
// request envelope they send back. This package is importable by clients.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType identifies an event variant.
type EventType string

// Outbound event types, one per protocol moment.
const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
)

// Event is the tagged union pushed to peers, one event per frame.
// Only the fields relevant to Type are populated.
type Event struct {
	Type        EventType `json:"type"`
	TimestampMs int64     `json:"timestamp"`

	ThreadID string          `json:"threadId,omitempty"`
	RunID    string          `json:"runId,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`

	// RUN_ERROR
	Message string `json:"message,omitempty"`

	// MESSAGES_SNAPSHOT
	Messages []Message `json:"messages,omitempty"`

	// TEXT_MESSAGE_*
	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role,omitempty"`
	Delta     string `json:"delta,omitempty"`

	// TOOL_CALL_*
	ToolCallID      string `json:"toolCallId,omitempty"`
	ToolCallName    string `json:"toolCallName,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// IsTerminal reports whether the event closes a run.
func (e Event) IsTerminal() bool {
	return e.Type == EventRunFinished || e.Type == EventRunError
}

func now() int64 { return time.Now().UnixMilli() }

func NewRunStarted(threadID, runID string) Event {
	return Event{Type: EventRunStarted, TimestampMs: now(), ThreadID: threadID, RunID: runID}
}

func NewRunFinished(threadID, runID string, result json.RawMessage) Event {
	return Event{Type: EventRunFinished, TimestampMs: now(), ThreadID: threadID, RunID: runID, Result: result}
}

func NewRunError(runID, message string) Event {
	return Event{Type: EventRunError, TimestampMs: now(), RunID: runID, Message: message}
}

func NewMessagesSnapshot(runID string, messages []Message) Event {
	return Event{Type: EventMessagesSnapshot, TimestampMs: now(), RunID: runID, Messages: messages}
}

func NewTextMessageStart(runID, messageID, role string) Event {
	return Event{Type: EventTextMessageStart, TimestampMs: now(), RunID: runID, MessageID: messageID, Role: role}
}

func NewTextMessageContent(runID, messageID, delta string) Event {
	return Event{Type: EventTextMessageContent, TimestampMs: now(), RunID: runID, MessageID: messageID, Delta: delta}
}

func NewTextMessageEnd(runID, messageID string) Event {
	return Event{Type: EventTextMessageEnd, TimestampMs: now(), RunID: runID, MessageID: messageID}
}

func NewToolCallStart(runID, toolCallID, toolCallName, parentMessageID string) Event {
	return Event{
		Type: EventToolCallStart, TimestampMs: now(), RunID: runID,
		ToolCallID: toolCallID, ToolCallName: toolCallName, ParentMessageID: parentMessageID,
	}
}

func NewToolCallArgs(runID, toolCallID, delta string) Event {
	return Event{Type: EventToolCallArgs, TimestampMs: now(), RunID: runID, ToolCallID: toolCallID, Delta: delta}
}

func NewToolCallEnd(runID, toolCallID string) Event {
	return Event{Type: EventToolCallEnd, TimestampMs: now(), RunID: runID, ToolCallID: toolCallID}
}
