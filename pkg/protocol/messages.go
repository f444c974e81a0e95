package protocol

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model-initiated request to invoke a named tool.
// Arguments is the full JSON-encoded argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the provider-neutral conversation message schema. It is the
// only shape allowed into shared conversation history; provider-specific
// fields are dropped when raw history is parsed into it.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// Assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// Tool result messages.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Output     string `json:"output,omitempty"`
}

// SanitizeMessages re-parses raw message JSON into the strict schema.
// Unknown fields (a previous provider's correlation ids, vendor metadata)
// are discarded by construction rather than by a deny-list, so new
// providers cannot reintroduce leaked fields.
func SanitizeMessages(raw json.RawMessage) ([]Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SanitizeHistory round-trips already-typed messages through the strict
// schema. Used before handing history recorded by one agent to another.
func SanitizeHistory(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return msgs
	}
	clean, err := SanitizeMessages(data)
	if err != nil {
		return msgs
	}
	return clean
}
