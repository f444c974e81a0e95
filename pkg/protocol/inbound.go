package protocol

import "encoding/json"

// Inbound request types handled by the gateway. Plugins may register more.
const (
	RequestRun         = "run"
	RequestToolResult  = "tool_result"
	RequestRunWorkflow = "run_workflow"
)

// InboundMessage is the envelope for client → server frames. The payload
// fields live beside "type" in the same object; Raw keeps the original
// bytes for the dispatched handler to parse into its typed payload.
type InboundMessage struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ParseInbound extracts the request type and retains the raw bytes.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &InboundMessage{Type: envelope.Type, Raw: data}, nil
}

// ToolDescriptor is a tool definition registered by the peer per request.
// Remote marks tools executed server-side against an external provider
// instead of round-tripping back to the peer.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Remote      *RemoteBinding `json:"remote,omitempty"`
}

// RemoteBinding names the server-side provider that executes a remote tool
// and the tool's original name on that provider.
type RemoteBinding struct {
	Provider     string `json:"provider"`
	OriginalName string `json:"originalName"`
}

// RunPayload starts or continues a conversational run.
type RunPayload struct {
	ThreadID string           `json:"threadId"`
	RunID    string           `json:"runId,omitempty"`
	Agent    string           `json:"agent,omitempty"`
	Messages json.RawMessage  `json:"messages,omitempty"`
	Tools    []ToolDescriptor `json:"tools,omitempty"`
	State    json.RawMessage  `json:"state,omitempty"`
}

// ToolResultPayload resolves a pending tool call.
type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
}

// RunWorkflowPayload triggers one stateless workflow execution.
type RunWorkflowPayload struct {
	Runner         string           `json:"runner"`
	WorkflowID     string           `json:"workflowId"`
	Inputs         json.RawMessage  `json:"inputs,omitempty"`
	Tools          []ToolDescriptor `json:"tools,omitempty"`
	RunID          string           `json:"runId,omitempty"`
	ThreadID       string           `json:"threadId,omitempty"`
	ForwardedProps *ForwardedProps  `json:"forwardedProps,omitempty"`
}

// ForwardedProps carries per-trigger execution context supplied by the
// peer. MCPHeaders override remote tool provider headers for the duration
// of a single execution.
type ForwardedProps struct {
	MCPHeaders map[string]string `json:"mcpHeaders,omitempty"`
}
