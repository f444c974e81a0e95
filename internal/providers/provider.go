// Package providers wraps upstream model APIs behind an opaque streaming
// boundary. The runtime only sees chunks of text and tool-call deltas;
// provider-specific message shapes never leave this package.
package providers

import (
	"context"

	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// ToolSchema is the provider-facing view of one tool descriptor.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one model invocation: the neutral history plus tool schemas.
type Request struct {
	SystemPrompt string
	Messages     []protocol.Message
	Tools        []ToolSchema
}

// ToolCallChunk is a streamed fragment of a model tool invocation. ID and
// Name arrive on the first fragment for an index; ArgsDelta fragments
// concatenate into the JSON argument object.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	ArgsDelta string
}

// Chunk is one streamed unit of model output.
type Chunk struct {
	TextDelta string
	ToolCall  *ToolCallChunk
	Done      bool
}

// Provider streams one model response, invoking onChunk for every unit in
// arrival order. Stream returns once the response is complete or fails.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onChunk func(Chunk)) error
}
