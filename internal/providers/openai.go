package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// OpenAIProvider streams completions from any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIProvider creates a provider. baseURL may point at any
// compatible gateway; empty keeps the official endpoint.
func NewOpenAIProvider(name, apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Stream converts the neutral request into the OpenAI wire shape, streams
// the response, and forwards text and tool-call deltas as chunks.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onChunk func(Chunk)) error {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req.SystemPrompt, req.Messages),
		Stream:   true,
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			onChunk(Chunk{Done: true})
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			onChunk(Chunk{TextDelta: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			onChunk(Chunk{ToolCall: &ToolCallChunk{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				ArgsDelta: tc.Function.Arguments,
			}})
		}
	}
}

// toOpenAIMessages maps neutral history into the OpenAI shape. The reverse
// direction never happens here: history is recorded from the event stream
// in the neutral schema, so vendor fields cannot leak back.
func toOpenAIMessages(systemPrompt string, msgs []protocol.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}

	for _, m := range msgs {
		switch m.Role {
		case protocol.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Output,
				Name:       m.ToolName,
				ToolCallID: m.ToolCallID,
			})
		case protocol.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, msg)
		case protocol.RoleSystem, protocol.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		default:
			slog.Warn("skipping message with unknown role", "role", m.Role)
		}
	}
	return out
}
