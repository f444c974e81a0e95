// Package agent implements the conversational run loop: it drives a
// provider stream, mirrors model output onto the event protocol, and
// pauses on tool calls until the coordinator resolves them.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentwire/internal/providers"
	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/internal/toolcall"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

const defaultMaxTurns = 10

// Config bounds one loop instance.
type Config struct {
	// ToolCallTimeout bounds each wait on a peer tool result. Zero waits
	// until session close or context cancellation.
	ToolCallTimeout time.Duration

	// MaxTurns bounds model round trips per run.
	MaxTurns int
}

// Loop is a runtime.Agent over an opaque provider stream.
type Loop struct {
	name     string
	provider providers.Provider
	remotes  *tools.ProviderRegistry
	cfg      Config
}

func NewLoop(name string, provider providers.Provider, remotes *tools.ProviderRegistry, cfg Config) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	return &Loop{name: name, provider: provider, remotes: remotes, cfg: cfg}
}

func (l *Loop) Name() string { return l.name }

// Run executes one conversational run. See runtime.Agent for the event
// obligations it upholds.
func (l *Loop) Run(ctx context.Context, input *runtime.RunInput, events runtime.EventEmitter) *runtime.RunResult {
	emit := func(e protocol.Event) error { return events.Emit(e) }

	if err := emit(protocol.NewRunStarted(input.ThreadID, input.RunID)); err != nil {
		return l.fail(input.RunID, events, fmt.Errorf("emit run start: %w", err))
	}
	if err := emit(protocol.NewMessagesSnapshot(input.RunID, input.Messages)); err != nil {
		return l.fail(input.RunID, events, fmt.Errorf("emit snapshot: %w", err))
	}

	history := append([]protocol.Message(nil), input.Messages...)

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		st := newTurnState(input, events)

		err := l.provider.Stream(ctx, providers.Request{
			SystemPrompt: input.SystemPrompt,
			Messages:     history,
			Tools:        toolSchemas(input.Tools),
		}, st.onChunk)
		st.closeAll()

		if err == nil {
			err = st.err
		}
		if err != nil {
			return l.fail(input.RunID, events, fmt.Errorf("model stream: %w", err))
		}

		history = append(history, st.assistantMessage())

		if len(st.calls) == 0 {
			emit(protocol.NewRunFinished(input.ThreadID, input.RunID, nil))
			return &runtime.RunResult{Success: true, History: history}
		}

		for _, call := range st.calls {
			output, failed := l.settleCall(ctx, input, call)
			if failed != nil {
				return l.fail(input.RunID, events, failed)
			}
			history = append(history, protocol.Message{
				Role:       protocol.RoleTool,
				ToolCallID: call.id,
				ToolName:   call.name,
				Output:     output,
			})
		}
	}

	return l.fail(input.RunID, events, fmt.Errorf("run exceeded %d model turns", l.cfg.MaxTurns))
}

// settleCall produces a tool-result string for one call. Execution
// failures and timeouts come back as tool error output the model can react
// to; only an unwinding session aborts the run.
func (l *Loop) settleCall(ctx context.Context, input *runtime.RunInput, call *streamedCall) (string, error) {
	args := call.args.String()
	if args == "" {
		args = "{}"
	}

	descriptor, known := input.Tools.Get(call.name)
	if !known {
		return "Error: unknown tool " + call.name, nil
	}
	if err := descriptor.ValidateArgs(args); err != nil {
		// The registered future will never be awaited; drop it so a
		// late peer result is treated as stale.
		if call.future != nil {
			input.Session.Pending.Abandon(call.id)
		}
		return "Error: " + err.Error(), nil
	}

	if descriptor.IsRemote() {
		return l.executeRemote(ctx, input.Session, descriptor, args)
	}

	content, err := toolcall.Await(ctx, call.future, l.cfg.ToolCallTimeout)
	switch {
	case err == nil:
		return content, nil
	case errors.Is(err, toolcall.ErrToolCallTimeout):
		input.Session.Pending.Abandon(call.id)
		slog.Warn("tool call timed out", "tool", call.name, "tool_call_id", call.id)
		return "Error: " + protocol.ErrToolTimeout + ": " + err.Error(), nil
	default:
		// Session closed or run context canceled: unwind the run.
		return "", err
	}
}

func (l *Loop) executeRemote(ctx context.Context, sess *session.Session, d *tools.Descriptor, argsJSON string) (string, error) {
	provider, ok := l.remotes.Get(d.Remote.Provider)
	if !ok {
		return "Error: remote tool provider " + d.Remote.Provider + " is not configured", nil
	}

	args, err := decodeArgs(argsJSON)
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	content, err := provider.ExecuteTool(ctx, d.Remote.OriginalName, args, sess.MCPHeaders())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("remote tool failed", "tool", d.Name, "provider", d.Remote.Provider, "error", err)
		return "Error: " + err.Error(), nil
	}
	return content, nil
}

func (l *Loop) fail(runID string, events runtime.EventEmitter, err error) *runtime.RunResult {
	events.Emit(protocol.NewRunError(runID, err.Error()))
	return &runtime.RunResult{Success: false, Error: err.Error()}
}

func toolSchemas(set *tools.Set) []providers.ToolSchema {
	var out []providers.ToolSchema
	for _, d := range set.List() {
		out = append(out, providers.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

func decodeArgs(argsJSON string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(argsJSON) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return args, nil
}
