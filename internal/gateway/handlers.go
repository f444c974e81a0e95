package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/internal/tracing"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// CoreHandlers registers the built-in request types: "run" starts or
// continues a conversational run, "tool_result" resolves a pending tool
// call. It is wired as the first plugin at startup.
type CoreHandlers struct {
	agents       *runtime.Registry
	defaultAgent string
	systemPrompt string
	limiter      *RateLimiter
}

func NewCoreHandlers(agents *runtime.Registry, defaultAgent, systemPrompt string, limiter *RateLimiter) *CoreHandlers {
	return &CoreHandlers{
		agents:       agents,
		defaultAgent: defaultAgent,
		systemPrompt: systemPrompt,
		limiter:      limiter,
	}
}

func (h *CoreHandlers) Name() string { return "core" }

func (h *CoreHandlers) RegisterHandlers(r Registrar) error {
	if err := r.RegisterMessageHandler(protocol.RequestRun, h.handleRun); err != nil {
		return err
	}
	return r.RegisterMessageHandler(protocol.RequestToolResult, h.handleToolResult)
}

func (h *CoreHandlers) handleRun(ctx context.Context, client *Client, msg *protocol.InboundMessage) {
	var p protocol.RunPayload
	if err := json.Unmarshal(msg.Raw, &p); err != nil {
		client.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": "+err.Error()))
		return
	}

	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if h.limiter != nil && !h.limiter.Allow(client.ID()) {
		client.SendEvent(protocol.NewRunError(runID, protocol.ErrRateLimited+": too many run requests"))
		return
	}

	incoming, err := protocol.SanitizeMessages(p.Messages)
	if err != nil {
		client.SendEvent(protocol.NewRunError(runID, protocol.ErrInvalidRequest+": messages: "+err.Error()))
		return
	}
	toolSet, err := tools.NewSet(p.Tools)
	if err != nil {
		client.SendEvent(protocol.NewRunError(runID, protocol.ErrInvalidRequest+": tools: "+err.Error()))
		return
	}

	agentName := p.Agent
	if agentName == "" {
		agentName = h.defaultAgent
	}
	ag, err := h.agents.Get(agentName)
	if err != nil {
		client.SendEvent(protocol.NewRunError(runID, protocol.ErrNotFound+": "+err.Error()))
		return
	}

	sess := client.Session()
	if err := sess.BeginRun(runID); err != nil {
		client.SendEvent(protocol.NewRunError(runID, beginRunCode(err)+": "+err.Error()))
		return
	}

	sess.SetThreadID(p.ThreadID)
	sess.ReplaceTools(toolSet)
	sess.SetState(p.State)
	merged := runtime.MergeIncoming(sess.History(), incoming)
	sess.SetHistory(merged)

	input := &runtime.RunInput{
		Session:      sess,
		RunID:        runID,
		ThreadID:     p.ThreadID,
		Messages:     merged,
		Tools:        toolSet,
		State:        p.State,
		SystemPrompt: h.systemPrompt,
	}

	// The session context unwinds the run on disconnect.
	go h.executeRun(sess.Context(), client, ag, input)
}

func (h *CoreHandlers) executeRun(ctx context.Context, client *Client, ag runtime.Agent, input *runtime.RunInput) {
	sess := input.Session
	emitter := runtime.NewRunEmitter(client, input.RunID)

	defer sess.EndRun(input.RunID)
	defer sess.ClearMCPHeaders()
	defer func() {
		// A panicking agent must not take down the session or its peers.
		if r := recover(); r != nil {
			slog.Error("agent panic", "agent", ag.Name(), "run_id", input.RunID, "panic", r)
			emitter.Emit(protocol.NewRunError(input.RunID, protocol.ErrInternal+": "+fmt.Sprint(r)))
		}
	}()

	ctx, span := tracing.Tracer().Start(ctx, "agent.run")
	span.SetAttributes(
		attribute.String("agentwire.agent", ag.Name()),
		attribute.String("agentwire.run_id", input.RunID),
		attribute.String("agentwire.thread_id", input.ThreadID),
		attribute.Int("agentwire.tools", input.Tools.Len()),
	)
	defer span.End()

	result := ag.Run(ctx, input, emitter)
	if result.Success {
		sess.SetHistory(result.History)
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, result.Error)
	slog.Warn("run failed", "agent", ag.Name(), "run_id", input.RunID, "error", result.Error)
}

// beginRunCode maps a BeginRun rejection to its protocol error code.
func beginRunCode(err error) string {
	if errors.Is(err, session.ErrSessionClosed) {
		return protocol.ErrSessionClosed
	}
	return protocol.ErrAlreadyRunning
}

func (h *CoreHandlers) handleToolResult(ctx context.Context, client *Client, msg *protocol.InboundMessage) {
	var p protocol.ToolResultPayload
	if err := json.Unmarshal(msg.Raw, &p); err != nil {
		client.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": "+err.Error()))
		return
	}
	if p.ToolCallID == "" {
		client.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": tool_result requires toolCallId"))
		return
	}
	// Unknown ids are a logged no-op inside the coordinator.
	client.Session().Pending.Resolve(p.ToolCallID, p.Content)
}
