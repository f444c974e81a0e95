package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/agentwire/internal/gateway"
	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/internal/tracing"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// Plugin wires the "run_workflow" request type into the gateway. The
// transport and session layers know nothing about workflows; this
// registration is the whole integration.
type Plugin struct {
	runners *Registry
}

func NewPlugin(runners *Registry) *Plugin {
	return &Plugin{runners: runners}
}

func (p *Plugin) Name() string { return "workflow" }

func (p *Plugin) RegisterHandlers(r gateway.Registrar) error {
	return r.RegisterMessageHandler(protocol.RequestRunWorkflow, p.handleRunWorkflow)
}

func (p *Plugin) handleRunWorkflow(ctx context.Context, client *gateway.Client, msg *protocol.InboundMessage) {
	var payload protocol.RunWorkflowPayload
	if err := json.Unmarshal(msg.Raw, &payload); err != nil {
		client.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": "+err.Error()))
		return
	}

	runID := payload.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	runner, ok := p.runners.Get(payload.Runner)
	if !ok {
		client.SendEvent(protocol.NewRunError(runID, fmt.Sprintf(
			"%s: workflow runner %q not found (available: %v)",
			protocol.ErrNotFound, payload.Runner, p.runners.Names(),
		)))
		return
	}

	toolSet, err := tools.NewSet(payload.Tools)
	if err != nil {
		client.SendEvent(protocol.NewRunError(runID, protocol.ErrInvalidRequest+": tools: "+err.Error()))
		return
	}

	sess := client.Session()
	if err := sess.BeginRun(runID); err != nil {
		code := protocol.ErrAlreadyRunning
		if errors.Is(err, session.ErrSessionClosed) {
			code = protocol.ErrSessionClosed
		}
		client.SendEvent(protocol.NewRunError(runID, code+": "+err.Error()))
		return
	}

	sess.SetThreadID(payload.ThreadID)
	sess.ReplaceTools(toolSet)
	if payload.ForwardedProps != nil && len(payload.ForwardedProps.MCPHeaders) > 0 {
		sess.SetMCPHeaders(payload.ForwardedProps.MCPHeaders)
	}

	input := &Input{
		Session:    sess,
		RunID:      runID,
		ThreadID:   payload.ThreadID,
		WorkflowID: payload.WorkflowID,
		Inputs:     payload.Inputs,
		Tools:      toolSet,
	}

	go p.execute(sess.Context(), client, runner, input)
}

func (p *Plugin) execute(ctx context.Context, sink runtime.EventSink, runner Runner, input *Input) {
	sess := input.Session
	emitter := runtime.NewRunEmitter(sink, input.RunID)

	defer sess.EndRun(input.RunID)
	// MCP header overrides are scoped to this one execution; drop them on
	// every exit path, panics included.
	defer sess.ClearMCPHeaders()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("workflow panic", "runner", runner.Name(), "run_id", input.RunID, "panic", r)
			emitter.Emit(protocol.NewRunError(input.RunID, protocol.ErrInternal+": "+fmt.Sprint(r)))
		}
	}()

	ctx, span := tracing.Tracer().Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("agentwire.runner", runner.Name()),
		attribute.String("agentwire.workflow_id", input.WorkflowID),
		attribute.String("agentwire.run_id", input.RunID),
	)
	defer span.End()

	result := runner.Execute(ctx, input, emitter)
	if result.Success {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, result.Error)
	slog.Warn("workflow trigger failed", "runner", runner.Name(), "run_id", input.RunID, "error", result.Error)
}

var _ gateway.Plugin = (*Plugin)(nil)
