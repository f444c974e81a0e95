package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentwire/internal/gateway"
	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/toolcall"
	"github.com/nextlevelbuilder/agentwire/internal/workflow"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// stubRunner records its inputs and emits a minimal successful run.
type stubRunner struct {
	executed bool
	gotID    string
}

func (r *stubRunner) Name() string { return "stub" }

func (r *stubRunner) Execute(ctx context.Context, in *workflow.Input, em runtime.EventEmitter) *workflow.Result {
	r.executed = true
	r.gotID = in.WorkflowID
	em.Emit(protocol.NewRunStarted(in.ThreadID, in.RunID))
	em.Emit(protocol.NewTextMessageStart(in.RunID, "m1", protocol.RoleAssistant))
	em.Emit(protocol.NewTextMessageContent(in.RunID, "m1", "workflow output"))
	em.Emit(protocol.NewTextMessageEnd(in.RunID, "m1"))
	em.Emit(protocol.NewRunFinished(in.ThreadID, in.RunID, nil))
	return &workflow.Result{Success: true}
}

// echoAgent answers each run with the last user message.
type echoAgent struct{}

func (a *echoAgent) Name() string { return "echo" }

func (a *echoAgent) Run(ctx context.Context, in *runtime.RunInput, em runtime.EventEmitter) *runtime.RunResult {
	em.Emit(protocol.NewRunStarted(in.ThreadID, in.RunID))
	em.Emit(protocol.NewMessagesSnapshot(in.RunID, in.Messages))

	reply := "nothing to echo"
	for _, m := range in.Messages {
		if m.Role == protocol.RoleUser {
			reply = m.Content
		}
	}
	em.Emit(protocol.NewTextMessageStart(in.RunID, "m1", protocol.RoleAssistant))
	em.Emit(protocol.NewTextMessageContent(in.RunID, "m1", reply))
	em.Emit(protocol.NewTextMessageEnd(in.RunID, "m1"))
	em.Emit(protocol.NewRunFinished(in.ThreadID, in.RunID, nil))

	history := append(in.Messages, protocol.Message{ID: "m1", Role: protocol.RoleAssistant, Content: reply})
	return &runtime.RunResult{Success: true, History: history}
}

// toolAgent issues one tool call and echoes the peer's result.
type toolAgent struct{}

func (a *toolAgent) Name() string { return "toolbot" }

func (a *toolAgent) Run(ctx context.Context, in *runtime.RunInput, em runtime.EventEmitter) *runtime.RunResult {
	em.Emit(protocol.NewRunStarted(in.ThreadID, in.RunID))
	em.Emit(protocol.NewMessagesSnapshot(in.RunID, in.Messages))

	future, err := in.Session.Pending.Register("call-1")
	if err != nil {
		em.Emit(protocol.NewRunError(in.RunID, err.Error()))
		return &runtime.RunResult{Success: false, Error: err.Error()}
	}
	em.Emit(protocol.NewToolCallStart(in.RunID, "call-1", "lookup", ""))
	em.Emit(protocol.NewToolCallEnd(in.RunID, "call-1"))

	content, err := toolcall.Await(ctx, future, 5*time.Second)
	if err != nil {
		em.Emit(protocol.NewRunError(in.RunID, err.Error()))
		return &runtime.RunResult{Success: false, Error: err.Error()}
	}

	em.Emit(protocol.NewTextMessageStart(in.RunID, "m1", protocol.RoleAssistant))
	em.Emit(protocol.NewTextMessageContent(in.RunID, "m1", content))
	em.Emit(protocol.NewTextMessageEnd(in.RunID, "m1"))
	em.Emit(protocol.NewRunFinished(in.ThreadID, in.RunID, nil))
	return &runtime.RunResult{Success: true, History: in.Messages}
}

func startGateway(t *testing.T) (*httptest.Server, *websocket.Conn, *stubRunner) {
	t.Helper()

	agents := runtime.NewRegistry()
	if err := agents.Register(&echoAgent{}); err != nil {
		t.Fatal(err)
	}
	if err := agents.Register(&toolAgent{}); err != nil {
		t.Fatal(err)
	}

	runner := &stubRunner{}
	runners := workflow.NewRegistry()
	if err := runners.Register(runner); err != nil {
		t.Fatal(err)
	}

	srv := gateway.NewServer("")
	err := srv.Use(
		gateway.NewCoreHandlers(agents, "echo", "", nil),
		workflow.NewPlugin(runners),
	)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatal(err)
	}
	return ts, conn, runner
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatal(err)
	}
}

// readUntilTerminal collects events up to and including RUN_FINISHED or
// RUN_ERROR, invoking onEvent for each one as it arrives.
func readUntilTerminal(t *testing.T, conn *websocket.Conn, onEvent func(protocol.Event)) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (got %d events)", err, len(events))
		}
		var e protocol.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatal(err)
		}
		events = append(events, e)
		if onEvent != nil {
			onEvent(e)
		}
		if e.IsTerminal() {
			return events
		}
	}
}

func TestGateway_RunRoundTrip(t *testing.T) {
	ts, conn, _ := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"messages": []map[string]any{{"role": "user", "content": "hello there"}},
	})

	events := readUntilTerminal(t, conn, nil)
	if err := protocol.VerifySequence(events); err != nil {
		t.Fatalf("event trace invalid: %v", err)
	}
	if events[len(events)-1].Type != protocol.EventRunFinished {
		t.Fatalf("final event = %s", events[len(events)-1].Type)
	}

	var text strings.Builder
	for _, e := range events {
		if e.Type == protocol.EventTextMessageContent {
			text.WriteString(e.Delta)
		}
	}
	if text.String() != "hello there" {
		t.Errorf("echoed text = %q", text.String())
	}
}

func TestGateway_ToolResultRoundTrip(t *testing.T) {
	ts, conn, _ := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"agent":    "toolbot",
		"messages": []map[string]any{{"role": "user", "content": "look it up"}},
	})

	events := readUntilTerminal(t, conn, func(e protocol.Event) {
		if e.Type == protocol.EventToolCallEnd {
			sendJSON(t, conn, map[string]any{
				"type":       "tool_result",
				"toolCallId": e.ToolCallID,
				"content":    "42",
			})
		}
	})

	if events[len(events)-1].Type != protocol.EventRunFinished {
		t.Fatalf("final event = %s", events[len(events)-1].Type)
	}
	var text strings.Builder
	for _, e := range events {
		if e.Type == protocol.EventTextMessageContent {
			text.WriteString(e.Delta)
		}
	}
	if text.String() != "42" {
		t.Errorf("tool result text = %q", text.String())
	}
}

func TestGateway_SecondRunWhileRunningIsRejected(t *testing.T) {
	ts, conn, _ := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"agent":    "toolbot",
		"runId":    "run-a",
		"messages": []map[string]any{{"role": "user", "content": "look it up"}},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []protocol.Event
	readOne := func() protocol.Event {
		t.Helper()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (got %d events)", err, len(events))
		}
		var e protocol.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatal(err)
		}
		events = append(events, e)
		return e
	}

	// Park the first run on its pending tool call.
	for {
		if e := readOne(); e.Type == protocol.EventToolCallEnd {
			break
		}
	}

	// A second run on the same connection bounces without touching the
	// in-flight stream.
	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"agent":    "echo",
		"runId":    "run-b",
		"messages": []map[string]any{{"role": "user", "content": "jump the queue"}},
	})
	rejection := readOne()
	if rejection.Type != protocol.EventRunError || rejection.RunID != "run-b" {
		t.Fatalf("rejection = %+v", rejection)
	}
	if !strings.Contains(rejection.Message, protocol.ErrAlreadyRunning) {
		t.Errorf("rejection message = %q", rejection.Message)
	}

	// The first run still completes cleanly.
	sendJSON(t, conn, map[string]any{
		"type":       "tool_result",
		"toolCallId": "call-1",
		"content":    "42",
	})
	for {
		if e := readOne(); e.RunID == "run-a" && e.IsTerminal() {
			break
		}
	}

	var first []protocol.Event
	for _, e := range events {
		if e.RunID == "run-a" {
			first = append(first, e)
		}
	}
	if err := protocol.VerifySequence(first); err != nil {
		t.Fatalf("first run's trace corrupted by the rejection: %v", err)
	}
	if first[len(first)-1].Type != protocol.EventRunFinished {
		t.Errorf("first run final event = %s", first[len(first)-1].Type)
	}
}

func TestGateway_UnknownAgent(t *testing.T) {
	ts, conn, _ := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"agent":    "no-such-agent",
	})

	events := readUntilTerminal(t, conn, nil)
	final := events[len(events)-1]
	if final.Type != protocol.EventRunError {
		t.Fatalf("final event = %s", final.Type)
	}
	if !strings.Contains(final.Message, protocol.ErrNotFound) {
		t.Errorf("message = %q", final.Message)
	}
	if !strings.Contains(final.Message, "echo") {
		t.Errorf("message should list available agents: %q", final.Message)
	}
}

func TestGateway_UnknownRequestType(t *testing.T) {
	ts, conn, _ := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{"type": "bogus"})

	events := readUntilTerminal(t, conn, nil)
	final := events[len(events)-1]
	if final.Type != protocol.EventRunError || !strings.Contains(final.Message, protocol.ErrInvalidRequest) {
		t.Fatalf("rejection = %+v", final)
	}

	// The connection survives; a valid run still works.
	sendJSON(t, conn, map[string]any{
		"type":     "run",
		"threadId": "t1",
		"messages": []map[string]any{{"role": "user", "content": "still alive"}},
	})
	events = readUntilTerminal(t, conn, nil)
	if events[len(events)-1].Type != protocol.EventRunFinished {
		t.Errorf("run after rejection failed: %s", events[len(events)-1].Type)
	}
}

func TestGateway_RunWorkflow(t *testing.T) {
	ts, conn, runner := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":       "run_workflow",
		"runner":     "stub",
		"workflowId": "wf-1",
		"inputs":     map[string]any{"topic": "go"},
	})

	events := readUntilTerminal(t, conn, nil)
	if err := protocol.VerifySequence(events); err != nil {
		t.Fatalf("event trace invalid: %v", err)
	}
	if events[len(events)-1].Type != protocol.EventRunFinished {
		t.Fatalf("final event = %s", events[len(events)-1].Type)
	}
	if !runner.executed || runner.gotID != "wf-1" {
		t.Errorf("runner state = %+v", runner)
	}
}

func TestGateway_UnknownWorkflowRunner(t *testing.T) {
	ts, conn, runner := startGateway(t)
	defer ts.Close()
	defer conn.Close()

	sendJSON(t, conn, map[string]any{
		"type":       "run_workflow",
		"runner":     "no-such-runner",
		"workflowId": "wf-1",
	})

	events := readUntilTerminal(t, conn, nil)
	final := events[len(events)-1]
	if final.Type != protocol.EventRunError {
		t.Fatalf("final event = %s", final.Type)
	}
	if !strings.Contains(final.Message, "no-such-runner") || !strings.Contains(final.Message, "stub") {
		t.Errorf("message should name the requested and available runners: %q", final.Message)
	}
	if runner.executed {
		t.Error("runner must not execute when the lookup fails")
	}
}
