package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

type eventRecorder struct {
	events []protocol.Event
}

func (r *eventRecorder) Emit(e protocol.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) final() protocol.Event {
	return r.events[len(r.events)-1]
}

func workflowInput() *Input {
	return &Input{
		Session:    session.New("test-client"),
		RunID:      "r1",
		ThreadID:   "t1",
		WorkflowID: "wf-1",
		Inputs:     json.RawMessage(`{"topic":"go"}`),
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workflows/run" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["response_mode"] != "streaming" {
			t.Errorf("response_mode = %v", body["response_mode"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			w.Write([]byte(line + "\n\n"))
		}
	}))
}

func TestDifyExecute_Success(t *testing.T) {
	srv := sseServer(t,
		`data: {"event":"text_chunk","data":{"text":"Hello "}}`,
		`data: {"event":"text_chunk","data":{"text":"world"}}`,
		`data: {"event":"workflow_finished","data":{"status":"succeeded","outputs":{"answer":"Hello world"}}}`,
	)
	defer srv.Close()

	r := NewDifyRunner("docs", DifyConfig{BaseURL: srv.URL, APIKey: "key-1"})
	rec := &eventRecorder{}

	result := r.Execute(context.Background(), workflowInput(), rec)
	if !result.Success {
		t.Fatalf("execute failed: %s", result.Error)
	}
	if err := protocol.VerifySequence(rec.events); err != nil {
		t.Fatalf("event trace invalid: %v", err)
	}

	final := rec.final()
	if final.Type != protocol.EventRunFinished {
		t.Fatalf("final event = %s", final.Type)
	}
	var outputs map[string]any
	if err := json.Unmarshal(final.Result, &outputs); err != nil {
		t.Fatal(err)
	}
	if outputs["answer"] != "Hello world" {
		t.Errorf("outputs = %v", outputs)
	}

	var text strings.Builder
	for _, e := range rec.events {
		if e.Type == protocol.EventTextMessageContent {
			text.WriteString(e.Delta)
		}
	}
	if text.String() != "Hello world" {
		t.Errorf("relayed text = %q", text.String())
	}
}

func TestDifyExecute_ZeroTextIsFailure(t *testing.T) {
	srv := sseServer(t,
		`data: {"event":"workflow_finished","data":{"status":"succeeded"}}`,
	)
	defer srv.Close()

	r := NewDifyRunner("docs", DifyConfig{BaseURL: srv.URL, APIKey: "key-1"})
	rec := &eventRecorder{}

	result := r.Execute(context.Background(), workflowInput(), rec)
	if result.Success {
		t.Fatal("empty stream should fail")
	}
	if !strings.Contains(result.Error, "produced no text") {
		t.Errorf("error = %q", result.Error)
	}
	final := rec.final()
	if final.Type != protocol.EventRunError {
		t.Errorf("final event = %s", final.Type)
	}
	if !strings.Contains(final.Message, protocol.ErrUpstream) {
		t.Errorf("RUN_ERROR missing upstream code: %q", final.Message)
	}
}

func TestDifyExecute_PlatformError(t *testing.T) {
	srv := sseServer(t,
		`data: {"event":"text_chunk","data":{"text":"partial"}}`,
		`data: {"event":"error","message":"quota exceeded"}`,
	)
	defer srv.Close()

	r := NewDifyRunner("docs", DifyConfig{BaseURL: srv.URL, APIKey: "key-1"})
	rec := &eventRecorder{}

	result := r.Execute(context.Background(), workflowInput(), rec)
	if result.Success {
		t.Fatal("platform error should fail the run")
	}
	if !strings.Contains(result.Error, "quota exceeded") {
		t.Errorf("error = %q", result.Error)
	}
	// The streamed message is closed before RUN_ERROR.
	if err := protocol.VerifySequence(rec.events); err != nil {
		t.Fatalf("event trace invalid: %v", err)
	}
}

func TestDifyExecute_FailedStatus(t *testing.T) {
	srv := sseServer(t,
		`data: {"event":"text_chunk","data":{"text":"x"}}`,
		`data: {"event":"workflow_finished","data":{"status":"failed","error":"node crashed"}}`,
	)
	defer srv.Close()

	r := NewDifyRunner("docs", DifyConfig{BaseURL: srv.URL, APIKey: "key-1"})
	rec := &eventRecorder{}

	result := r.Execute(context.Background(), workflowInput(), rec)
	if result.Success {
		t.Fatal("failed status should fail the run")
	}
	if !strings.Contains(result.Error, "node crashed") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestDifyExecute_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, "not found"},
		{http.StatusUnauthorized, "credentials"},
		{http.StatusForbidden, "credentials"},
		{http.StatusInternalServerError, "server error"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte("upstream detail"))
		}))

		r := NewDifyRunner("docs", DifyConfig{BaseURL: srv.URL, APIKey: "key-1"})
		rec := &eventRecorder{}
		result := r.Execute(context.Background(), workflowInput(), rec)
		srv.Close()

		if result.Success {
			t.Errorf("status %d: run succeeded", tt.status)
			continue
		}
		if !strings.Contains(result.Error, tt.want) {
			t.Errorf("status %d: error %q does not contain %q", tt.status, result.Error, tt.want)
		}
		if rec.final().Type != protocol.EventRunError {
			t.Errorf("status %d: final event = %s", tt.status, rec.final().Type)
		}
	}
}

func TestDifyExecute_Unreachable(t *testing.T) {
	r := NewDifyRunner("docs", DifyConfig{BaseURL: "http://127.0.0.1:1", APIKey: "key-1"})
	rec := &eventRecorder{}
	result := r.Execute(context.Background(), workflowInput(), rec)
	if result.Success {
		t.Fatal("unreachable platform should fail")
	}
	if !strings.Contains(result.Error, "unreachable") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewDifyRunner("docs", DifyConfig{BaseURL: "http://x"})); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(NewDifyRunner("docs", DifyConfig{BaseURL: "http://y"})); err == nil {
		t.Error("duplicate runner accepted")
	}
	if _, ok := reg.Get("docs"); !ok {
		t.Error("Get(docs) failed")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) succeeded")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "docs" {
		t.Errorf("Names = %v", names)
	}
}
