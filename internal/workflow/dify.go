package workflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

const defaultDifyTimeout = 120 * time.Second

// DifyConfig configures one Dify-style workflow platform binding.
type DifyConfig struct {
	BaseURL string
	APIKey  string
	User    string        // platform-side end-user identifier
	Timeout time.Duration // bounds the whole request, stream included
}

// DifyRunner executes workflows on a Dify-compatible HTTP platform and
// re-emits its chunked event stream as TEXT_MESSAGE_CONTENT events.
type DifyRunner struct {
	name   string
	cfg    DifyConfig
	client *http.Client
}

func NewDifyRunner(name string, cfg DifyConfig) *DifyRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDifyTimeout
	}
	if cfg.User == "" {
		cfg.User = "agentwire"
	}
	return &DifyRunner{name: name, cfg: cfg, client: &http.Client{}}
}

func (r *DifyRunner) Name() string { return r.name }

// Execute runs one workflow trigger. Upstream transport, auth, and server
// failures are classified into actionable errors and always terminate the
// run with RUN_ERROR; a stream that ends without producing any text is a
// hard failure, not a silent empty success.
func (r *DifyRunner) Execute(ctx context.Context, input *Input, events runtime.EventEmitter) *Result {
	events.Emit(protocol.NewRunStarted(input.ThreadID, input.RunID))

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.post(reqCtx, input)
	if err != nil {
		return r.fail(input.RunID, events, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.fail(input.RunID, events, classifyStatus(resp, input.WorkflowID))
	}

	outputs, err := r.relayStream(resp.Body, input, events)
	if err != nil {
		return r.fail(input.RunID, events, err)
	}

	events.Emit(protocol.NewRunFinished(input.ThreadID, input.RunID, outputs))
	return &Result{Success: true}
}

func (r *DifyRunner) post(ctx context.Context, input *Input) (*http.Response, error) {
	inputs := input.Inputs
	if len(inputs) == 0 {
		inputs = json.RawMessage("{}")
	}
	body, err := json.Marshal(map[string]any{
		"inputs":        inputs,
		"response_mode": "streaming",
		"user":          r.cfg.User,
	})
	if err != nil {
		return nil, fmt.Errorf("encode workflow request: %w", err)
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/workflows/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("workflow platform did not respond within %s", r.cfg.Timeout)
		}
		return nil, fmt.Errorf("workflow platform unreachable: %w", err)
	}
	return resp, nil
}

// difyStreamEvent is one decoded SSE data payload from the platform.
type difyStreamEvent struct {
	Event string `json:"event"`
	Data  struct {
		Text    string          `json:"text"`
		Status  string          `json:"status"`
		Error   string          `json:"error"`
		Outputs json.RawMessage `json:"outputs"`
	} `json:"data"`
	Message string `json:"message"`
}

// relayStream parses the chunked event-stream body into discrete text
// fragments and re-emits them under a single streamed message.
func (r *DifyRunner) relayStream(body io.Reader, input *Input, events runtime.EventEmitter) (json.RawMessage, error) {
	var (
		messageID string
		sawText   bool
		outputs   json.RawMessage
	)
	closeMessage := func() {
		if messageID != "" {
			events.Emit(protocol.NewTextMessageEnd(input.RunID, messageID))
			messageID = ""
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var ev difyStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Debug("skipping unparseable stream chunk", "runner", r.name, "chunk", payload)
			continue
		}

		switch ev.Event {
		case "text_chunk", "message":
			if ev.Data.Text == "" {
				continue
			}
			if messageID == "" {
				messageID = uuid.NewString()
				events.Emit(protocol.NewTextMessageStart(input.RunID, messageID, protocol.RoleAssistant))
			}
			sawText = true
			events.Emit(protocol.NewTextMessageContent(input.RunID, messageID, ev.Data.Text))

		case "workflow_finished":
			closeMessage()
			if ev.Data.Status != "" && ev.Data.Status != "succeeded" {
				reason := ev.Data.Error
				if reason == "" {
					reason = ev.Data.Status
				}
				return nil, fmt.Errorf("workflow %s finished with status %s", input.WorkflowID, reason)
			}
			outputs = ev.Data.Outputs

		case "error":
			closeMessage()
			reason := ev.Message
			if reason == "" {
				reason = ev.Data.Error
			}
			return nil, fmt.Errorf("workflow platform error: %s", reason)
		}
	}
	closeMessage()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("workflow stream interrupted: %w", err)
	}
	if !sawText {
		return nil, fmt.Errorf("workflow %s stream produced no text", input.WorkflowID)
	}
	return outputs, nil
}

func (r *DifyRunner) fail(runID string, events runtime.EventEmitter, err error) *Result {
	slog.Warn("workflow execution failed", "runner", r.name, "error", err)
	events.Emit(protocol.NewRunError(runID, protocol.ErrUpstream+": "+err.Error()))
	return &Result{Success: false, Error: err.Error()}
}

// classifyStatus turns upstream HTTP failures into actionable messages.
func classifyStatus(resp *http.Response, workflowID string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("workflow %s not found on platform (404): check the workflow id and base URL", workflowID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("workflow platform rejected credentials (%d): check the API key", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("workflow platform server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		return fmt.Errorf("workflow platform returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
