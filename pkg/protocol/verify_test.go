package protocol

import (
	"strings"
	"testing"
)

func validTrace() []Event {
	return []Event{
		NewRunStarted("t1", "r1"),
		NewMessagesSnapshot("r1", []Message{{Role: RoleUser, Content: "hi"}}),
		NewTextMessageStart("r1", "m1", RoleAssistant),
		NewTextMessageContent("r1", "m1", "Hello, "),
		NewTextMessageContent("r1", "m1", "world"),
		NewTextMessageEnd("r1", "m1"),
		NewToolCallStart("r1", "c1", "get_weather", "m1"),
		NewToolCallArgs("r1", "c1", `{"city":`),
		NewToolCallArgs("r1", "c1", `"Oslo"}`),
		NewToolCallEnd("r1", "c1"),
		NewRunFinished("t1", "r1", nil),
	}
}

func TestVerifySequence_Valid(t *testing.T) {
	if err := VerifySequence(validTrace()); err != nil {
		t.Fatalf("valid trace rejected: %v", err)
	}
}

func TestVerifySequence_TextConcatenation(t *testing.T) {
	v := NewSequenceVerifier()
	for _, e := range validTrace() {
		if err := v.Feed(e); err != nil {
			t.Fatal(err)
		}
	}
	if got := v.Text("m1"); got != "Hello, world" {
		t.Errorf("text = %q, want %q", got, "Hello, world")
	}
	if got := v.ToolArgs("c1"); got != `{"city":"Oslo"}` {
		t.Errorf("args = %q", got)
	}
}

func TestVerifySequence_EmptyArgsDefaultToObject(t *testing.T) {
	v := NewSequenceVerifier()
	events := []Event{
		NewRunStarted("t1", "r1"),
		NewToolCallStart("r1", "c1", "ping", ""),
		NewToolCallEnd("r1", "c1"),
		NewRunFinished("t1", "r1", nil),
	}
	for _, e := range events {
		if err := v.Feed(e); err != nil {
			t.Fatal(err)
		}
	}
	if got := v.ToolArgs("c1"); got != "{}" {
		t.Errorf("args = %q, want {}", got)
	}
}

func TestVerifySequence_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{
			name: "event after terminal",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewRunFinished("t1", "r1", nil),
				NewTextMessageStart("r1", "m1", RoleAssistant),
			},
			want: "after terminal",
		},
		{
			name: "content before start",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewTextMessageContent("r1", "m1", "x"),
			},
			want: "open message",
		},
		{
			name: "duplicate run started",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewRunStarted("t1", "r1"),
			},
			want: "duplicate RUN_STARTED",
		},
		{
			name: "snapshot after text",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewTextMessageStart("r1", "m1", RoleAssistant),
				NewTextMessageEnd("r1", "m1"),
				NewMessagesSnapshot("r1", nil),
			},
			want: "MESSAGES_SNAPSHOT after",
		},
		{
			name: "message started twice",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewTextMessageStart("r1", "m1", RoleAssistant),
				NewTextMessageEnd("r1", "m1"),
				NewTextMessageStart("r1", "m1", RoleAssistant),
			},
			want: "started twice",
		},
		{
			name: "tool call id reused while outstanding",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewToolCallStart("r1", "c1", "a", ""),
				NewToolCallStart("r1", "c1", "b", ""),
			},
			want: "already outstanding",
		},
		{
			name: "args not json",
			events: []Event{
				NewRunStarted("t1", "r1"),
				NewToolCallStart("r1", "c1", "a", ""),
				NewToolCallArgs("r1", "c1", "{nope"),
				NewToolCallEnd("r1", "c1"),
			},
			want: "not valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			v := NewSequenceVerifier()
			for _, e := range tt.events {
				if err = v.Feed(e); err != nil {
					break
				}
			}
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestVerifySequence_FinishRequiresTerminal(t *testing.T) {
	v := NewSequenceVerifier()
	if err := v.Feed(NewRunStarted("t1", "r1")); err != nil {
		t.Fatal(err)
	}
	if err := v.Finish(); err == nil {
		t.Error("expected error for missing terminal event")
	}
}

func TestVerifySequence_FinishRejectsOpenMessage(t *testing.T) {
	v := NewSequenceVerifier()
	events := []Event{
		NewRunStarted("t1", "r1"),
		NewTextMessageStart("r1", "m1", RoleAssistant),
		NewRunError("r1", "boom"),
	}
	for _, e := range events {
		if err := v.Feed(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := v.Finish(); err == nil {
		t.Error("expected error for message left open")
	}
}
