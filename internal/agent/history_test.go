package agent

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/loomcode/loom/internal/llm"
)

func TestHistorySnapshotPrependsSystemPrompt(t *testing.T) {
	h := NewHistory()
	h.SetSystemPrompt("be helpful")
	h.AddUserMessage("hi")
	h.AddAssistantMessage("hello")

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	if snap[0].Role != llm.RoleSystem || snap[0].Content != "be helpful" {
		t.Errorf("snapshot[0] = %+v, want synthetic system message", snap[0])
	}
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2 (system prompt outside the sequence)", h.Len())
	}
}

func TestHistoryNoSystemPrompt(t *testing.T) {
	h := NewHistory()
	h.AddUserMessage("hi")
	snap := h.Snapshot()
	if len(snap) != 1 || snap[0].Role != llm.RoleUser {
		t.Errorf("snapshot = %+v, want just the user message", snap)
	}
}

func TestHistoryTrimsOldestFirst(t *testing.T) {
	h := NewHistory().WithMaxMessages(3)
	for i := 0; i < 5; i++ {
		h.AddUserMessage(fmt.Sprintf("msg-%d", i))
	}
	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "msg-2" {
		t.Errorf("oldest retained = %q, want msg-2", msgs[0].Content)
	}
}

func TestHistoryCapNeverTouchesSystemPrompt(t *testing.T) {
	h := NewHistory().WithMaxMessages(1)
	h.SetSystemPrompt("system")
	h.AddUserMessage("a")
	h.AddUserMessage("b")

	if h.SystemPrompt() != "system" {
		t.Error("system prompt was lost by trimming")
	}
	snap := h.Snapshot()
	if len(snap) != 2 || snap[0].Role != llm.RoleSystem {
		t.Errorf("snapshot = %+v, want system + newest message", snap)
	}
}

func TestHistoryTrimsToolCallPairs(t *testing.T) {
	h := NewHistory().WithMaxMessages(4)

	// assistant(tool calls) + two results, then more conversation.
	h.Add(llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Type: "function", Name: "echo", Arguments: json.RawMessage(`{}`)},
			{ID: "c2", Type: "function", Name: "echo", Arguments: json.RawMessage(`{}`)},
		},
	})
	h.AddToolResult("c1", "one")
	h.AddToolResult("c2", "two")
	h.AddAssistantMessage("summary")
	h.AddUserMessage("next question") // pushes over the cap

	msgs := h.Messages()
	// The assistant-with-tools message and both results must go together.
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2, got %+v", len(msgs), msgs)
	}
	for _, m := range msgs {
		if m.ToolCallID != "" || len(m.ToolCalls) > 0 {
			t.Errorf("dangling tool message survived the trim: %+v", m)
		}
	}
}

func TestHistoryClearKeepsSystemPrompt(t *testing.T) {
	h := NewHistory()
	h.SetSystemPrompt("keep me")
	h.AddUserMessage("drop me")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("len = %d, want 0", h.Len())
	}
	if h.SystemPrompt() != "keep me" {
		t.Error("clear dropped the system prompt")
	}
}

func TestHistoryEstimateTokensNonZero(t *testing.T) {
	h := NewHistory()
	h.AddUserMessage("a reasonably sized message for token counting purposes")
	if got := h.EstimateTokens(); got <= 0 {
		t.Errorf("estimate = %d, want > 0", got)
	}
}
