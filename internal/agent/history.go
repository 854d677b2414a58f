// Package agent implements the tool-using agent loop, its conversation
// model, and the multi-agent pipeline built on the same primitives.
package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/loomcode/loom/internal/llm"
)

// DefaultMaxMessages bounds a conversation's message sequence. The system
// prompt is held outside the sequence and never trimmed.
const DefaultMaxMessages = 100

// ConversationHistory is an ordered, bounded sequence of messages plus an
// optional system prompt. It is safe for concurrent use; the agent owns it
// exclusively during a run and external callers observe it via Snapshot.
type ConversationHistory struct {
	mu           sync.Mutex
	messages     []llm.Message
	maxMessages  int
	systemPrompt string
}

// NewHistory creates an empty history with the default cap.
func NewHistory() *ConversationHistory {
	return &ConversationHistory{maxMessages: DefaultMaxMessages}
}

// WithMaxMessages overrides the message cap.
func (h *ConversationHistory) WithMaxMessages(max int) *ConversationHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	if max > 0 {
		h.maxMessages = max
	}
	return h
}

// SetSystemPrompt sets or replaces the system prompt.
func (h *ConversationHistory) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.systemPrompt = prompt
}

// SystemPrompt returns the system prompt, if any.
func (h *ConversationHistory) SystemPrompt() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.systemPrompt
}

// AddUserMessage appends a user message.
func (h *ConversationHistory) AddUserMessage(content string) {
	h.Add(llm.UserMessage(content))
}

// AddAssistantMessage appends a plain assistant message.
func (h *ConversationHistory) AddAssistantMessage(content string) {
	h.Add(llm.AssistantMessage(content))
}

// AddToolResult appends the message carrying a tool's output, correlated
// by the tool call's id.
func (h *ConversationHistory) AddToolResult(toolCallID, result string) {
	h.Add(llm.ToolResultMessage(toolCallID, result))
}

// Add appends an arbitrary message and trims past the cap.
func (h *ConversationHistory) Add(msg llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	h.trim()
}

// trim drops oldest messages until the sequence fits the cap. When the
// oldest message is an assistant message holding tool calls, its
// contiguous run of tool-result messages is dropped with it so the
// conversation never starts with dangling results.
func (h *ConversationHistory) trim() {
	for len(h.messages) > h.maxMessages {
		drop := 1
		head := h.messages[0]
		if head.Role == llm.RoleAssistant && len(head.ToolCalls) > 0 {
			for drop < len(h.messages) && h.messages[drop].ToolCallID != "" {
				drop++
			}
		}
		h.messages = h.messages[drop:]
		log.Debug().Int("dropped", drop).Int("remaining", len(h.messages)).Msg("history: trimmed oldest messages")
	}
}

// Snapshot materializes the conversation for a provider request: the
// system prompt (if any) prepended as a synthetic system message, followed
// by a copy of the sequence.
func (h *ConversationHistory) Snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, len(h.messages)+1)
	if h.systemPrompt != "" {
		out = append(out, llm.SystemMessage(h.systemPrompt))
	}
	return append(out, h.messages...)
}

// Messages returns a copy of the sequence without the system prompt.
func (h *ConversationHistory) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len reports the number of messages in the sequence.
func (h *ConversationHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear drops all messages, keeping the system prompt.
func (h *ConversationHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
)

// EstimateTokens estimates the token count of the conversation including
// the system prompt. Uses the cl100k_base encoding when available and a
// chars/4 heuristic otherwise; the result is advisory either way.
func (h *ConversationHistory) EstimateTokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	tokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("history: token encoding unavailable, falling back to byte estimate")
			return
		}
		tokenEnc = enc
	})

	total := 0
	count := func(s string) {
		if s == "" {
			return
		}
		if tokenEnc != nil {
			total += len(tokenEnc.Encode(s, nil, nil))
			return
		}
		total += len(s) / 4
	}

	count(h.systemPrompt)
	for _, m := range h.messages {
		count(m.Content)
		for _, tc := range m.ToolCalls {
			count(string(tc.Arguments))
		}
	}
	return total
}
