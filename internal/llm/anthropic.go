package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultTokens  = 8192
)

// AnthropicClient speaks the Anthropic Messages API, blocking and
// streaming.
type AnthropicClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicBaseURL overrides the API base URL.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithAnthropicMaxTokens overrides the max_tokens request field.
func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithAnthropicTemperature sets the sampling temperature.
func WithAnthropicTemperature(t float64) AnthropicOption {
	return func(c *AnthropicClient) { c.temperature = t }
}

// NewAnthropic creates an Anthropic adapter. The API key is required.
func NewAnthropic(apiKey, model string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "anthropic", Err: ErrMissingAPIKey}
	}
	c := &AnthropicClient{
		name:       "anthropic",
		apiKey:     apiKey,
		baseURL:    anthropicDefaultBaseURL,
		model:      model,
		maxTokens:  anthropicDefaultTokens,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the adapter identifier.
func (c *AnthropicClient) Name() string { return c.name }

// Close releases idle connections.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// --- Messages API request types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []block
}

type anthropicTextBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"` // "tool_use"
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"` // "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// --- Messages API response types ---

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"` // "text" or "tool_use"
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// toAnthropicRequest converts provider-agnostic messages and tools into a
// Messages API request. System messages are hoisted into the system field;
// tool results become user messages with tool_result content blocks.
func (c *AnthropicClient) toAnthropicRequest(messages []Message, tools []Tool, stream bool) anthropicRequest {
	system, rest := splitSystem(messages)

	converted := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		switch {
		case m.ToolCallID != "":
			converted = append(converted, anthropicMessage{
				Role: RoleUser,
				Content: []anthropicToolResultBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			var blocks []any
			if m.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			converted = append(converted, anthropicMessage{Role: RoleAssistant, Content: blocks})
		default:
			converted = append(converted, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	var reqTools []anthropicTool
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = emptySchema
		}
		reqTools = append(reqTools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return anthropicRequest{
		Model:       c.model,
		Messages:    converted,
		System:      system,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
		Tools:       reqTools,
	}
}

func (c *AnthropicClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// Chat performs a blocking Messages API call and assembles the content
// blocks into a ChatResponse.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	body, err := json.Marshal(c.toAnthropicRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}

	payload, err := postJSON(ctx, streamRequest{
		client:   c.httpClient,
		url:      c.baseURL + "/v1/messages",
		body:     body,
		headers:  c.headers(),
		provider: c.name,
	})
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}

	result := &ChatResponse{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Type:      "function",
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return result, nil
}

// ChatStream opens a Messages API SSE stream and normalizes its frames.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	body, err := json.Marshal(c.toAnthropicRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	reader, err := postStream(ctx, streamRequest{
		client:   c.httpClient,
		url:      c.baseURL + "/v1/messages",
		body:     body,
		headers:  c.headers(),
		provider: c.name,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseAnthropicStream(ctx, reader, ch)
	}()
	return ch, nil
}

// --- SSE stream parsing ---

type anthropicStreamStart struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicStreamMessageDelta struct {
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"` // "text" or "tool_use"
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"` // "text_delta" or "input_json_delta"
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicBlockStop struct {
	Index int `json:"index"`
}

// anthropicBlockTracker maps content block indices to tool-call ids so
// input_json_delta fragments and block stops correlate to the right call.
type anthropicBlockTracker struct {
	toolID map[int]string
}

// parseAnthropicStream reads Messages API SSE frames and emits normalized
// StreamEvents. Malformed frames are logged and skipped.
func parseAnthropicStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, scanBufSize), scanBufMax)

	bt := &anthropicBlockTracker{toolID: make(map[int]string)}
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch eventType {
		case "message_stop":
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return
		case "message_start":
			var evt anthropicStreamStart
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: bad message_start frame")
				break
			}
			u := evt.Message.Usage
			if u.InputTokens > 0 || u.OutputTokens > 0 {
				if !trySend(ctx, ch, StreamEvent{Type: EventUsage, InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}) {
					return
				}
			}
		case "message_delta":
			var evt anthropicStreamMessageDelta
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: bad message_delta frame")
				break
			}
			if evt.Usage.OutputTokens > 0 {
				if !trySend(ctx, ch, StreamEvent{Type: EventUsage, OutputTokens: evt.Usage.OutputTokens}) {
					return
				}
			}
		case "content_block_start":
			if !bt.handleBlockStart(ctx, ch, data) {
				return
			}
		case "content_block_delta":
			if !bt.handleBlockDelta(ctx, ch, data) {
				return
			}
		case "content_block_stop":
			if !bt.handleBlockStop(ctx, ch, data) {
				return
			}
		case "ping":
			// Keepalive, ignored.
		}
		eventType = ""
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

func (bt *anthropicBlockTracker) handleBlockStart(ctx context.Context, ch chan<- StreamEvent, data string) bool {
	var evt anthropicBlockStart
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Warn().Err(err).Msg("anthropic: bad content_block_start frame")
		return true
	}
	if evt.ContentBlock.Type != "tool_use" {
		return true
	}
	bt.toolID[evt.Index] = evt.ContentBlock.ID
	return trySend(ctx, ch, StreamEvent{
		Type:         EventToolCallStart,
		ToolCallID:   evt.ContentBlock.ID,
		ToolCallName: evt.ContentBlock.Name,
	})
}

func (bt *anthropicBlockTracker) handleBlockDelta(ctx context.Context, ch chan<- StreamEvent, data string) bool {
	var evt anthropicBlockDelta
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Warn().Err(err).Msg("anthropic: bad content_block_delta frame")
		return true
	}
	switch evt.Delta.Type {
	case "text_delta":
		if evt.Delta.Text != "" {
			return trySend(ctx, ch, StreamEvent{Type: EventTextDelta, Text: evt.Delta.Text})
		}
	case "input_json_delta":
		if id, ok := bt.toolID[evt.Index]; ok && evt.Delta.PartialJSON != "" {
			return trySend(ctx, ch, StreamEvent{
				Type:         EventToolCallDelta,
				ToolCallID:   id,
				ToolCallArgs: evt.Delta.PartialJSON,
			})
		}
	}
	return true
}

func (bt *anthropicBlockTracker) handleBlockStop(ctx context.Context, ch chan<- StreamEvent, data string) bool {
	var evt anthropicBlockStop
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Warn().Err(err).Msg("anthropic: bad content_block_stop frame")
		return true
	}
	id, ok := bt.toolID[evt.Index]
	if !ok {
		return true // text block
	}
	delete(bt.toolID, evt.Index)
	return trySend(ctx, ch, StreamEvent{Type: EventToolCallEnd, ToolCallID: id})
}
