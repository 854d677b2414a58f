package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const openaiDefaultBaseURL = "https://api.openai.com"

// OpenAIClient speaks the OpenAI chat-completions protocol and any
// compatible endpoint. The blocking path goes through the go-openai SDK;
// streaming is parsed directly so tool-call fragment assembly stays under
// our control.
type OpenAIClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	sdk         *openai.Client
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIBaseURL overrides the API base URL (for compatible servers).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithOpenAITemperature sets the sampling temperature.
func WithOpenAITemperature(t float64) OpenAIOption {
	return func(c *OpenAIClient) { c.temperature = t }
}

// WithOpenAIName overrides the adapter identifier (e.g. "vllm").
func WithOpenAIName(name string) OpenAIOption {
	return func(c *OpenAIClient) {
		if name != "" {
			c.name = name
		}
	}
}

// NewOpenAI creates an OpenAI-compatible adapter. The API key is required.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "openai", Err: ErrMissingAPIKey}
	}
	c := &OpenAIClient{
		name:       "openai",
		apiKey:     apiKey,
		baseURL:    openaiDefaultBaseURL,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL + "/v1"
	cfg.HTTPClient = c.httpClient
	c.sdk = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Name returns the adapter identifier.
func (c *OpenAIClient) Name() string { return c.name }

// Close releases idle connections.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// toOpenAIMessages converts provider-agnostic messages to the SDK message
// format. Tool-result messages map onto the wire role "tool".
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.ToolCallID != "" {
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}
		result[i] = msg
	}
	return result
}

// mergeSystemMessages collapses all system messages into a single leading
// one while preserving conversation order.
func mergeSystemMessages(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	var system []string
	var rest []openai.ChatCompletionMessage
	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			system = append(system, msg.Content)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(system) == 0 {
		return rest
	}
	result := make([]openai.ChatCompletionMessage, 0, len(rest)+1)
	result = append(result, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: strings.Join(system, "\n\n"),
	})
	return append(result, rest...)
}

// toOpenAITools converts tool definitions to the SDK tool format.
// Parameters pass through as raw JSON to preserve serialization order.
func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptySchema
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// Chat performs a blocking chat-completions call through the SDK.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	resp, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    mergeSystemMessages(toOpenAIMessages(messages)),
		Tools:       toOpenAITools(tools),
		Temperature: float32(c.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", c.name)
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// --- streaming wire types ---

type chatStreamRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *chatStreamOptions             `json:"stream_options,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatStreamUsage   `json:"usage,omitempty"`
}

type chatStreamUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatStreamChoice struct {
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatStreamDelta struct {
	Content   string               `json:"content,omitempty"`
	ToolCalls []chatStreamToolCall `json:"tool_calls,omitempty"`
}

type chatStreamToolCall struct {
	Index    int                 `json:"index"`
	ID       string              `json:"id"`
	Function chatStreamFuncDelta `json:"function"`
}

type chatStreamFuncDelta struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatStream opens a chat-completions SSE stream and normalizes its
// chunks.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req := chatStreamRequest{
		Model:         c.model,
		Messages:      mergeSystemMessages(toOpenAIMessages(messages)),
		Tools:         toOpenAITools(tools),
		Temperature:   float32(c.temperature),
		Stream:        true,
		StreamOptions: &chatStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := postStream(ctx, streamRequest{
		client:   c.httpClient,
		url:      c.baseURL + "/v1/chat/completions",
		body:     body,
		headers:  map[string]string{"Authorization": "Bearer " + c.apiKey},
		provider: c.name,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseChatCompletionsStream(ctx, reader, ch)
	}()
	return ch, nil
}

// chatCallTracker assembles tool calls from chat-completions fragments.
//
// The first fragment for a given index carries the correlation id;
// subsequent fragments omit it, so the index → id mapping must live for
// the whole stream. The protocol never closes a call explicitly: every
// call opened is implicitly closed, in open order, at the [DONE] sentinel.
type chatCallTracker struct {
	idByIndex map[int]string
	started   map[int]bool
	openIDs   []string
}

func newChatCallTracker() *chatCallTracker {
	return &chatCallTracker{
		idByIndex: make(map[int]string),
		started:   make(map[int]bool),
	}
}

func (t *chatCallTracker) id(index int) string {
	if id, ok := t.idByIndex[index]; ok && id != "" {
		return id
	}
	// Degenerate stream that never sent an id for this index; synthesize
	// one so deltas still correlate.
	id := fmt.Sprintf("call_%d", index)
	t.idByIndex[index] = id
	return id
}

// handle emits events for one tool-call fragment. Returns false on ctx
// cancellation.
func (t *chatCallTracker) handle(ctx context.Context, ch chan<- StreamEvent, tc chatStreamToolCall) bool {
	if tc.ID != "" {
		t.idByIndex[tc.Index] = tc.ID
	}
	if tc.Function.Name != "" && !t.started[tc.Index] {
		t.started[tc.Index] = true
		id := t.id(tc.Index)
		t.openIDs = append(t.openIDs, id)
		if !trySend(ctx, ch, StreamEvent{
			Type:         EventToolCallStart,
			ToolCallID:   id,
			ToolCallName: tc.Function.Name,
		}) {
			return false
		}
	}
	if tc.Function.Arguments != "" {
		if !trySend(ctx, ch, StreamEvent{
			Type:         EventToolCallDelta,
			ToolCallID:   t.id(tc.Index),
			ToolCallArgs: tc.Function.Arguments,
		}) {
			return false
		}
	}
	return true
}

// closeOpen emits EventToolCallEnd for every call still open, in the order
// the calls were opened. Returns false on ctx cancellation.
func (t *chatCallTracker) closeOpen(ctx context.Context, ch chan<- StreamEvent) bool {
	for _, id := range t.openIDs {
		if !trySend(ctx, ch, StreamEvent{Type: EventToolCallEnd, ToolCallID: id}) {
			return false
		}
	}
	t.openIDs = nil
	return true
}

// parseChatCompletionsStream reads data: lines until the [DONE] sentinel.
// Malformed chunks are logged and skipped.
func parseChatCompletionsStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, scanBufSize), scanBufMax)

	tracker := newChatCallTracker()

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			if tracker.closeOpen(ctx, ch) {
				trySend(ctx, ch, StreamEvent{Type: EventDone})
			}
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("openai: bad stream chunk")
			continue
		}
		if chunk.Usage != nil {
			if !trySend(ctx, ch, StreamEvent{
				Type:         EventUsage,
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}) {
				return
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventTextDelta, Text: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			if !tracker.handle(ctx, ch, tc) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	// Stream ended without the sentinel; close open calls and finish.
	if tracker.closeOpen(ctx, ch) {
		trySend(ctx, ch, StreamEvent{Type: EventDone})
	}
}
