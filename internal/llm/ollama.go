package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaClient speaks the local-model chat protocol: newline-delimited
// JSON objects over POST /api/chat, each carrying an incremental message
// payload and a done flag.
type OllamaClient struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a local-model adapter. An empty endpoint selects the
// default localhost address; no credentials are required.
func NewOllama(endpoint, model string) *OllamaClient {
	if endpoint == "" {
		endpoint = ollamaDefaultBaseURL
	}
	return &OllamaClient{
		name:       "ollama",
		baseURL:    strings.TrimRight(endpoint, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
}

// Name returns the adapter identifier.
func (c *OllamaClient) Name() string { return c.name }

// Close releases idle connections.
func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// --- wire types ---

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"` // "function"
	Function ollamaToolFunc `json:"function"`
}

type ollamaToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaFuncCall `json:"function"`
}

type ollamaFuncCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ollamaChunk is one NDJSON line of the response stream. The final line
// has done=true and carries token counts.
type ollamaChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	result := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			msg.Role = "tool"
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFuncCall{Name: tc.Name, Arguments: args},
			})
		}
		result[i] = msg
	}
	return result
}

func toOllamaTools(tools []Tool) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]ollamaTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptySchema
		}
		result[i] = ollamaTool{
			Type: "function",
			Function: ollamaToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// Chat performs a blocking /api/chat call.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(tools),
		Stream:   false,
	})
	if err != nil {
		return nil, err
	}

	payload, err := postJSON(ctx, streamRequest{
		client:   c.httpClient,
		url:      c.baseURL + "/api/chat",
		body:     body,
		provider: c.name,
	})
	if err != nil {
		return nil, err
	}

	var chunk ollamaChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", c.name, err)
	}

	result := &ChatResponse{
		Content:      chunk.Message.Content,
		InputTokens:  chunk.PromptEvalCount,
		OutputTokens: chunk.EvalCount,
	}
	for _, tc := range chunk.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        uuid.NewString(),
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// ChatStream opens a streaming /api/chat request and normalizes the
// NDJSON lines. Tool calls arrive complete within a single line, so each
// one emits Start, one Delta with the whole argument object, and End.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(tools),
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	reader, err := postStream(ctx, streamRequest{
		client:   c.httpClient,
		url:      c.baseURL + "/api/chat",
		body:     body,
		accept:   "application/x-ndjson",
		provider: c.name,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseOllamaStream(ctx, reader, ch)
	}()
	return ch, nil
}

func parseOllamaStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, scanBufSize), scanBufMax)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("ollama: bad stream line")
			continue
		}

		if chunk.Message.Content != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventTextDelta, Text: chunk.Message.Content}) {
				return
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			id := uuid.NewString()
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallStart, ToolCallID: id, ToolCallName: tc.Function.Name}) {
				return
			}
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallID: id, ToolCallArgs: string(args)}) {
				return
			}
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallEnd, ToolCallID: id}) {
				return
			}
		}

		if chunk.Done {
			if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
				if !trySend(ctx, ch, StreamEvent{
					Type:         EventUsage,
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
				}) {
					return
				}
			}
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

// --- model listing ---

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
		Details    struct {
			Family string `json:"family"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels fetches the locally available models from /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &APIError{Provider: c.name, Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}

	models := make([]Model, len(tags.Models))
	for i, m := range tags.Models {
		models[i] = Model{
			Name:       m.Name,
			Size:       m.Size,
			Family:     m.Details.Family,
			ModifiedAt: m.ModifiedAt,
		}
	}
	return models, nil
}
