package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loomcode/loom/internal/llm"
	"github.com/loomcode/loom/internal/tools"
)

const (
	// DefaultMaxIterations bounds the loop's provider round trips.
	DefaultMaxIterations = 15
	// DefaultContextBudget is the advisory context-token budget.
	DefaultContextBudget = 32768
	// summaryLimit caps UI-facing tool result summaries.
	summaryLimit = 200
)

// MaxIterationsError reports a loop that exhausted its iteration budget.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("agent exceeded maximum iterations (%d)", e.Limit)
}

// ApprovalFunc is consulted before each tool execution. It receives the
// tool name and the parsed parameters and returns true to approve. The
// policy is global (ask once per tool, auto-approve read-only, ...) which
// is why it lives here and not inside the registry or the tool.
type ApprovalFunc func(ctx context.Context, name string, params map[string]any) bool

// UsageFunc receives the token usage of each provider call: the largest
// input and output counts reported in that call's stream.
type UsageFunc func(inputTokens, outputTokens int)

// ToolExecution records one attempted tool call.
type ToolExecution struct {
	ToolName string
	Params   map[string]any
	Success  bool
	Summary  string
}

// Response is the terminal value of a successful run.
type Response struct {
	Content        string
	ToolExecutions []ToolExecution
	Iterations     int
}

// Agent drives a conversation to a final assistant response, executing
// model-requested tool calls as intermediate steps. An agent owns its
// conversation exclusively for the duration of a run.
type Agent struct {
	client        llm.Client
	registry      *tools.Registry
	history       *ConversationHistory
	maxIterations int
	contextBudget int
	approve       ApprovalFunc
	onUsage       UsageFunc
}

// Option configures an Agent.
type Option func(*Agent)

// WithRegistry attaches the tool registry. The registry must not be
// mutated while a run is in progress.
func WithRegistry(r *tools.Registry) Option {
	return func(a *Agent) { a.registry = r }
}

// WithSystemPrompt sets the conversation's system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.history.SetSystemPrompt(prompt) }
}

// WithApproval installs the approval callback.
func WithApproval(f ApprovalFunc) Option {
	return func(a *Agent) { a.approve = f }
}

// WithMaxIterations overrides the iteration bound.
func WithMaxIterations(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxIterations = max
		}
	}
}

// WithContextBudget sets the advisory context-token budget.
func WithContextBudget(budget int) Option {
	return func(a *Agent) {
		if budget > 0 {
			a.contextBudget = budget
		}
	}
}

// WithUsageCallback installs the token-usage callback.
func WithUsageCallback(f UsageFunc) Option {
	return func(a *Agent) { a.onUsage = f }
}

// New creates an agent over the given provider client.
func New(client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		history:       NewHistory(),
		maxIterations: DefaultMaxIterations,
		contextBudget: DefaultContextBudget,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// History exposes the conversation for snapshotting between iterations.
func (a *Agent) History() *ConversationHistory { return a.history }

// ClearConversation drops all conversation messages.
func (a *Agent) ClearConversation() { a.history.Clear() }

// emit sends an event to the sink, honoring cancellation. A nil sink
// disables emission. Returns false when ctx is done.
func emit(ctx context.Context, sink chan<- Event, ev Event) bool {
	if sink == nil {
		return ctx.Err() == nil
	}
	select {
	case sink <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// inflightCall accumulates one tool call while its stream events arrive.
type inflightCall struct {
	id   string
	name string
	args []byte
}

// Run executes the agent loop for one user input, emitting events to the
// sink (which may be nil) and returning the final response.
//
// Tool-local failures — unparseable arguments, denials, unknown tools,
// execution errors — become failed tool-result messages and the loop
// continues. Stream-level errors and the iteration bound end the run.
func (a *Agent) Run(ctx context.Context, userInput string, sink chan<- Event) (*Response, error) {
	iterations := 0
	var executions []ToolExecution

	a.history.AddUserMessage(userInput)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iterations >= a.maxIterations {
			emit(ctx, sink, Event{
				Type:    EventError,
				Message: fmt.Sprintf("Exceeded maximum iterations (%d)", a.maxIterations),
			})
			return nil, &MaxIterationsError{Limit: a.maxIterations}
		}

		iterations++
		if !emit(ctx, sink, Event{Type: EventThinking, Iteration: iterations}) {
			return nil, ctx.Err()
		}

		messages := a.history.Snapshot()
		defs := a.definitions()

		// Cheap advisory check; precise counting is History.EstimateTokens.
		if est := approxTokens(messages); est > a.contextBudget {
			log.Warn().Int("estimated", est).Int("budget", a.contextBudget).Msg("agent: context budget exceeded")
		}

		stream, err := a.client.ChatStream(ctx, messages, defs)
		if err != nil {
			emit(ctx, sink, Event{Type: EventError, Message: err.Error()})
			return nil, err
		}

		content, completed, err := a.consumeStream(ctx, stream, sink)
		if err != nil {
			return nil, err
		}

		if len(completed) == 0 {
			// Final turn: no tool calls requested.
			a.history.AddAssistantMessage(content)
			if !emit(ctx, sink, Event{Type: EventComplete, Iteration: iterations}) {
				return nil, ctx.Err()
			}
			return &Response{
				Content:        content,
				ToolExecutions: executions,
				Iterations:     iterations,
			}, nil
		}

		a.history.Add(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: completed,
			CreatedAt: time.Now(),
		})

		for _, call := range completed {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			exec, err := a.runToolCall(ctx, call, sink)
			if err != nil {
				return nil, err
			}
			executions = append(executions, exec)
		}
	}
}

// definitions returns the registry's tool definitions, or nil for an
// empty registry.
func (a *Agent) definitions() []llm.Tool {
	if a.registry == nil {
		return nil
	}
	return a.registry.Definitions()
}

// consumeStream drains one provider stream, forwarding text deltas and
// assembling tool calls. A delta for an unknown id opens the call with an
// empty name rather than failing; adapters should have sent Start first,
// but out-of-order events are tolerated. Calls still open when the stream
// ends are finalized in the order they were opened.
func (a *Agent) consumeStream(ctx context.Context, stream <-chan llm.StreamEvent, sink chan<- Event) (string, []llm.ToolCall, error) {
	var content string
	inflight := make(map[string]*inflightCall)
	var order []*inflightCall
	var completed []llm.ToolCall
	var maxIn, maxOut int

	finalize := func(c *inflightCall) {
		args := c.args
		if len(args) == 0 {
			args = []byte(`{}`)
		}
		completed = append(completed, llm.ToolCall{
			ID:        c.id,
			Type:      "function",
			Name:      c.name,
			Arguments: json.RawMessage(args),
		})
		delete(inflight, c.id)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case evt, ok := <-stream:
			if !ok {
				break loop
			}
			switch evt.Type {
			case llm.EventTextDelta:
				content += evt.Text
				if !emit(ctx, sink, Event{Type: EventTextDelta, Text: evt.Text}) {
					return "", nil, ctx.Err()
				}
			case llm.EventToolCallStart:
				c, ok := inflight[evt.ToolCallID]
				if !ok {
					c = &inflightCall{id: evt.ToolCallID}
					inflight[evt.ToolCallID] = c
					order = append(order, c)
				}
				c.name = evt.ToolCallName
			case llm.EventToolCallDelta:
				c, ok := inflight[evt.ToolCallID]
				if !ok {
					c = &inflightCall{id: evt.ToolCallID}
					inflight[evt.ToolCallID] = c
					order = append(order, c)
				}
				c.args = append(c.args, evt.ToolCallArgs...)
			case llm.EventToolCallEnd:
				if c, ok := inflight[evt.ToolCallID]; ok {
					finalize(c)
				}
			case llm.EventUsage:
				if evt.InputTokens > maxIn {
					maxIn = evt.InputTokens
				}
				if evt.OutputTokens > maxOut {
					maxOut = evt.OutputTokens
				}
			case llm.EventDone:
				break loop
			case llm.EventError:
				emit(ctx, sink, Event{Type: EventError, Message: evt.Err.Error()})
				return "", nil, evt.Err
			}
		}
	}

	// Tolerate streams that ended without closing every call.
	for _, c := range order {
		if _, open := inflight[c.id]; open {
			finalize(c)
		}
	}

	if a.onUsage != nil && (maxIn > 0 || maxOut > 0) {
		a.onUsage(maxIn, maxOut)
	}
	return content, completed, nil
}

// runToolCall executes one completed tool call: parse, approval gate,
// execute, record. Failures are recorded, never returned; the only error
// out of here is cancellation.
func (a *Agent) runToolCall(ctx context.Context, call llm.ToolCall, sink chan<- Event) (ToolExecution, error) {
	fail := func(params map[string]any, summary, resultBody string) (ToolExecution, error) {
		exec := ToolExecution{ToolName: call.Name, Params: params, Success: false, Summary: summary}
		if !emit(ctx, sink, Event{Type: EventToolResult, ToolName: call.Name, Success: false, Summary: summary}) {
			return exec, ctx.Err()
		}
		a.history.AddToolResult(call.ID, resultBody)
		return exec, nil
	}

	params := make(map[string]any)
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			summary := fmt.Sprintf("Failed to parse tool arguments: %v", err)
			return fail(nil, summary, summary)
		}
	}

	if a.approve != nil {
		if !emit(ctx, sink, Event{
			Type:     EventToolApprovalRequest,
			ToolName: call.Name,
			Params:   params,
		}) {
			return ToolExecution{}, ctx.Err()
		}
		if !a.approve(ctx, call.Name, params) {
			return fail(params, "denied by user", "Error: tool execution denied by user")
		}
	}

	if !emit(ctx, sink, Event{Type: EventToolStart, ToolName: call.Name}) {
		return ToolExecution{}, ctx.Err()
	}

	success, resultText := a.executeTool(ctx, call)
	if err := ctx.Err(); err != nil {
		return ToolExecution{}, err
	}

	summary := resultText
	if success {
		summary = truncate(resultText, summaryLimit)
	}

	exec := ToolExecution{ToolName: call.Name, Params: params, Success: success, Summary: summary}
	if !emit(ctx, sink, Event{
		Type:     EventToolResult,
		ToolName: call.Name,
		Success:  success,
		Summary:  summary,
	}) {
		return exec, ctx.Err()
	}
	a.history.AddToolResult(call.ID, resultText)
	return exec, nil
}

// executeTool dispatches to the registry and serializes the result. The
// summary keeps the first 200 characters; the full text goes back to the
// model.
func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall) (bool, string) {
	var tool tools.Tool
	if a.registry != nil {
		tool = a.registry.Get(call.Name)
	}
	if tool == nil {
		return false, fmt.Sprintf("Tool '%s' not found", call.Name)
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return false, fmt.Sprintf("Error: %v", err)
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return true, fmt.Sprintf("%v", result)
	}
	return true, string(pretty)
}

// approxTokens is the chars/4 heuristic used for the in-loop advisory
// budget check.
func approxTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Arguments) / 4
		}
	}
	return total
}

// truncate shortens s to max runes, appending an ellipsis marker.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
