package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// TaskType classifies a request so it can be routed to the model best
// suited for it.
type TaskType string

const (
	// TaskReasoning covers architecture decisions and multi-step planning.
	TaskReasoning TaskType = "reasoning"
	// TaskToolOrchestration covers requests where the model drives tools.
	TaskToolOrchestration TaskType = "tool_orchestration"
	// TaskCodeGeneration covers writing new code.
	TaskCodeGeneration TaskType = "code_generation"
	// TaskCodeReview covers reviewing diffs and finding bugs.
	TaskCodeReview TaskType = "code_review"
	// TaskQuickAnswer covers short factual lookups.
	TaskQuickAnswer TaskType = "quick_answer"
)

// TaskTypes lists all defined task types.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskReasoning,
		TaskToolOrchestration,
		TaskCodeGeneration,
		TaskCodeReview,
		TaskQuickAnswer,
	}
}

var (
	reasoningKeywords = []string{
		"explain", "why", "design", "architect", "plan",
		"trade-off", "tradeoff", "compare", "perspective",
	}
	generationKeywords = []string{
		"write", "implement", "create", "add a", "build", "generate", "code for",
	}
	reviewKeywords = []string{
		"review", "bug", "wrong", "fix", "issue", "diff", "error",
	}
	quickAnswerKeywords = []string{
		"what is", "how do", "what does",
	}
)

// Classify buckets user input into a task type. The heuristics are purely
// lexical, with fixed precedence: reasoning keywords win regardless of
// length because complex questions can be short; a non-empty tool list
// forces tool orchestration; then generation and review keywords; short
// prompts without keywords default to a quick answer; everything else is
// treated as reasoning.
func Classify(input string, hasTools bool) TaskType {
	lower := strings.ToLower(input)

	for _, kw := range reasoningKeywords {
		if strings.Contains(lower, kw) {
			return TaskReasoning
		}
	}
	if hasTools {
		return TaskToolOrchestration
	}
	for _, kw := range generationKeywords {
		if strings.Contains(lower, kw) {
			return TaskCodeGeneration
		}
	}
	for _, kw := range reviewKeywords {
		if strings.Contains(lower, kw) {
			return TaskCodeReview
		}
	}
	for _, kw := range quickAnswerKeywords {
		if strings.Contains(lower, kw) {
			return TaskQuickAnswer
		}
	}
	if len(lower) < 80 {
		return TaskQuickAnswer
	}
	return TaskReasoning
}

// Router selects an underlying client per request based on the task-type
// classification of the last user message. It is itself a Client, so it
// drops in anywhere a concrete adapter does.
type Router struct {
	routes   map[TaskType]Client
	fallback Client
}

// NewRouter builds a router over per-task clients with a required fallback
// used when no route matches.
func NewRouter(routes map[TaskType]Client, fallback Client) *Router {
	if routes == nil {
		routes = make(map[TaskType]Client)
	}
	return &Router{routes: routes, fallback: fallback}
}

// Name returns the adapter identifier.
func (r *Router) Name() string { return "router" }

// ClientFor returns the client routed for the given task type.
func (r *Router) ClientFor(task TaskType) Client {
	if c, ok := r.routes[task]; ok {
		return c
	}
	return r.fallback
}

func (r *Router) pick(messages []Message, tools []Tool) Client {
	if len(tools) > 0 {
		return r.ClientFor(TaskToolOrchestration)
	}
	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && messages[i].ToolCallID == "" {
			lastUser = messages[i].Content
			break
		}
	}
	task := Classify(lastUser, false)
	log.Debug().Str("task", string(task)).Msg("router: classified request")
	return r.ClientFor(task)
}

// Chat delegates a blocking call to the routed client.
func (r *Router) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	return r.pick(messages, tools).Chat(ctx, messages, tools)
}

// ChatStream delegates a streaming call to the routed client.
func (r *Router) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	return r.pick(messages, tools).ChatStream(ctx, messages, tools)
}

// Close closes every distinct underlying client once.
func (r *Router) Close() error {
	seen := make(map[Client]bool)
	var first error
	closeOne := func(c Client) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, c := range r.routes {
		closeOne(c)
	}
	closeOne(r.fallback)
	return first
}
