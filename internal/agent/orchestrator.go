package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/loomcode/loom/internal/llm"
)

// Role names a single-turn agent in the pipeline.
type Role string

const (
	// RolePlanner analyzes the request and produces a step-by-step plan.
	RolePlanner Role = "planner"
	// RoleCoder writes the actual code changes.
	RoleCoder Role = "coder"
	// RoleReviewer checks the coder's output for issues.
	RoleReviewer Role = "reviewer"
)

const plannerPrompt = `You are the PLANNER agent.
Your job is to analyze a coding request and produce a clear, step-by-step plan.

You will receive:
- A repo map showing the project structure
- Relevant source files
- The user's request

Your output should be:
1. A brief analysis of what needs to change
2. A numbered list of specific steps
3. Which files need to be created, modified, or deleted
4. Any potential risks or edge cases

Be concise. The CODER agent will implement your plan.
Do NOT write code - just plan.`

const coderPrompt = `You are the CODER agent.
Your job is to write the actual code changes.

You will receive:
- The PLANNER's step-by-step plan
- The repo map and relevant source files
- The user's original request

Your output should be:
- Complete code changes with file paths
- Use diff format when modifying existing files
- Use full file content when creating new files
- Include ALL necessary changes - don't leave TODOs or placeholders

Write production-quality code. The REVIEWER agent will check your work.`

const reviewerPrompt = `You are the REVIEWER agent.
Your job is to review the CODER's implementation for issues.

You will receive:
- The original plan
- The code implementation
- The repo map and relevant files

Check for:
1. Correctness: Does the code implement the plan correctly?
2. Bugs: Logical errors, off-by-one, missing null checks?
3. Security: Injection vectors, unsafe operations, secret leaks?
4. Style: Does it match the existing codebase style?

Output a brief review: APPROVED if the code looks good, CONCERNS with a
list for minor issues, or REJECTED with an explanation for critical bugs.`

// systemPrompt returns the role's system prompt.
func (r Role) systemPrompt() string {
	switch r {
	case RolePlanner:
		return plannerPrompt
	case RoleCoder:
		return coderPrompt
	case RoleReviewer:
		return reviewerPrompt
	}
	return ""
}

// Task is the unit of work flowing through the pipeline.
type Task struct {
	UserRequest   string
	RepoMap       string     // optional repository-structure summary
	RelevantFiles []TaskFile // ordered (path, content) pairs
	Context       []string   // prior conversation context
}

// TaskFile is one relevant file handed to each role.
type TaskFile struct {
	Path    string
	Content string
}

// PipelineEventType identifies pipeline progress events.
type PipelineEventType int

const (
	// EventAgentStarted marks a role beginning its turn.
	EventAgentStarted PipelineEventType = iota
	// EventAgentFinished carries a role's output.
	EventAgentFinished
	// EventPipelineComplete carries the aggregated result.
	EventPipelineComplete
	// EventPipelineError reports a role failure that aborted the run.
	EventPipelineError
)

// PipelineEvent reports pipeline progress to the caller's sink.
type PipelineEvent struct {
	Type    PipelineEventType
	Role    Role
	Output  string
	Plan    string
	Code    string
	Review  string
	Message string
}

// PipelineResult aggregates the three role outputs.
type PipelineResult struct {
	Plan        string
	Code        string
	Review      string
	FinalOutput string
}

// Orchestrator sequences three role-scoped single-turn agents over the
// same client. Each role is one blocking chat call with its own system
// prompt, not a full agent loop.
type Orchestrator struct {
	client       llm.Client
	fullPipeline bool
	roleClients  map[Role]llm.Client
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithFullPipeline toggles between the full plan-code-review pipeline and
// single-shot coding.
func WithFullPipeline(full bool) OrchestratorOption {
	return func(o *Orchestrator) { o.fullPipeline = full }
}

// WithRoleClient overrides the client used for one role, e.g. a smaller
// model for planning.
func WithRoleClient(role Role, client llm.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.roleClients[role] = client }
}

// NewOrchestrator creates a pipeline over the given default client.
func NewOrchestrator(client llm.Client, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		fullPipeline: true,
		roleClients:  make(map[Role]llm.Client),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) clientFor(role Role) llm.Client {
	if c, ok := o.roleClients[role]; ok {
		return c
	}
	return o.client
}

// Execute runs the pipeline for one task. The sink may be nil. A role
// failure aborts the pipeline and is mirrored to the sink.
func (o *Orchestrator) Execute(ctx context.Context, task Task, sink chan<- PipelineEvent) (*PipelineResult, error) {
	if !o.fullPipeline {
		output, err := o.runRole(ctx, RoleCoder, task, "")
		if err != nil {
			o.emit(ctx, sink, PipelineEvent{Type: EventPipelineError, Role: RoleCoder, Message: err.Error()})
			return nil, err
		}
		return &PipelineResult{Code: output, FinalOutput: output}, nil
	}

	plan, err := o.step(ctx, RolePlanner, task, "", sink)
	if err != nil {
		return nil, err
	}

	code, err := o.step(ctx, RoleCoder, task, plan, sink)
	if err != nil {
		return nil, err
	}

	reviewContext := fmt.Sprintf("## Plan\n%s\n\n## Implementation\n%s", plan, code)
	review, err := o.step(ctx, RoleReviewer, task, reviewContext, sink)
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{Plan: plan, Code: code, Review: review, FinalOutput: code}
	o.emit(ctx, sink, PipelineEvent{
		Type:   EventPipelineComplete,
		Plan:   result.Plan,
		Code:   result.Code,
		Review: result.Review,
	})
	return result, nil
}

// step runs one role with progress events around it.
func (o *Orchestrator) step(ctx context.Context, role Role, task Task, previous string, sink chan<- PipelineEvent) (string, error) {
	o.emit(ctx, sink, PipelineEvent{Type: EventAgentStarted, Role: role})

	output, err := o.runRole(ctx, role, task, previous)
	if err != nil {
		o.emit(ctx, sink, PipelineEvent{Type: EventPipelineError, Role: role, Message: err.Error()})
		return "", err
	}

	o.emit(ctx, sink, PipelineEvent{Type: EventAgentFinished, Role: role, Output: output})
	return output, nil
}

// runRole performs one blocking chat call with the role's system prompt
// and the rendered task context. No tools are offered.
func (o *Orchestrator) runRole(ctx context.Context, role Role, task Task, previous string) (string, error) {
	var b strings.Builder

	if task.RepoMap != "" {
		b.WriteString("## Repository Structure\n")
		b.WriteString(task.RepoMap)
		b.WriteString("\n\n")
	}
	if len(task.RelevantFiles) > 0 {
		b.WriteString("## Relevant Files\n")
		for _, f := range task.RelevantFiles {
			fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", f.Path, f.Content)
		}
	}
	if len(task.Context) > 0 {
		b.WriteString("## Conversation Context\n")
		b.WriteString(strings.Join(task.Context, "\n"))
		b.WriteString("\n\n")
	}
	if previous != "" {
		b.WriteString("## Previous Agent Output\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("## User Request\n")
	b.WriteString(task.UserRequest)

	messages := []llm.Message{
		llm.SystemMessage(role.systemPrompt()),
		llm.UserMessage(b.String()),
	}

	resp, err := o.clientFor(role).Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("agent %s failed: %w", role, err)
	}
	log.Debug().Str("role", string(role)).Int("output_len", len(resp.Content)).Msg("pipeline: role finished")
	return resp.Content, nil
}

func (o *Orchestrator) emit(ctx context.Context, sink chan<- PipelineEvent, ev PipelineEvent) {
	if sink == nil {
		return
	}
	select {
	case sink <- ev:
	case <-ctx.Done():
	}
}
