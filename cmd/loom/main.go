// Command loom is an interactive AI coding assistant driven by a
// tool-using agent runtime.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loomcode/loom/internal/agent"
	"github.com/loomcode/loom/internal/config"
	"github.com/loomcode/loom/internal/llm"
	"github.com/loomcode/loom/internal/store"
	"github.com/loomcode/loom/internal/tools"
)

var (
	flagConfig   string
	flagProvider string
	flagModel    string
)

func main() {
	_ = godotenv.Load()
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	root := &cobra.Command{
		Use:           "loom",
		Short:         "Tool-using AI coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config.toml")
	root.PersistentFlags().StringVarP(&flagProvider, "provider", "p", "", "provider to use (overrides default_provider)")
	root.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "model to use (overrides the provider's model)")

	root.AddCommand(newRunCmd(), newPipelineCmd(), newModelsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupFileLogging sends zerolog output to a log file in the data
// directory so stdout stays clean for agent output.
func setupFileLogging() error {
	dir, err := config.DataDir()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "loom.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOOM_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return nil
}

// loadConfig resolves the config path: flag, then data dir, then cwd.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		if dir, err := config.DataDir(); err == nil {
			candidate := filepath.Join(dir, "config.toml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path == "" {
		if _, err := os.Stat("config.toml"); err == nil {
			path = "config.toml"
		}
	}
	return config.Load(path)
}

// buildClient constructs the client for a named provider entry.
func buildClient(cfg *config.Config, name string) (llm.Client, error) {
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	model := pc.Model
	if flagModel != "" {
		model = flagModel
	}
	endpoint := config.BaseURL(pc.Type, pc.Endpoint)

	switch pc.Type {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(config.APIKey(pc.Type), model,
			llm.WithAnthropicBaseURL(endpoint),
			llm.WithAnthropicTemperature(pc.Temperature))
	case config.ProviderOpenAI:
		return llm.NewOpenAI(config.APIKey(pc.Type), model,
			llm.WithOpenAIBaseURL(endpoint),
			llm.WithOpenAITemperature(pc.Temperature))
	case config.ProviderOllama:
		return llm.NewOllama(endpoint, model), nil
	}
	return nil, fmt.Errorf("provider %q has unknown type %q", name, pc.Type)
}

// selectClient builds the default client, wrapping it in a task router
// when routes are configured.
func selectClient(cfg *config.Config) (llm.Client, error) {
	name := cfg.DefaultProvider
	if flagProvider != "" {
		name = flagProvider
	}
	fallback, err := buildClient(cfg, name)
	if err != nil {
		return nil, err
	}
	if len(cfg.Routes) == 0 {
		return fallback, nil
	}

	routes := make(map[llm.TaskType]llm.Client)
	for task, provider := range cfg.Routes {
		client, err := buildClient(cfg, provider)
		if err != nil {
			log.Warn().Str("task", task).Str("provider", provider).Err(err).Msg("route skipped")
			continue
		}
		routes[llm.TaskType(task)] = client
	}
	return llm.NewRouter(routes, fallback), nil
}

// openStore opens the session store; failures disable persistence rather
// than aborting the run.
func openStore(cfg *config.Config) *store.Store {
	path := cfg.Store.Path
	if path == "" {
		dir, err := config.DataDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(dir, "loom.db")
	}
	st, err := store.Open(path, time.Duration(cfg.Store.TTLHoursOrDefault())*time.Hour)
	if err != nil {
		log.Warn().Err(err).Msg("session store unavailable")
		return nil
	}
	return st
}

func newRunCmd() *cobra.Command {
	var (
		maxIterations int
		approvalMode  string
		noTools       bool
		systemPrompt  string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent turn against the configured provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := selectClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			st := openStore(cfg)
			defer st.Close()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			var registry *tools.Registry
			if !noTools {
				registry, err = tools.BuiltinRegistry(cwd, st)
				if err != nil {
					return err
				}
			}

			mode := approvalMode
			if mode == "" {
				mode = cfg.Agent.ApprovalMode
			}
			manager := tools.NewApprovalManager(tools.ParseMode(mode))

			opts := []agent.Option{
				agent.WithRegistry(registry),
				agent.WithApproval(makeApprovalFunc(manager, registry)),
			}
			if systemPrompt != "" {
				opts = append(opts, agent.WithSystemPrompt(systemPrompt))
			}
			if maxIterations > 0 {
				opts = append(opts, agent.WithMaxIterations(maxIterations))
			} else if cfg.Agent.MaxIterations > 0 {
				opts = append(opts, agent.WithMaxIterations(cfg.Agent.MaxIterations))
			}
			if cfg.Agent.ContextTokens > 0 {
				opts = append(opts, agent.WithContextBudget(cfg.Agent.ContextTokens))
			}

			ag := agent.New(client, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events := make(chan agent.Event, 64)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printEvents(events)
			}()

			resp, runErr := ag.Run(ctx, strings.Join(args, " "), events)
			close(events)
			<-done

			if st != nil {
				saveSession(st, ag, strings.Join(args, " "))
			}
			if runErr != nil {
				return runErr
			}
			log.Info().Int("iterations", resp.Iterations).Int("tools", len(resp.ToolExecutions)).Msg("run complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "maximum agent loop iterations")
	cmd.Flags().StringVar(&approvalMode, "approve", "", "approval mode: always, once, or auto")
	cmd.Flags().BoolVar(&noTools, "no-tools", false, "run without any tools")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt override")
	return cmd
}

// makeApprovalFunc adapts the approval manager plus a stdin prompt into
// the agent's approval callback.
func makeApprovalFunc(manager *tools.ApprovalManager, registry *tools.Registry) agent.ApprovalFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, name string, params map[string]any) bool {
		var tool tools.Tool
		if registry != nil {
			tool = registry.Get(name)
		}
		if tool == nil {
			// Unknown tools fail later with a not-found result; there is
			// nothing meaningful to confirm.
			return true
		}
		if !manager.NeedsApproval(tool, params) {
			return true
		}

		rendered, _ := json.Marshal(params)
		fmt.Printf("\n[approve] %s %s — allow? [y/N] ", name, rendered)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		approved := answer == "y" || answer == "yes"
		if approved {
			manager.RecordApproval(name)
		}
		return approved
	}
}

// printEvents renders agent events to stdout until the channel closes.
func printEvents(events <-chan agent.Event) {
	for ev := range events {
		switch ev.Type {
		case agent.EventThinking:
			fmt.Printf("\n--- iteration %d ---\n", ev.Iteration)
		case agent.EventTextDelta:
			fmt.Print(ev.Text)
		case agent.EventToolStart:
			fmt.Printf("\n[tool] %s ...\n", ev.ToolName)
		case agent.EventToolResult:
			status := "ok"
			if !ev.Success {
				status = "failed"
			}
			fmt.Printf("[tool] %s %s: %s\n", ev.ToolName, status, ev.Summary)
		case agent.EventComplete:
			fmt.Printf("\n\n(done in %d iteration(s))\n", ev.Iteration)
		case agent.EventError:
			fmt.Printf("\n[error] %s\n", ev.Message)
		}
	}
}

// saveSession snapshots the conversation into the store.
func saveSession(st *store.Store, ag *agent.Agent, title string) {
	if len(title) > 64 {
		title = title[:64]
	}
	id, err := st.CreateSession(title)
	if err != nil {
		log.Warn().Err(err).Msg("session not saved")
		return
	}

	var records []store.SessionMessage
	for _, m := range ag.History().Messages() {
		rec := store.SessionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			CreatedAt:  m.CreatedAt,
		}
		if len(m.ToolCalls) > 0 {
			if raw, err := json.Marshal(m.ToolCalls); err == nil {
				rec.ToolCalls = raw
			}
		}
		records = append(records, rec)
	}
	if err := st.SaveMessages(id, records); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("session messages not saved")
	}
}

func newPipelineCmd() *cobra.Command {
	var (
		singleShot bool
		files      []string
	)

	cmd := &cobra.Command{
		Use:   "pipeline [request]",
		Short: "Run the planner-coder-reviewer pipeline on a request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := selectClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			task := agent.Task{UserRequest: strings.Join(args, " ")}
			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				task.RelevantFiles = append(task.RelevantFiles, agent.TaskFile{
					Path:    path,
					Content: string(content),
				})
			}

			orch := agent.NewOrchestrator(client, agent.WithFullPipeline(!singleShot))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events := make(chan agent.PipelineEvent, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					switch ev.Type {
					case agent.EventAgentStarted:
						fmt.Printf("\n=== %s ===\n", ev.Role)
					case agent.EventAgentFinished:
						fmt.Println(ev.Output)
					case agent.EventPipelineError:
						fmt.Printf("[error] %s: %s\n", ev.Role, ev.Message)
					}
				}
			}()

			result, runErr := orch.Execute(ctx, task, events)
			close(events)
			<-done
			if runErr != nil {
				return runErr
			}
			if singleShot {
				fmt.Println(result.Code)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&singleShot, "single-shot", false, "run only the coder role")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "relevant file to include (repeatable)")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available from configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			for name := range cfg.Providers {
				client, err := buildClient(cfg, name)
				if err != nil {
					fmt.Printf("%s: unavailable (%v)\n", name, err)
					continue
				}
				lister, ok := client.(llm.ModelLister)
				if !ok {
					fmt.Printf("%s: model %s (listing not supported)\n", name, cfg.Providers[name].Model)
					client.Close()
					continue
				}
				models, err := lister.ListModels(ctx)
				client.Close()
				if err != nil {
					fmt.Printf("%s: error listing models: %v\n", name, err)
					continue
				}
				for _, m := range models {
					fmt.Printf("%s: %s\n", name, m.Name)
				}
			}
			return nil
		},
	}
}
