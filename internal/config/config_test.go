package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
default_provider = "local"

[providers.local]
type = "ollama"
endpoint = "http://127.0.0.1:11434"
model = "qwen2.5-coder:7b"
temperature = 0.2

[providers.big]
type = "anthropic"
model = "claude-sonnet-4-20250514"

[routes]
code_generation = "local"
reasoning = "big"

[agent]
max_iterations = 25
context_tokens = 64000
approval_mode = "once"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultProvider != "local" {
		t.Errorf("default = %q", cfg.DefaultProvider)
	}
	local := cfg.Providers["local"]
	if local.Type != ProviderOllama || local.Model != "qwen2.5-coder:7b" || local.Temperature != 0.2 {
		t.Errorf("local = %+v", local)
	}
	if cfg.Routes["reasoning"] != "big" {
		t.Errorf("routes = %v", cfg.Routes)
	}
	if cfg.Agent.MaxIterations != 25 || cfg.Agent.ApprovalMode != "once" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	// The ollama provider is always available without credentials.
	if _, ok := cfg.Providers[ProviderOllama]; !ok {
		t.Error("default ollama provider missing")
	}
	if cfg.DefaultProvider == "" {
		t.Error("no default provider selected")
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	path := writeConfig(t, `
[providers.weird]
type = "mainframe"
model = "x"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("err = %v, want unknown-type error", err)
	}
}

func TestValidateRejectsMissingModel(t *testing.T) {
	path := writeConfig(t, `
[providers.half]
type = "ollama"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "model is required") {
		t.Errorf("err = %v, want missing-model error", err)
	}
}

func TestValidateRejectsDanglingRoute(t *testing.T) {
	path := writeConfig(t, `
[providers.local]
type = "ollama"
model = "m"

[routes]
reasoning = "ghost"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v, want dangling-route error", err)
	}
}

func TestValidateRejectsBadDefault(t *testing.T) {
	path := writeConfig(t, `
default_provider = "ghost"

[providers.local]
type = "ollama"
model = "m"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v, want bad-default error", err)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	if got := APIKey(ProviderAnthropic); got != "sk-test" {
		t.Errorf("APIKey = %q", got)
	}
	if got := APIKey(ProviderOllama); got != "" {
		t.Errorf("ollama key = %q, want none", got)
	}
}

func TestBaseURLOverride(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "http://proxy:9999")
	if got := BaseURL(ProviderOpenAI, "http://configured"); got != "http://proxy:9999" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := BaseURL(ProviderAnthropic, "http://configured"); got != "http://configured" {
		t.Errorf("BaseURL fallback = %q", got)
	}
}
