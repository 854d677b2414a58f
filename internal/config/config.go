// Package config handles configuration loading from TOML files and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Provider types understood by the client builder.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	Routes          map[string]string         `toml:"routes"` // task type -> provider name
	Agent           AgentConfig               `toml:"agent"`
	Store           StoreConfig               `toml:"store"`
}

// ProviderConfig holds one LLM provider's settings. API keys are never
// stored here; they come from the environment.
type ProviderConfig struct {
	Type        string  `toml:"type"` // anthropic | openai | ollama
	Endpoint    string  `toml:"endpoint,omitempty"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature,omitempty"`
}

// AgentConfig holds loop limits and the approval mode.
type AgentConfig struct {
	MaxIterations int    `toml:"max_iterations,omitempty"`
	ContextTokens int    `toml:"context_tokens,omitempty"`
	ApprovalMode  string `toml:"approval_mode,omitempty"` // always | once | auto
}

// StoreConfig holds session store settings.
type StoreConfig struct {
	Path     string `toml:"path,omitempty"`
	TTLHours int    `toml:"ttl_hours,omitempty"`
}

// TTLHoursOrDefault returns the cache TTL, defaulting to 24 hours.
func (c StoreConfig) TTLHoursOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// Load reads configuration from a TOML file and applies environment
// overrides. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
		Routes:    make(map[string]string),
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in providers for every credential present in the
// environment, so a config file is optional.
func applyDefaults(cfg *Config) {
	if _, ok := cfg.Providers[ProviderAnthropic]; !ok && APIKey(ProviderAnthropic) != "" {
		cfg.Providers[ProviderAnthropic] = ProviderConfig{
			Type:  ProviderAnthropic,
			Model: "claude-sonnet-4-20250514",
		}
	}
	if _, ok := cfg.Providers[ProviderOpenAI]; !ok && APIKey(ProviderOpenAI) != "" {
		cfg.Providers[ProviderOpenAI] = ProviderConfig{
			Type:  ProviderOpenAI,
			Model: "gpt-4o",
		}
	}
	if _, ok := cfg.Providers[ProviderOllama]; !ok {
		cfg.Providers[ProviderOllama] = ProviderConfig{
			Type:  ProviderOllama,
			Model: "qwen2.5-coder:7b",
		}
	}
	if cfg.DefaultProvider == "" {
		for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderOllama} {
			if _, ok := cfg.Providers[name]; ok {
				cfg.DefaultProvider = name
				break
			}
		}
	}
}

// Validate returns an error describing every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	}
	for name, pc := range c.Providers {
		switch pc.Type {
		case ProviderAnthropic, ProviderOpenAI, ProviderOllama:
		case "":
			errs = append(errs, fmt.Errorf("providers.%s: type is required", name))
		default:
			errs = append(errs, fmt.Errorf("providers.%s: unknown type %q", name, pc.Type))
		}
		if pc.Model == "" {
			errs = append(errs, fmt.Errorf("providers.%s: model is required", name))
		}
		if pc.Endpoint != "" {
			if _, err := url.Parse(pc.Endpoint); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s: invalid endpoint: %w", name, err))
			}
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}
	for task, provider := range c.Routes {
		if _, ok := c.Providers[provider]; !ok {
			errs = append(errs, fmt.Errorf("routes.%s: provider %q does not exist", task, provider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// APIKey returns the credential for a provider type from the environment.
func APIKey(providerType string) string {
	switch providerType {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// BaseURL returns the endpoint override for a provider type from the
// environment, falling back to the configured endpoint.
func BaseURL(providerType, configured string) string {
	var env string
	switch providerType {
	case ProviderAnthropic:
		env = os.Getenv("ANTHROPIC_BASE_URL")
	case ProviderOpenAI:
		env = os.Getenv("OPENAI_BASE_URL")
	case ProviderOllama:
		env = os.Getenv("OLLAMA_HOST")
	}
	if env != "" {
		return env
	}
	return configured
}

// DataDir returns the per-user data directory, creating it if needed.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "loom")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
