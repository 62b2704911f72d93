// Package llm provides a provider-agnostic LLM adapter for roster.
// Used by the AI extraction adapter to turn sales notes into structured data.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "google/gemini-2.5-flash").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string // "google", "openai", "openrouter", "ollama", "anthropic"
	Model    string // e.g., "gemini-2.5-flash", "openai/gpt-4o-mini"
	APIKey   string // API key (empty = read from env)
	BaseURL  string // Optional URL override
}

// Supported provider names, in the order shown in errors.
var supportedProviders = []string{"google", "openai", "openrouter", "ollama", "anthropic"}

var defaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
	"ollama":     "llama3.1",
	"anthropic":  "claude-3-5-haiku-latest",
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model
	if model == "" {
		model = defaultModels[provider]
	}

	switch provider {
	case "google":
		key := firstEnv(cfg.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var")
		}
		return newGoogleProvider(key, model, cfg.BaseURL), nil

	case "openai":
		key := firstEnv(cfg.APIKey, "OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY env var")
		}
		return newOpenAIProvider("openai", key, model, cfg.BaseURL), nil

	case "openrouter":
		key := firstEnv(cfg.APIKey, "OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return newOpenAIProvider("openrouter", key, model, baseURL), nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = firstEnv("", "OLLAMA_HOST")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		baseURL = strings.TrimRight(baseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		// Ollama ignores the key but the client requires one.
		return newOpenAIProvider("ollama", "ollama", model, baseURL), nil

	case "anthropic":
		key := firstEnv(cfg.APIKey, "ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY env var")
		}
		return newAnthropicProvider(key, model, cfg.BaseURL), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: %s)",
			cfg.Provider, strings.Join(supportedProviders, ", "))
	}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "google/gemini-2.5-flash", "openrouter/openai/gpt-4o-mini"
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "google", Model: defaultModels["google"]}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., google/gemini-2.5-flash)", flag)
	}

	provider := strings.ToLower(parts[0])
	if _, ok := defaultModels[provider]; !ok {
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: %s)",
			provider, strings.Join(supportedProviders, ", "))
	}
	return Config{Provider: provider, Model: parts[1]}, nil
}

func firstEnv(explicit string, vars ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, v := range vars {
		if val := os.Getenv(v); val != "" {
			return val
		}
	}
	return ""
}
