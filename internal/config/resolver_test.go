package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	cfgPath := writeConfig(t, `db_path: ~/.roster/from-config.db
llm:
  provider: openrouter/openai/gpt-4o-mini
  extract_model: google/gemini-2.5-flash
match:
  suggest_floor: 0.6
log:
  level: warn
`)

	t.Setenv("ROSTER_DB", "~/from-env.db")
	t.Setenv("ROSTER_LLM", "openai/gpt-4o-mini")
	t.Setenv("ROSTER_SUGGEST_FLOOR", "0.7")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLILLM:     "anthropic/claude-3-5-haiku-latest",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if filepath.Base(resolved.DBPath.Value) != "from-cli.db" || resolved.DBPath.Value[0] == '~' {
		t.Fatalf("expected expanded cli path, got %q", resolved.DBPath.Value)
	}
	if resolved.LLMProvider.Source != SourceCLI {
		t.Fatalf("expected llm provider source cli, got %s", resolved.LLMProvider.Source)
	}
	if resolved.LLMExtractModel.Source != SourceConfig {
		t.Fatalf("expected extract model from config, got %s", resolved.LLMExtractModel.Source)
	}
	if resolved.SuggestFloorValue.Source != SourceEnv || resolved.SuggestFloor() != 0.7 {
		t.Fatalf("expected suggest floor 0.7 from env, got %v (%s)", resolved.SuggestFloor(), resolved.SuggestFloorValue.Source)
	}
	if resolved.LogLevel.Value != "warn" {
		t.Fatalf("expected log level from config, got %q", resolved.LogLevel.Value)
	}
}

func TestResolveConfig_MissingFileIsEmpty(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.DBPath.Value != "" {
		t.Fatalf("expected empty db path, got %q", resolved.DBPath.Value)
	}
	if resolved.SuggestFloor() != DefaultSuggestFloor {
		t.Fatalf("expected default floor, got %v", resolved.SuggestFloor())
	}
}

func TestResolveConfig_BadYAML(t *testing.T) {
	cfgPath := writeConfig(t, "llm: [unterminated")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSuggestFloor(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", DefaultSuggestFloor},
		{"abc", DefaultSuggestFloor},
		{"0.8", 0.8},
		{"1.5", 1},
		{"-0.2", DefaultSuggestFloor},
		{"0", DefaultSuggestFloor},
	}
	for _, tt := range tests {
		r := ResolvedConfig{SuggestFloorValue: ResolvedValue{Value: tt.raw}}
		if got := r.SuggestFloor(); got != tt.want {
			t.Errorf("SuggestFloor(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestWorkflowSettings(t *testing.T) {
	cfgPath := writeConfig(t, `workflow:
  pending_ttl: 30m
  concurrency: 8
`)
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.PendingTTL() != 30*time.Minute {
		t.Fatalf("unexpected ttl %v", resolved.PendingTTL())
	}
	if resolved.Concurrency() != 8 {
		t.Fatalf("unexpected concurrency %d", resolved.Concurrency())
	}

	t.Setenv("ROSTER_CONCURRENCY", "2")
	resolved, err = ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.Concurrency() != 2 || resolved.ConcurrencyValue.Source != SourceEnv {
		t.Fatalf("expected concurrency 2 from env, got %d (%s)", resolved.Concurrency(), resolved.ConcurrencyValue.Source)
	}

	empty := ResolvedConfig{}
	if empty.PendingTTL() != 0 || empty.Concurrency() != 0 {
		t.Fatal("expected zero defaults")
	}
}

func TestEffectiveLLMModel_PurposeFallback(t *testing.T) {
	resolved := ResolvedConfig{
		LLMProvider:     ResolvedValue{Value: "openrouter", Source: SourceConfig},
		LLMExtractModel: ResolvedValue{Value: "", Source: SourceUnknown},
	}

	m := resolved.EffectiveLLMModel("extract", "openrouter/openai/gpt-4o-mini")
	if m.Value != "openrouter/openai/gpt-4o-mini" {
		t.Fatalf("unexpected effective model: %q", m.Value)
	}
	if m.Source != SourceConfig {
		t.Fatalf("expected source=config from provider fallback, got %s", m.Source)
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	cfgPath := writeConfig(t, `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" {
		t.Fatalf("expected env key, got %q", k.Value)
	}
	if k.Source != SourceEnv {
		t.Fatalf("expected source env, got %s", k.Source)
	}
}
