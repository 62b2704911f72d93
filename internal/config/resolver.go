package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSuggestFloor is used when no valid match.suggest_floor is set.
const DefaultSuggestFloor = 0.55

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath    string
	CLILLM        string
	CLIDBPath     string
	CLILogLevel   string
	CLISuggest    string
	CLITranscribe string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath          ResolvedValue `json:"db_path"`
	LLMProvider     ResolvedValue `json:"llm_provider"`
	LLMExtractModel ResolvedValue `json:"llm_extract_model"`

	TranscribeModel    ResolvedValue `json:"transcribe_model"`
	TranscribeLanguage ResolvedValue `json:"transcribe_language"`

	SuggestFloorValue ResolvedValue `json:"suggest_floor"`
	PendingTTLValue   ResolvedValue `json:"pending_ttl"`
	ConcurrencyValue  ResolvedValue `json:"concurrency"`

	LogLevel  ResolvedValue `json:"log_level"`
	LogFormat ResolvedValue `json:"log_format"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Provider        string `yaml:"provider"`
		APIKey          string `yaml:"api_key"`
		ExtractModel    string `yaml:"extract_model"`
		ExtractProvider string `yaml:"extract_provider"`
	} `yaml:"llm"`
	Transcribe struct {
		Model    string `yaml:"model"`
		Language string `yaml:"language"`
	} `yaml:"transcribe"`
	Match struct {
		SuggestFloor string `yaml:"suggest_floor"`
	} `yaml:"match"`
	Workflow struct {
		PendingTTL  string `yaml:"pending_ttl"`
		Concurrency string `yaml:"concurrency"`
	} `yaml:"workflow"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".roster", "config.yaml")
}

// ResolveConfig layers the config file, then environment variables, then
// CLI flags. A missing config file is not an error.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMExtractModel, firstNonEmpty(cfg.LLM.ExtractModel, cfg.LLM.ExtractProvider), SourceConfig, path)
		apply(&out.TranscribeModel, cfg.Transcribe.Model, SourceConfig, path)
		apply(&out.TranscribeLanguage, cfg.Transcribe.Language, SourceConfig, path)
		apply(&out.SuggestFloorValue, cfg.Match.SuggestFloor, SourceConfig, path)
		apply(&out.PendingTTLValue, cfg.Workflow.PendingTTL, SourceConfig, path)
		apply(&out.ConcurrencyValue, cfg.Workflow.Concurrency, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			providers := map[string]struct{}{}
			for _, v := range []string{cfg.LLM.Provider, cfg.LLM.ExtractModel} {
				p := providerOf(v)
				if p != "" {
					providers[p] = struct{}{}
				}
			}
			if len(providers) == 0 {
				providers["default"] = struct{}{}
			}
			for p := range providers {
				out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
			}
		}
	}

	applyEnv(&out.DBPath, "ROSTER_DB")
	applyEnv(&out.LLMProvider, "ROSTER_LLM")
	applyEnv(&out.LLMExtractModel, "ROSTER_LLM_EXTRACT")
	applyEnv(&out.TranscribeModel, "ROSTER_TRANSCRIBE_MODEL")
	applyEnv(&out.TranscribeLanguage, "ROSTER_TRANSCRIBE_LANGUAGE")
	applyEnv(&out.SuggestFloorValue, "ROSTER_SUGGEST_FLOOR")
	applyEnv(&out.PendingTTLValue, "ROSTER_PENDING_TTL")
	applyEnv(&out.ConcurrencyValue, "ROSTER_CONCURRENCY")
	applyEnv(&out.LogLevel, "ROSTER_LOG_LEVEL")
	applyEnv(&out.LogFormat, "ROSTER_LOG_FORMAT")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
		"ANTHROPIC_API_KEY":  "anthropic",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.SuggestFloorValue, opts.CLISuggest, SourceCLI, "--suggest-floor")
	apply(&out.TranscribeModel, opts.CLITranscribe, SourceCLI, "--transcribe-model")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// SuggestFloor returns the configured suggest floor capped at 1. Unset,
// unparseable and non-positive values give DefaultSuggestFloor.
func (r ResolvedConfig) SuggestFloor() float64 {
	raw := strings.TrimSpace(r.SuggestFloorValue.Value)
	if raw == "" {
		return DefaultSuggestFloor
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultSuggestFloor
	}
	switch {
	case f <= 0:
		// A zero floor would offer every client as a match.
		return DefaultSuggestFloor
	case f > 1:
		return 1
	}
	return f
}

// PendingTTL returns how long confirmations stay parked. Zero means forever.
func (r ResolvedConfig) PendingTTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(r.PendingTTLValue.Value))
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Concurrency returns the batch analysis worker count, or 0 for the default.
func (r ResolvedConfig) Concurrency() int {
	n, err := strconv.Atoi(strings.TrimSpace(r.ConcurrencyValue.Value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (r ResolvedConfig) EffectiveLLMModel(purpose, fallback string) ResolvedValue {
	purpose = strings.ToLower(strings.TrimSpace(purpose))

	candidates := []ResolvedValue{}
	if purpose == "extract" {
		candidates = append(candidates, r.LLMExtractModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
