package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLLMFlag(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantProv string
		wantMod  string
		wantErr  bool
	}{
		{"empty defaults to google", "", "google", "gemini-2.5-flash", false},
		{"google flash", "google/gemini-2.5-flash", "google", "gemini-2.5-flash", false},
		{"openrouter model", "openrouter/openai/gpt-4o-mini", "openrouter", "openai/gpt-4o-mini", false},
		{"openai", "OpenAI/gpt-4o", "openai", "gpt-4o", false},
		{"ollama", "ollama/qwen2.5", "ollama", "qwen2.5", false},
		{"anthropic", "anthropic/claude-3-5-haiku-latest", "anthropic", "claude-3-5-haiku-latest", false},
		{"unknown provider", "mistral/large", "", "", true},
		{"no slash", "gemini-2.5-flash", "", "", true},
		{"empty model", "google/", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseLLMFlag(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Provider != tt.wantProv {
				t.Errorf("provider: got %q, want %q", cfg.Provider, tt.wantProv)
			}
			if cfg.Model != tt.wantMod {
				t.Errorf("model: got %q, want %q", cfg.Model, tt.wantMod)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "unknown"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}

	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(env, "")
	}
	for _, p := range []string{"google", "openai", "openrouter", "anthropic"} {
		if _, err := NewProvider(Config{Provider: p}); err == nil {
			t.Errorf("expected error for %s without API key", p)
		}
	}
}

func TestNewProviderNames(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Provider: "openai", APIKey: "k"}, "openai/gpt-4o-mini"},
		{Config{Provider: "openrouter", APIKey: "k", Model: "x/y"}, "openrouter/x/y"},
		{Config{Provider: "ollama"}, "ollama/llama3.1"},
		{Config{Provider: "anthropic", APIKey: "k"}, "anthropic/claude-3-5-haiku-latest"},
		{Config{Provider: "google", APIKey: "k"}, "google/gemini-2.5-flash"},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg)
		if err != nil {
			t.Fatalf("NewProvider(%+v): %v", tt.cfg, err)
		}
		if p.Name() != tt.want {
			t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
		}
	}
}

func TestOpenAIProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req struct {
			Model          string `json:"model"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "test prompt" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  {\"ok\":true}  "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := newOpenAIProvider("openai", "test-key", "gpt-test", server.URL)
	result, err := p.Complete(context.Background(), "test prompt", CompletionOpts{
		System: "be terse",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result != `{"ok":true}` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestOpenAIProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	p := newOpenAIProvider("openrouter", "k", "m", server.URL)
	_, err := p.Complete(context.Background(), "x", CompletionOpts{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "openrouter API error") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer server.Close()

	p := newOpenAIProvider("openai", "k", "m", server.URL)
	if _, err := p.Complete(context.Background(), "x", CompletionOpts{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model     string `json:"model"`
			System    string `json:"system"`
			MaxTokens int    `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.MaxTokens != anthropicDefaultMaxTokens {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}
		if !strings.Contains(req.System, "JSON") {
			t.Errorf("expected JSON instruction in system prompt, got %q", req.System)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"{\"client_name\":\"삼성전자\"}"}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer server.Close()

	p := newAnthropicProvider("test-key", "claude-test", server.URL)
	result, err := p.Complete(context.Background(), "note", CompletionOpts{Format: "json"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result != `{"client_name":"삼성전자"}` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestGoogleProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello from gemini"}]}}]}`))
	}))
	defer server.Close()

	p := newGoogleProvider("test-key", "gemini-test", server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := p.Complete(ctx, "test prompt", CompletionOpts{MaxTokens: 100, System: "sys"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result != "hello from gemini" {
		t.Errorf("unexpected result: %q", result)
	}
}
