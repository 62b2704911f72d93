package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/llm"
	"github.com/hurttlocker/roster/internal/logging"
)

// mockProvider implements llm.Provider for testing extraction.
type mockProvider struct {
	response string
	err      error
	calls    int
	prompt   string
	opts     llm.CompletionOpts
}

func (m *mockProvider) Complete(_ context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	m.calls++
	m.prompt = prompt
	m.opts = opts
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockProvider) Name() string { return "mock/extract" }

func newTestExtractor(p llm.Provider) *LLMExtractor {
	return NewLLMExtractor(p, LLMOptions{
		Logger: logging.NewNopLogger(),
		Now:    func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
	})
}

func TestExtract_Basic(t *testing.T) {
	provider := &mockProvider{response: `{
		"client_name": " 삼성전자 ",
		"contacts": [
			{"name": "김철수", "role": "구매팀장", "phone": "010-1234-5678"},
			{"name": "  ", "role": "intern"}
		],
		"summary": "견적 요청 받음",
		"keywords": ["견적", "견적", " ", "반도체"],
		"schedule": {"title": "2차 미팅", "date": "2026-10-20", "time": "14:00"}
	}`}

	ext, err := newTestExtractor(provider).Extract(context.Background(), "삼성전자 김철수 팀장 미팅")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.ClientName != "삼성전자" {
		t.Errorf("client name = %q", ext.ClientName)
	}
	if len(ext.Contacts) != 1 || ext.Contacts[0].Name != "김철수" {
		t.Errorf("contacts = %+v", ext.Contacts)
	}
	if len(ext.Keywords) != 2 {
		t.Errorf("keywords = %v", ext.Keywords)
	}
	if ext.Schedule == nil || ext.Schedule.Date != "2026-10-20" {
		t.Errorf("schedule = %+v", ext.Schedule)
	}
	if provider.opts.Format != "json" || provider.opts.System == "" {
		t.Errorf("expected json format and system prompt, got %+v", provider.opts)
	}
	if !strings.Contains(provider.prompt, "TODAY: 2026-10-16") {
		t.Errorf("prompt missing reference date: %q", provider.prompt)
	}
}

func TestExtract_MarkdownFencedResponse(t *testing.T) {
	provider := &mockProvider{response: "```json\n{\"client_name\": \"LG전자\"}\n```"}
	ext, err := newTestExtractor(provider).Extract(context.Background(), "note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.ClientName != "LG전자" {
		t.Errorf("client name = %q", ext.ClientName)
	}
}

func TestExtract_NoClientName(t *testing.T) {
	provider := &mockProvider{response: `{"summary": "internal meeting", "schedule": {"title": " "}}`}
	ext, err := newTestExtractor(provider).Extract(context.Background(), "team sync")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.ClientName != "" {
		t.Errorf("expected no client name, got %q", ext.ClientName)
	}
	if ext.Schedule != nil {
		t.Errorf("untitled schedule should be dropped")
	}
}

func TestExtract_EmptyTextSkipsProvider(t *testing.T) {
	provider := &mockProvider{response: `{}`}
	ext, err := newTestExtractor(provider).Extract(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times", provider.calls)
	}
	if ext.ClientName != "" {
		t.Errorf("unexpected client name %q", ext.ClientName)
	}
}

func TestExtract_ProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	_, err := newTestExtractor(&mockProvider{err: cause}).Extract(context.Background(), "note")
	if !rerrors.IsExtractionFailed(err) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped")
	}
}

func TestExtract_InvalidJSON(t *testing.T) {
	_, err := newTestExtractor(&mockProvider{response: "sorry, I can't"}).Extract(context.Background(), "note")
	if !rerrors.IsExtractionFailed(err) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestExtractionRoundTripOnRecord(t *testing.T) {
	ext := &Extraction{ClientName: "삼성전자", Keywords: []string{"견적"}}
	raw, err := ext.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ClientName != "삼성전자" {
		t.Errorf("client name = %q", back.ClientName)
	}

	none, err := Unmarshal(nil)
	if err != nil || none != nil {
		t.Errorf("expected nil extraction for empty payload, got %+v, %v", none, err)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```":   "{}",
		"```\n{\"a\":1}\n```": `{"a":1}`,
		"  {}  ":             "{}",
	}
	for in, want := range tests {
		if got := stripCodeFences(in); got != want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
