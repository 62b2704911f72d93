package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/llm"
	"github.com/hurttlocker/roster/internal/logging"
)

const (
	// extractTimeout is the max time for a single extraction LLM call.
	extractTimeout = 60 * time.Second

	// maxNoteRunes caps the note text sent to the model.
	maxNoteRunes = 12000
)

const extractSystemPrompt = `You analyze sales activity notes written by field sales staff (often in Korean) and extract structured data for a CRM.

EXTRACT:
- client_name: the customer company the note is about, written exactly as it appears in the note. Omit if no company is named. Never invent one.
- contacts: people at the customer company mentioned in the note, each with name, role, phone, email when stated. Do not include the author or colleagues from the seller's side.
- summary: one or two sentences describing what happened and what was agreed.
- keywords: up to 8 short topic keywords (products, issues, next steps).
- schedule: a follow-up meeting or task with a concrete date, if one is mentioned. Use YYYY-MM-DD and 24h HH:MM. Resolve relative dates against TODAY.

RULES:
- Copy names, phone numbers and emails verbatim; do not normalize or guess them.
- Leave a field out rather than filling it with a placeholder.

Return ONLY a JSON object:
{
  "client_name": "삼성전자",
  "contacts": [{"name": "김철수", "role": "구매팀장", "phone": "010-1234-5678", "email": "cs.kim@example.com"}],
  "summary": "...",
  "keywords": ["..."],
  "schedule": {"title": "...", "date": "2026-01-15", "time": "14:00", "location": "...", "notes": "..."}
}`

// LLMOptions configures an LLMExtractor.
type LLMOptions struct {
	Model       string // override the provider's model
	Temperature float64
	MaxTokens   int
	Logger      *zerolog.Logger
	// Now returns the reference date for relative schedules. Defaults to time.Now.
	Now func() time.Time
}

// LLMExtractor implements Extractor with an LLM provider.
type LLMExtractor struct {
	provider llm.Provider
	opts     LLMOptions
	log      *zerolog.Logger
}

// NewLLMExtractor creates an extractor backed by provider.
func NewLLMExtractor(provider llm.Provider, opts LLMOptions) *LLMExtractor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LLMExtractor{provider: provider, opts: opts, log: logging.OrDefault(opts.Logger)}
}

// Extract analyzes text. Any provider or parse failure is returned as an
// *errors.ExtractionError.
func (x *LLMExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Extraction{}, nil
	}
	if r := []rune(text); len(r) > maxNoteRunes {
		text = string(r[:maxNoteRunes])
	}

	prompt := fmt.Sprintf("TODAY: %s\n\nNOTE:\n%s", x.opts.Now().Format("2006-01-02 (Mon)"), text)

	extractCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	start := time.Now()
	raw, err := x.provider.Complete(extractCtx, prompt, llm.CompletionOpts{
		MaxTokens:   x.opts.MaxTokens,
		Temperature: x.opts.Temperature,
		Model:       x.opts.Model,
		Format:      "json",
		System:      extractSystemPrompt,
	})
	if err != nil {
		return nil, rerrors.NewExtractionError(x.provider.Name(), err)
	}

	ext, err := parseExtractResponse(raw)
	if err != nil {
		return nil, rerrors.NewExtractionError(x.provider.Name(), err)
	}

	x.log.Debug().
		Str("provider", x.provider.Name()).
		Dur("elapsed", time.Since(start)).
		Str("client_name", ext.ClientName).
		Int("contacts", len(ext.Contacts)).
		Msg("note extracted")
	return ext, nil
}

func parseExtractResponse(raw string) (*Extraction, error) {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("empty response from LLM")
	}

	var ext Extraction
	if err := json.Unmarshal([]byte(cleaned), &ext); err != nil {
		return nil, fmt.Errorf("invalid JSON from LLM: %w\nraw: %s", err, truncateRaw(raw, 300))
	}
	ext.Normalize()
	return &ext, nil
}

// stripCodeFences removes a surrounding ```json fence if present.
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		start, end := 0, len(lines)
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if start == 0 {
					start = i + 1
				} else {
					end = i
					break
				}
			}
		}
		if start > 0 && end > start {
			cleaned = strings.Join(lines[start:end], "\n")
		}
	}
	return strings.TrimSpace(cleaned)
}

func truncateRaw(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
