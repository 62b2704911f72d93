package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// googleProvider implements Provider using the Gemini API via the GenAI SDK.
type googleProvider struct {
	apiKey  string
	model   string
	baseURL string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

func newGoogleProvider(apiKey, model, baseURL string) *googleProvider {
	return &googleProvider{apiKey: apiKey, model: model, baseURL: baseURL}
}

func (g *googleProvider) Name() string {
	return "google/" + g.model
}

// genaiClient creates the SDK client on first use; NewClient needs a context.
func (g *googleProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cfg := &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  g.apiKey,
		}
		if g.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
		}
		g.client, g.clientErr = genai.NewClient(ctx, cfg)
	})
	return g.client, g.clientErr
}

func (g *googleProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	client, err := g.genaiClient(ctx)
	if err != nil {
		return "", fmt.Errorf("creating google client: %w", err)
	}

	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if strings.ToLower(opts.Format) == "json" {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from google API")
	}
	return text, nil
}
