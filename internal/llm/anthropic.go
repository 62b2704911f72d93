package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const anthropicDefaultMaxTokens = 1024

// anthropicProvider implements Provider using the Anthropic Messages API.
type anthropicProvider struct {
	model  string
	client *anthropic.Client
}

func newAnthropicProvider(apiKey, model, baseURL string) *anthropicProvider {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &anthropicProvider{
		model:  model,
		client: anthropic.NewClient(apiKey, opts...),
	}
}

func (a *anthropicProvider) Name() string {
	return "anthropic/" + a.model
}

func (a *anthropicProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	system := opts.System
	if strings.ToLower(opts.Format) == "json" {
		// No native JSON mode; ask for it in the system prompt.
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}

	temp := float32(opts.Temperature)
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(model),
		System: system,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	for _, c := range resp.Content {
		if c.Text != nil && strings.TrimSpace(*c.Text) != "" {
			return strings.TrimSpace(*c.Text), nil
		}
	}
	return "", fmt.Errorf("empty response from anthropic API")
}
