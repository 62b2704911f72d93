package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// openaiProvider implements Provider for any OpenAI-compatible chat API
// (OpenAI, OpenRouter, Ollama).
type openaiProvider struct {
	label  string
	model  string
	client *openai.Client
}

func newOpenAIProvider(label, apiKey, model, baseURL string) *openaiProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &openaiProvider{
		label:  label,
		model:  model,
		client: openai.NewClientWithConfig(config),
	}
}

func (o *openaiProvider) Name() string {
	return o.label + "/" + o.model
}

func (o *openaiProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if strings.ToLower(opts.Format) == "json" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", o.label, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s API", o.label)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
