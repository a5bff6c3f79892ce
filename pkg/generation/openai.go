package generation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend sends the composed prompt as a single user message to a chat
// completions endpoint. OpenAIBaseURL allows compatible servers.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

var _ Backend = &OpenAIBackend{}

func NewOpenAIBackend(s Settings) *OpenAIBackend {
	cfg := openai.DefaultConfig(s.OpenAIAPIKey)
	if s.OpenAIBaseURL != "" {
		cfg.BaseURL = s.OpenAIBaseURL
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		model:       s.model(DefaultOpenAIModel),
		temperature: s.Temperature,
		maxTokens:   int(s.MaxOutputTokens),
	}
}

func (o *OpenAIBackend) Name() string { return "openai/" + o.model }

func (o *OpenAIBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", errors.Wrap(ErrBlocked, "openai content filter")
	}
	if choice.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return choice.Message.Content, nil
}

func (o *OpenAIBackend) Close() error { return nil }
