package generation

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GeminiBackend calls the Gemini API with fixed decoding and safety settings.
type GeminiBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ Backend = &GeminiBackend{}

func NewGeminiBackend(ctx context.Context, s Settings) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.GeminiAPIKey))
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	name := s.model(DefaultGeminiModel)
	m := client.GenerativeModel(name)
	m.SetTemperature(s.Temperature)
	if s.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(s.MaxOutputTokens)
	}
	m.SafetySettings = safetySettings()
	return &GeminiBackend{client: client, model: m, name: name}, nil
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockMediumAndAbove})
	}
	return out
}

func (g *GeminiBackend) Name() string { return "gemini/" + g.name }

func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", errors.Wrap(ErrBlocked, blocked.Error())
		}
		return "", errors.Wrap(err, "gemini generate content")
	}
	return geminiText(resp)
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", errors.Wrapf(ErrBlocked, "prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", errors.Wrap(ErrBlocked, "candidate stopped for safety")
	}
	if cand.Content == nil {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func (g *GeminiBackend) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
