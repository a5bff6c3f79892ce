package generation

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultTemperature     = 1.0
	DefaultMaxOutputTokens = 8192
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultOpenAIModel     = "gpt-4o-mini"
)

// Settings holds the process-wide decoding configuration; nothing here varies
// per request.
type Settings struct {
	Backend         string        `mapstructure:"backend"`
	Model           string        `mapstructure:"model"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxOutputTokens int32         `mapstructure:"max-output-tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrent   int64         `mapstructure:"max-concurrent"`

	GeminiAPIKey  string `mapstructure:"gemini-api-key"`
	OpenAIAPIKey  string `mapstructure:"openai-api-key"`
	OpenAIBaseURL string `mapstructure:"openai-base-url"`
}

func (s Settings) model(def string) string {
	if strings.TrimSpace(s.Model) != "" {
		return s.Model
	}
	return def
}

// NewBackend builds the backend named by s.Backend.
func NewBackend(ctx context.Context, s Settings) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "gemini", "":
		if s.GeminiAPIKey == "" {
			return nil, errors.New("gemini backend requires GEMINI_API_KEY")
		}
		return NewGeminiBackend(ctx, s)
	case "openai":
		if s.OpenAIAPIKey == "" {
			return nil, errors.New("openai backend requires OPENAI_API_KEY")
		}
		return NewOpenAIBackend(s), nil
	case "mock":
		return NewMockBackend(nil), nil
	default:
		return nil, errors.Errorf("unknown generation backend %q", s.Backend)
	}
}
