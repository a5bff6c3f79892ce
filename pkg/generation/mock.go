package generation

import (
	"context"
	"strings"
)

// MockBackend answers without a network call. With a nil reply func it echoes
// the last line of the prompt, which is the user's input.
type MockBackend struct {
	reply func(ctx context.Context, prompt string) (string, error)
}

var _ Backend = &MockBackend{}

func NewMockBackend(reply func(ctx context.Context, prompt string) (string, error)) *MockBackend {
	return &MockBackend{reply: reply}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if m.reply != nil {
		return m.reply(ctx, prompt)
	}
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := strings.TrimPrefix(lines[len(lines)-1], "User: ")
	return "You asked: " + last, nil
}

func (m *MockBackend) Close() error { return nil }
