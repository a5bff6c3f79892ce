package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docsrelay/pkg/prompt"
)

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not complete")
		return Result{}
	}
}

func TestClient_Success(t *testing.T) {
	b := NewMockBackend(func(_ context.Context, p string) (string, error) {
		return "answer to " + p, nil
	})
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return t0
		}
		return t0.Add(1500 * time.Millisecond)
	}
	c := NewClient(b, zerolog.Nop(), WithClock(clock))

	r := await(t, c.Generate(context.Background(), prompt.Request{Prompt: "q"}))
	require.True(t, r.OK())
	require.Equal(t, "answer to q", r.Text)
	require.Equal(t, 1500*time.Millisecond, r.Latency)
}

func TestClient_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	b := NewMockBackend(func(context.Context, string) (string, error) {
		<-release
		return "late", nil
	})
	c := NewClient(b, zerolog.Nop())

	ch := c.Generate(context.Background(), prompt.Request{Prompt: "q"})
	select {
	case <-ch:
		t.Fatal("result arrived before backend returned")
	default:
	}
	close(release)
	r := await(t, ch)
	require.Equal(t, "late", r.Text)

	_, open := <-ch
	require.False(t, open)
}

func TestClient_FailureReasons(t *testing.T) {
	cases := []struct {
		name   string
		reply  func(context.Context, string) (string, error)
		reason Reason
		is     error
	}{
		{"backend", func(context.Context, string) (string, error) { return "", errors.New("quota exceeded") }, ReasonBackend, nil},
		{"blocked", func(context.Context, string) (string, error) { return "", errors.Wrap(ErrBlocked, "safety") }, ReasonBlocked, ErrBlocked},
		{"empty", func(context.Context, string) (string, error) { return "", nil }, ReasonEmpty, ErrEmptyResponse},
		{"panic", func(context.Context, string) (string, error) { panic("boom") }, ReasonPanic, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(NewMockBackend(tc.reply), zerolog.Nop())
			r := await(t, c.Generate(context.Background(), prompt.Request{Prompt: "q"}))
			require.False(t, r.OK())
			require.Empty(t, r.Text)
			require.ErrorIs(t, r.Err, ErrGenerationFailed)
			if tc.is != nil {
				require.ErrorIs(t, r.Err, tc.is)
			}
			var f *Failure
			require.True(t, errors.As(r.Err, &f))
			require.Equal(t, tc.reason, f.Reason)
		})
	}
}

func TestClient_TimeoutWithBackendIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	b := NewMockBackend(func(context.Context, string) (string, error) {
		<-release
		return "too late", nil
	})
	c := NewClient(b, zerolog.Nop(), WithTimeout(20*time.Millisecond))

	r := await(t, c.Generate(context.Background(), prompt.Request{Prompt: "q"}))
	require.False(t, r.OK())
	require.ErrorIs(t, r.Err, ErrTimeout)
	require.ErrorIs(t, r.Err, ErrGenerationFailed)
}

func TestClient_MaxConcurrent(t *testing.T) {
	var inFlight, peak int32
	b := NewMockBackend(func(context.Context, string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "ok", nil
	})
	c := NewClient(b, zerolog.Nop(), WithMaxConcurrent(2))

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = <-c.Generate(context.Background(), prompt.Request{Prompt: "q"})
		}()
	}
	wg.Wait()
	for _, r := range results {
		require.True(t, r.OK())
	}
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestOpenAIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-test", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"use POST /refunds"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(Settings{Model: "gpt-test", OpenAIAPIKey: "k", OpenAIBaseURL: srv.URL, Temperature: 1, MaxOutputTokens: 100})
	text, err := b.Generate(context.Background(), "how do refunds work?")
	require.NoError(t, err)
	require.Equal(t, "use POST /refunds", text)
	require.Equal(t, "openai/gpt-test", b.Name())
}

func TestOpenAIBackend_ContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(Settings{OpenAIAPIKey: "k", OpenAIBaseURL: srv.URL})
	_, err := b.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrBlocked)
}

func TestGeminiText(t *testing.T) {
	_, err := geminiText(nil)
	require.ErrorIs(t, err, ErrEmptyResponse)

	_, err = geminiText(&genai.GenerateContentResponse{
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
	})
	require.ErrorIs(t, err, ErrBlocked)

	_, err = geminiText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	require.ErrorIs(t, err, ErrBlocked)

	text, err := geminiText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Role: "model", Parts: []genai.Part{genai.Text("Hello "), genai.Text("there")}},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello there", text)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(context.Background(), Settings{Backend: "mock"})
	require.NoError(t, err)
	require.Equal(t, "mock", b.Name())
	text, err := b.Generate(context.Background(), "preamble\nUser: hi")
	require.NoError(t, err)
	require.Equal(t, "You asked: hi", text)

	_, err = NewBackend(context.Background(), Settings{Backend: "gemini"})
	require.Error(t, err)
	_, err = NewBackend(context.Background(), Settings{Backend: "openai"})
	require.Error(t, err)
	_, err = NewBackend(context.Background(), Settings{Backend: "llama"})
	require.Error(t, err)
}

func TestClient_TokenEstimateOnlyAtDebug(t *testing.T) {
	b := NewMockBackend(func(context.Context, string) (string, error) { return "ok", nil })
	req := prompt.Request{Prompt: "How do refunds work?"}

	var info bytes.Buffer
	c := NewClient(b, zerolog.New(&info).Level(zerolog.InfoLevel))
	require.True(t, await(t, c.Generate(context.Background(), req)).OK())
	require.Contains(t, info.String(), "generation finished")
	require.NotContains(t, info.String(), "prompt_tokens_est")

	var debug bytes.Buffer
	c = NewClient(b, zerolog.New(&debug).Level(zerolog.DebugLevel))
	require.True(t, await(t, c.Generate(context.Background(), req)).OK())
	require.Contains(t, debug.String(), `"prompt_tokens_est":`)
}
