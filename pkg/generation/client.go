package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/go-go-golems/docsrelay/pkg/prompt"
)

// Backend is a blocking text generation call.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// Result is the outcome of one generation. Exactly one of Text or Err is set.
type Result struct {
	Text    string
	Err     error
	Latency time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Client runs backend calls off the caller's goroutine with a bounded number
// of calls in flight and a per-call timeout.
type Client struct {
	backend Backend
	timeout time.Duration
	sem     *semaphore.Weighted
	log     zerolog.Logger
	now     func() time.Time
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxConcurrent bounds the number of backend calls in flight. Waiting for
// a slot counts against the call's timeout.
func WithMaxConcurrent(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(backend Backend, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		timeout: DefaultTimeout,
		log:     logger.With().Str("component", "generation").Str("backend", backend.Name()).Logger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate starts the call and returns immediately. The channel receives
// exactly one Result and is then closed.
func (c *Client) Generate(ctx context.Context, req prompt.Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- c.run(ctx, req)
	}()
	return out
}

func (c *Client) run(ctx context.Context, req prompt.Request) Result {
	start := c.now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.With().Int("prompt_chars", len(req.Prompt)).Logger()
	// Token estimates are computed only when debug logging is on.
	if e := log.Debug(); e.Enabled() {
		if n, err := req.EstimateTokens(); err == nil {
			e.Int("prompt_tokens_est", n).Msg("generation started")
		} else {
			e.Discard()
		}
	}

	text, err := c.call(ctx, req.Prompt)
	latency := c.now().Sub(start)
	if err != nil {
		f := classify(ctx, err)
		log.Error().Err(f.Cause).Str("reason", string(f.Reason)).Dur("latency", latency).Msg("generation failed")
		return Result{Err: f, Latency: latency}
	}
	log.Info().Dur("latency", latency).Int("response_chars", len(text)).Msg("generation finished")
	return Result{Text: text, Latency: latency}
}

// call waits on ctx even when the backend ignores it; a late backend reply is
// dropped.
func (c *Client) call(ctx context.Context, p string) (string, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", errors.Wrap(err, "waiting for generation slot")
		}
	}

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		if c.sem != nil {
			defer c.sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: &Failure{Reason: ReasonPanic, Cause: fmt.Errorf("backend panic: %v", r)}}
			}
		}()
		text, err := c.backend.Generate(ctx, p)
		if err == nil && text == "" {
			err = ErrEmptyResponse
		}
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
