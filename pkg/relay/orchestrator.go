package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/docsrelay/pkg/chunk"
	"github.com/go-go-golems/docsrelay/pkg/generation"
	"github.com/go-go-golems/docsrelay/pkg/history"
	"github.com/go-go-golems/docsrelay/pkg/prompt"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

const DefaultApology = "Sorry, I encountered an error while responding."

// Generator is the asynchronous generation call used by the orchestrator.
type Generator interface {
	Generate(ctx context.Context, req prompt.Request) <-chan generation.Result
}

type Config struct {
	Window history.Window
	// TypingInterval re-sends the typing indicator while generating. Zero
	// sends it once.
	TypingInterval time.Duration
	// SerializeSessions runs at most one flow per session key at a time.
	SerializeSessions bool
	Apology           string
}

// Orchestrator runs one flow per inbound event: fetch history, compose,
// generate, persist, emit. It never returns an error to the platform side;
// failures end in at most one apology message.
type Orchestrator struct {
	store    *history.Store
	composer *prompt.Composer
	static   *staticctx.Context
	gen      Generator
	cfg      Config
	locks    *sessionLocks
	log      zerolog.Logger
}

func NewOrchestrator(
	store *history.Store,
	composer *prompt.Composer,
	static *staticctx.Context,
	gen Generator,
	cfg Config,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	o := &Orchestrator{
		store:    store,
		composer: composer,
		static:   static,
		gen:      gen,
		cfg:      cfg,
		log:      logger.With().Str("component", "orchestrator").Logger(),
	}
	if cfg.SerializeSessions {
		o.locks = newSessionLocks()
	}
	return o
}

func (o *Orchestrator) Handle(ctx context.Context, ev Event, r Replier) Outcome {
	var out Outcome
	out.enter(StateReceived)

	log := o.log.With().
		Str("event_id", ev.ID).
		Str("platform", ev.Platform).
		Str("session_key", ev.SessionKey).
		Logger()

	if strings.TrimSpace(ev.SessionKey) == "" || strings.TrimSpace(ev.Text) == "" {
		log.Error().Msg("session key or text is missing from the event, dropping it")
		return out.fail(ErrMalformedEvent)
	}

	if o.locks != nil {
		unlock := o.locks.lock(ev.SessionKey)
		defer unlock()
	}

	limit := o.cfg.Window.Entries()
	turns := []history.Turn{}
	if !ev.Stateless {
		turns = o.store.Fetch(ctx, ev.SessionKey, limit)
	}
	out.enter(StateHistoryFetched)

	req, err := o.composer.Build(o.static, turns, ev.Text)
	if err != nil {
		log.Error().Err(err).Msg("composing prompt failed")
		o.apologize(ctx, r, log)
		return out.fail(err)
	}
	out.enter(StatePromptBuilt)

	out.enter(StateGenerating)
	res := o.generate(ctx, req, r, log)
	if !res.OK() {
		log.Error().Err(res.Err).Dur("latency", res.Latency).Msg("failed to generate response")
		o.apologize(ctx, r, log)
		return out.fail(res.Err)
	}

	out.enter(StatePersisting)
	if !ev.Stateless {
		o.store.Append(ctx, ev.SessionKey, ev.Text, res.Text)
		o.store.Trim(ctx, ev.SessionKey, limit)
	}

	out.enter(StateEmitting)
	chunks := chunk.Split(res.Text, r.MaxMessageLength())
	for i, c := range chunks {
		if err := r.Send(ctx, c); err != nil {
			log.Error().Err(err).Int("chunk", i).Int("chunks", len(chunks)).Msg("sending reply chunk failed")
			out.Err = errors.Wrapf(ErrEmitFailed, "chunk %d: %v", i, err)
			break
		}
		out.Chunks++
	}

	out.enter(StateDone)
	log.Info().
		Dur("latency", res.Latency).
		Int("history_turns", len(turns)).
		Int("chunks", out.Chunks).
		Msg("reply sent")
	return out
}

// generate awaits the backend while keeping the typing indicator alive. The
// indicator goroutine is stopped before the result is returned so it never
// races with emitted chunks.
func (o *Orchestrator) generate(ctx context.Context, req prompt.Request, r Replier, log zerolog.Logger) generation.Result {
	typingCtx, stopTyping := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.keepTyping(typingCtx, r, log)
	}()

	res := <-o.gen.Generate(ctx, req)

	stopTyping()
	wg.Wait()
	return res
}

func (o *Orchestrator) keepTyping(ctx context.Context, r Replier, log zerolog.Logger) {
	if err := r.Typing(ctx); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("typing indicator failed")
	}
	if o.cfg.TypingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.TypingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Typing(ctx); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Msg("typing indicator failed")
			}
		}
	}
}

func (o *Orchestrator) apologize(ctx context.Context, r Replier, log zerolog.Logger) {
	if err := r.Send(ctx, o.cfg.Apology); err != nil {
		log.Error().Err(err).Msg("sending apology failed")
	}
}
