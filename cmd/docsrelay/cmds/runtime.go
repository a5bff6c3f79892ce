package cmds

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/docsrelay/pkg/config"
	"github.com/go-go-golems/docsrelay/pkg/generation"
	"github.com/go-go-golems/docsrelay/pkg/history"
	"github.com/go-go-golems/docsrelay/pkg/prompt"
	"github.com/go-go-golems/docsrelay/pkg/relay"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

// core is everything a process that answers questions needs.
type core struct {
	store    *history.Store
	static   *staticctx.Context
	backend  generation.Backend
	orch     *relay.Orchestrator
	commands *relay.Commands
}

func newCore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*core, error) {
	relayCfg, err := cfg.RelayConfig()
	if err != nil {
		return nil, err
	}
	static, err := staticctx.Load(cfg.Context, log)
	if err != nil {
		return nil, err
	}
	if !static.Loaded() {
		log.Warn().Int("pages", len(static.Documents)).Int("links", len(static.Links)).Msg("reference documents or sitemap links missing, questions will be answered with an apology")
	}
	composer, err := prompt.NewComposer(cfg.Prompt)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(ctx, cfg.History, log)
	if err != nil {
		return nil, err
	}
	backend, err := generation.NewBackend(ctx, cfg.Generation)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info().Str("backend", backend.Name()).Msg("generation backend ready")

	client := generation.NewClient(backend, log,
		generation.WithTimeout(cfg.Generation.Timeout),
		generation.WithMaxConcurrent(cfg.Generation.MaxConcurrent),
	)
	return &core{
		store:    store,
		static:   static,
		backend:  backend,
		orch:     relay.NewOrchestrator(store, composer, static, client, relayCfg, log),
		commands: relay.NewCommands(cfg.Relay.CommandPrefix, store, log),
	}, nil
}

// handle runs one event synchronously, commands first.
func (c *core) handle(ctx context.Context, ev relay.Event, r relay.Replier) relay.Outcome {
	return relay.Route(ctx, c.commands, c.orch, ev, r)
}

func (c *core) Close() error {
	if err := c.backend.Close(); err != nil {
		_ = c.store.Close()
		return err
	}
	return c.store.Close()
}
