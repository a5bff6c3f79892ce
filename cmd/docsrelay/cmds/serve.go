package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/docsrelay/pkg/config"
	"github.com/go-go-golems/docsrelay/pkg/eventbus"
	"github.com/go-go-golems/docsrelay/pkg/platform/discord"
	"github.com/go-go-golems/docsrelay/pkg/platform/slack"
	"github.com/go-go-golems/docsrelay/pkg/relay"
)

func newServeCommand(a *app) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the configured chat platforms and answer messages",
		Long: `Roles:
  all     gateways and workers in one process (default)
  ingest  only connect to the platforms and publish events to the redis stream
  worker  only consume the redis stream and reply through the platform APIs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("role", config.RoleAll, "process role: all, ingest or worker")
	cmd.Flags().String("transport", eventbus.TransportMemory, "event bus transport: memory or redis")
	cmd.Flags().Bool("serialize-sessions", false, "handle at most one message per session at a time")
	for flag, key := range map[string]string{
		"role":               "role",
		"transport":          "eventbus.transport",
		"serialize-sessions": "relay.serialize-sessions",
	} {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, errors.Wrapf(err, "bind --%s", flag)
		}
	}
	return cmd, nil
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := a.loaded()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	rlog := log.With().Str("role", cfg.Role).Logger()

	bus, err := eventbus.New(ctx, cfg.EventBus, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			rlog.Warn().Err(err).Msg("closing event bus failed")
		}
	}()

	var discordSession *discordgo.Session
	if cfg.Discord.Enabled() {
		discordSession, err = discord.NewSession(cfg.Discord)
		if err != nil {
			return err
		}
	}
	slackAPI := slack.NewClient(cfg.Slack)

	g, gctx := errgroup.WithContext(ctx)

	var dispatcher *relay.Dispatcher
	if cfg.NeedsGeneration() {
		c, err := newCore(ctx, cfg, log.Logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				rlog.Warn().Err(err).Msg("closing core failed")
			}
		}()

		dispatcher = relay.NewDispatcher(c.orch, c.commands, log.Logger)
		if discordSession != nil {
			dispatcher.Register(discord.Platform, discord.NewReplierFactory(discordSession, cfg.Discord))
		}
		if cfg.Slack.Enabled() {
			dispatcher.Register(slack.Platform, slack.NewReplierFactory(slackAPI, cfg.Slack))
		}

		// In-flight flows outlive shutdown of the consumer; they are bounded
		// by the generation timeout and drained below.
		flowCtx := context.WithoutCancel(ctx)
		done, err := bus.Consume(gctx, func(_ context.Context, ev relay.Event) {
			dispatcher.Dispatch(flowCtx, ev)
		})
		if err != nil {
			return err
		}
		// The subscriber closes its channel once gctx is cancelled, so done
		// closes after the last Dispatch call has returned.
		g.Go(func() error {
			<-done
			return nil
		})
	}

	if cfg.NeedsGateways() {
		if discordSession != nil {
			gw := discord.NewGateway(discordSession, cfg.Discord, bus, log.Logger)
			g.Go(func() error { return gw.Run(gctx) })
		}
		if cfg.Slack.Enabled() {
			gw := slack.NewGateway(slackAPI, bus, log.Logger)
			g.Go(func() error { return gw.Run(gctx) })
		}
	}

	rlog.Info().
		Bool("discord", cfg.Discord.Enabled()).
		Bool("slack", cfg.Slack.Enabled()).
		Str("transport", cfg.EventBus.Transport).
		Msg("docsrelay serving")

	err = g.Wait()
	stop()
	if dispatcher != nil {
		dispatcher.Close()
		rlog.Info().Msg("waiting for in-flight replies")
		dispatcher.Wait()
	}
	rlog.Info().Msg("docsrelay stopped")
	return err
}
