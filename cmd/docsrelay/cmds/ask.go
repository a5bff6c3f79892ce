package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docsrelay/pkg/config"
	"github.com/go-go-golems/docsrelay/pkg/platform/console"
	"github.com/go-go-golems/docsrelay/pkg/relay"
)

const defaultConsoleSession = "console"

func newAskCommand(a *app) *cobra.Command {
	var session string
	var stateless bool
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.localCore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ev := console.NewEvent(session, strings.Join(args, " "))
			ev.Stateless = stateless
			out := c.handle(cmd.Context(), ev, console.NewReplier(cmd.OutOrStdout(), 0))
			if out.State == relay.StateFailed {
				return errors.Wrap(out.Err, "ask")
			}
			return out.Err
		},
	}
	cmd.Flags().StringVar(&session, "session", defaultConsoleSession, "history session key")
	cmd.Flags().BoolVar(&stateless, "stateless", false, "answer without reading or writing history")
	return cmd
}

func newChatCommand(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat from the terminal, one question per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt)
			defer stop()

			c, err := a.localCore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if f, ok := cmd.InOrStdin().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session %q, one question per line, ctrl-d to quit\n", session)
			}
			r := console.NewReplier(cmd.OutOrStdout(), 0)
			return console.ReadEvents(ctx, cmd.InOrStdin(), session, func(ev relay.Event) {
				c.handle(ctx, ev, r)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", defaultConsoleSession, "history session key")
	return cmd
}

func (a *app) localCore(ctx context.Context) (*core, error) {
	cfg := *a.cfg
	cfg.Role = config.RoleAll
	if err := cfg.ValidateLocal(); err != nil {
		return nil, err
	}
	return newCore(contextOrBackground(ctx), &cfg, log.Logger)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
