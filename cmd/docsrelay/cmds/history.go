package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docsrelay/pkg/config"
	"github.com/go-go-golems/docsrelay/pkg/history"
)

func newHistoryCommand(a *app) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear stored conversation history",
	}

	showCmd, err := NewHistoryShowCommand(a)
	if err != nil {
		return nil, err
	}
	cobraShowCmd, err := cli.BuildCobraCommand(showCmd)
	if err != nil {
		return nil, err
	}

	clearCmd := &cobra.Command{
		Use:   "clear <session-key>",
		Short: "Delete all history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(contextOrBackground(cmd.Context()), a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared history of %s\n", args[0])
			return err
		},
	}

	cmd.AddCommand(cobraShowCmd, clearCmd)
	return cmd, nil
}

type HistoryShowCommand struct {
	*cmds.CommandDescription
	app *app
}

type HistoryShowSettings struct {
	SessionKey string `glazed:"session-key"`
	Limit      int    `glazed:"limit"`
}

func NewHistoryShowCommand(a *app) (*HistoryShowCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("List the newest entries of a session, oldest first"),
		cmds.WithLong("List stored history entries of a session. Sequence numbers count every entry ever stored for the session and are not reset by trimming."),
		cmds.WithArguments(
			fields.New(
				"session-key",
				fields.TypeString,
				fields.WithHelp("Session key (user id, or channel:user for Slack)"),
				fields.WithRequired(true),
			),
		),
		cmds.WithFlags(
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(0),
				fields.WithHelp("Number of raw entries (0 = the configured window)"),
			),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)

	return &HistoryShowCommand{CommandDescription: desc, app: a}, nil
}

func (c *HistoryShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistoryShowSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := c.app.loaded()
	if err != nil {
		return err
	}
	return historyRows(ctx, cfg, s.SessionKey, s.Limit, func(row types.Row) error {
		return gp.AddRow(ctx, row)
	})
}

func historyRows(ctx context.Context, cfg *config.Config, key string, limit int, emit func(types.Row) error) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if limit <= 0 {
		w, err := cfg.History.ParseWindow()
		if err != nil {
			return err
		}
		limit = w.Entries()
	}
	for _, t := range store.Fetch(ctx, key, limit) {
		row := types.NewRow(
			types.MRP("session_key", key),
			types.MRP("sequence", t.Sequence),
			types.MRP("role", string(t.Role)),
			types.MRP("text", t.Text),
		)
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &HistoryShowCommand{}

func openStore(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	if err := cfg.History.Validate(); err != nil {
		return nil, err
	}
	return history.Open(ctx, cfg.History, log.Logger)
}
