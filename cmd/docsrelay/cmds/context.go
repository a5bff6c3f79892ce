package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docsrelay/pkg/config"
	"github.com/go-go-golems/docsrelay/pkg/prompt"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

func newContextCommand(a *app) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Work with the static reference context",
	}
	inspectCmd, err := NewContextInspectCommand(a)
	if err != nil {
		return nil, err
	}
	cobraInspectCmd, err := cli.BuildCobraCommand(inspectCmd)
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(cobraInspectCmd)
	return cmd, nil
}

type ContextInspectCommand struct {
	*cmds.CommandDescription
	app *app
}

type ContextInspectSettings struct {
	Question    string `glazed:"question"`
	PrintPrompt bool   `glazed:"print-prompt"`
}

func NewContextInspectCommand(a *app) (*ContextInspectCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"inspect",
		cmds.WithShort("Load the reference documents and sitemap and report their size"),
		cmds.WithLong("Emit one row per reference page, one per sitemap link and a final row describing the composed prompt."),
		cmds.WithFlags(
			fields.New(
				"question",
				fields.TypeString,
				fields.WithDefault("What can you help me with?"),
				fields.WithHelp("Sample question used to build the prompt"),
			),
			fields.New(
				"print-prompt",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Include the composed prompt in the prompt row"),
			),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)

	return &ContextInspectCommand{CommandDescription: desc, app: a}, nil
}

func (c *ContextInspectCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &ContextInspectSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := c.app.loaded()
	if err != nil {
		return err
	}
	return contextRows(cfg, s, func(row types.Row) error {
		return gp.AddRow(ctx, row)
	})
}

func contextRows(cfg *config.Config, s *ContextInspectSettings, emit func(types.Row) error) error {
	sc, err := staticctx.Load(cfg.Context, log.Logger)
	if err != nil {
		return err
	}
	for _, d := range sc.Documents {
		if err := emit(types.NewRow(
			types.MRP("kind", "page"),
			types.MRP("page", d.Page),
			types.MRP("source", d.Source),
			types.MRP("chars", len([]rune(d.Text))),
		)); err != nil {
			return err
		}
	}
	for _, l := range sc.Links {
		if err := emit(types.NewRow(
			types.MRP("kind", "link"),
			types.MRP("source", l),
		)); err != nil {
			return err
		}
	}

	composer, err := prompt.NewComposer(cfg.Prompt)
	if err != nil {
		return err
	}
	req, err := composer.Build(sc, nil, s.Question)
	if err != nil {
		return err
	}
	tokens, err := req.EstimateTokens()
	if err != nil {
		return err
	}
	row := types.NewRow(
		types.MRP("kind", "prompt"),
		types.MRP("pages", len(sc.Documents)),
		types.MRP("links", len(sc.Links)),
		types.MRP("chars", len([]rune(req.Prompt))),
		types.MRP("tokens_est", tokens),
	)
	if s.PrintPrompt {
		row.Set("prompt", req.Prompt)
	}
	return emit(row)
}

var _ cmds.GlazeCommand = &ContextInspectCommand{}
