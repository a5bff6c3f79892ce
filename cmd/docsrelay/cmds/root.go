package cmds

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/docsrelay/pkg/config"
)

// app is filled in by the root PersistentPreRunE and shared by subcommands.
type app struct {
	v   *viper.Viper
	cfg *config.Config

	configFile string
	envFiles   []string
}

func NewRootCommand() (*cobra.Command, error) {
	v, err := config.NewViper()
	if err != nil {
		return nil, err
	}
	a := &app{v: v}

	rootCmd := &cobra.Command{
		Use:          "docsrelay",
		Short:        "Answer product questions on Discord and Slack from a fixed set of reference documents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLoggerFromCobra(cmd); err != nil {
				return err
			}
			return a.init()
		},
	}

	// Registers the glazed logging flags (--log-level, --log-file, ...).
	if err := clay.InitGlazed("docsrelay", rootCmd); err != nil {
		return nil, err
	}
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config-file", "", "YAML file with relay settings")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	serveCmd, err := newServeCommand(a)
	if err != nil {
		return nil, err
	}
	historyCmd, err := newHistoryCommand(a)
	if err != nil {
		return nil, err
	}
	contextCmd, err := newContextCommand(a)
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(
		serveCmd,
		newAskCommand(a),
		newChatCommand(a),
		historyCmd,
		contextCmd,
	)
	return rootCmd, nil
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}
	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// loaded returns the config, loading it when the command was run without
// the root pre-run hook.
func (a *app) loaded() (*config.Config, error) {
	if a.cfg == nil {
		if err := a.init(); err != nil {
			return nil, err
		}
	}
	return a.cfg, nil
}
