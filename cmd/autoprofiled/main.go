package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	store      *config.Store
)

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "\nError: autoprofiled is already running in this session")
		}
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoprofiled",
		Short: "Switch power profiles automatically",
		Long: `autoprofiled selects the power-profiles-daemon profile from the power
source, the battery level and the applications that are running.

Running it without a subcommand starts the daemon.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE:              runDaemon,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "configuration file")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warning, error)")
	flags.Bool("debug", false, "shorthand for --log-level=debug")
	flags.Bool("verbose", false, "shorthand for --log-level=info")
	flags.String("power-source", string(config.PowerSourceAuto), "power source monitor (auto, upower, battery)")

	cmd.AddCommand(
		NewRunCommand(),
		NewStatusCommand(),
		NewProfilesCommand(),
		NewHistoryCommand(),
	)

	return cmd
}

// setup loads the configuration and initializes logging for every command.
func setup(cmd *cobra.Command, _ []string) error {
	opts := []config.Option{config.WithFlags(cmd.Flags())}
	if configPath != "" {
		opts = append(opts, config.WithConfigFile(configPath))
	}

	var err error
	store, err = config.Load(opts...)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(store.Config().LogLevel)
	if err != nil {
		return err
	}
	logger.InitWriter(os.Stderr, level, logger.IsService())
	logger.Debug().Str("file", store.ConfigFile()).Msg("Config loaded")

	return nil
}
