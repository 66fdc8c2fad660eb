// Package cli contains the command line interface of lazarus.
package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xiaot623/lazarus/internal/config"
	"github.com/xiaot623/lazarus/internal/logging"
)

// Version is the version reported by the CLI.
const Version = "0.1.0"

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds the lazarus command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:     "lazarus",
		Short:   "resurrect legacy repositories as modern stacks",
		Long:    `Lazarus reads a legacy repository, generates a modernized stack with a generative model, validates it in a sandbox and commits the result to a migration branch.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console or json)")
	bindFlag(a.v, "log.level", flags.Lookup("log-level"))
	bindFlag(a.v, "log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newServeCommand(a),
		newResurrectCommand(a),
		newDeployCommand(a),
	)
	return rootCmd
}

// bindFlag makes a flag override the config key when it is set.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		log.Panic().Err(err).Str("key", key).Msg("failed to bind flag")
	}
}
