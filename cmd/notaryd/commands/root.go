package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/libs/cli"
	"github.com/notarynet/notary/libs/log"
)

// ParseConfig unmarshals the merged flag, environment, and config-file
// state from viper into conf, sets the root, and validates it.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point for the notary
// daemon. Subcommands read the parsed configuration from conf.
func RootCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notaryd",
		Short: "Validator-operated notarization daemon for cross-chain bridge proofs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf

			return config.EnsureRoot(conf.RootDir)
		},
	}
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format (plain or json)")
	return cmd
}

// DefaultHome is the fallback root directory when --home is not given.
func DefaultHome() string {
	return os.ExpandEnv(filepath.Join("$HOME", config.DefaultNotaryDir))
}

func makeLogger(conf *config.Config) (log.Logger, error) {
	return log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
}
