package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/internal/keystore"
)

// MakeInitFilesCommand returns the command that sets up a fresh home
// directory: a default config file and a bridge signing key. Existing
// files are left untouched so re-running init is safe.
func MakeInitFilesCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the home directory with a config file and bridge key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFiles(cmd, conf)
		},
	}
}

func initFiles(cmd *cobra.Command, conf *config.Config) error {
	logger, err := makeLogger(conf)
	if err != nil {
		return err
	}

	configFile := config.ConfigFilePath(conf.RootDir)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		logger.Info("generated config file", "path", configFile)
	} else {
		logger.Info("found existing config file", "path", configFile)
	}

	keyFile := conf.BridgeKeyFile()
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		key, err := keystore.LoadOrGenBridgeKey(keyFile)
		if err != nil {
			return fmt.Errorf("generating bridge key: %w", err)
		}
		logger.Info("generated bridge key", "path", keyFile, "pubkey", key.PubKey())
	} else {
		logger.Info("found existing bridge key", "path", keyFile)
	}

	return nil
}
