package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/internal/keystore"
)

func TestInitFilesIdempotent(t *testing.T) {
	conf := config.TestConfig().SetRoot(t.TempDir())
	require.NoError(t, config.EnsureRoot(conf.RootDir))

	cmd := MakeInitFilesCommand(conf)
	require.NoError(t, cmd.RunE(cmd, nil))

	_, err := os.Stat(config.ConfigFilePath(conf.RootDir))
	require.NoError(t, err)

	key1, err := keystore.LoadBridgeKey(conf.BridgeKeyFile())
	require.NoError(t, err)

	// a second init must not regenerate the key or clobber the config
	require.NoError(t, cmd.RunE(cmd, nil))
	key2, err := keystore.LoadBridgeKey(conf.BridgeKeyFile())
	require.NoError(t, err)
	require.Equal(t, key1.PubKey(), key2.PubKey())
}

func TestParseConfigOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("moniker", "parsed")
	viper.Set("home", filepath.Join(t.TempDir(), "notary-home"))
	viper.Set("rpc.laddr", "tcp://127.0.0.1:36659")

	conf, err := ParseConfig(config.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, "parsed", conf.Moniker)
	require.Equal(t, "tcp://127.0.0.1:36659", conf.RPC.ListenAddress)
	require.Equal(t,
		filepath.Join(conf.RootDir, "config", "bridge_key.json"),
		conf.BridgeKeyFile())
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("log-format", "pretty")
	_, err := ParseConfig(config.DefaultConfig())
	require.Error(t, err)
}
