package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/config"
)

func TestEnsureRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, config.EnsureRoot(root))
	require.NoError(t, config.WriteConfigFile(root, config.DefaultConfig()))

	data, err := os.ReadFile(filepath.Join(root, "config", "config.toml"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// the template must render valid TOML
	var parsed map[string]interface{}
	require.NoError(t, toml.Unmarshal(data, &parsed))
	assert.Contains(t, parsed, "rpc")
	assert.Contains(t, parsed, "gossip")
	assert.Contains(t, parsed, "aggregator")
	assert.Contains(t, parsed, "store")
	assert.Contains(t, parsed, "inbound")
	assert.Contains(t, parsed, "instrumentation")
}

// TestWrittenConfigRoundTrip renders the default config, loads it back the
// way the start command does, and checks nothing was lost in translation.
func TestWrittenConfigRoundTrip(t *testing.T) {
	root := t.TempDir()
	want := config.DefaultConfig()
	want.Moniker = "roundtrip"
	want.Gossip.AnnounceInterval = 7 * time.Second
	want.Store.RetainBlocks = 12345
	want.Inbound.EthereumRPC = "ws://127.0.0.1:8546"

	require.NoError(t, config.EnsureRoot(root))
	require.NoError(t, config.WriteConfigFile(root, want))

	v := viper.New()
	v.SetConfigFile(filepath.Join(root, "config", "config.toml"))
	require.NoError(t, v.ReadInConfig())

	got := config.DefaultConfig()
	require.NoError(t, v.Unmarshal(got))
	require.NoError(t, got.ValidateBasic())

	assert.Equal(t, want.Moniker, got.Moniker)
	assert.Equal(t, want.LogLevel, got.LogLevel)
	assert.Equal(t, want.DBBackend, got.DBBackend)
	assert.Equal(t, want.RetainSetViews, got.RetainSetViews)
	assert.Equal(t, want.SetChangeProofTTL, got.SetChangeProofTTL)
	assert.Equal(t, want.RPC, got.RPC)
	assert.Equal(t, want.Gossip, got.Gossip)
	assert.Equal(t, want.Aggregator, got.Aggregator)
	assert.Equal(t, want.Store, got.Store)
	assert.Equal(t, want.Inbound, got.Inbound)
	assert.Equal(t, want.Instrumentation, got.Instrumentation)
}
