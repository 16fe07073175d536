package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("ensuring directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteConfigFile renders config using the template and writes it to the
// standard config path under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// ConfigFilePath returns the standard config file path under rootDir.
func ConfigFilePath(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteToTemplate writes the config to the exact file specified by the
// path, in the default toml template and does not mangle the path or
// filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return os.WriteFile(path, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/myawesomeapp/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.notary" by default, but could be changed via $NOTARY_HOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Database backend: goleveldb | cleveldb | boltdb | badgerdb | memdb
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ .BaseConfig.DBPath }}"

# Path to the JSON file containing the node's bridge signing key
bridge-key-file = "{{ .BaseConfig.BridgeKey }}"

# How many superseded validator set views stay addressable, so witnesses
# for requests issued under them still verify
retain-set-views = {{ .BaseConfig.RetainSetViews }}

# TTL in blocks of self-originated validator set handover proofs
set-change-proof-ttl = {{ .BaseConfig.SetChangeProofTTL }}

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###       RPC Server Configuration Options          ###
#######################################################
[rpc]

# TCP or UNIX socket address for the RPC server to listen on
laddr = "{{ .RPC.ListenAddress }}"

# Maximum number of simultaneous connections (including WebSocket)
max-open-connections = {{ .RPC.MaxOpenConnections }}

# How long to wait for a proof event to be written to a slow websocket
# subscriber before dropping it
websocket-write-timeout = "{{ .RPC.WebsocketWriteTimeout }}"

# Per-subscriber event buffer; subscribers falling further behind lose
# events
subscription-buffer-size = {{ .RPC.SubscriptionBufferSize }}

#######################################################
###     Gossip Engine Configuration Options         ###
#######################################################
[gossip]

# Size of the bounded pool verifying witness and vote signatures
verify-workers = {{ .Gossip.VerifyWorkers }}

# How often progress announcements go out to peers
announce-interval = "{{ .Gossip.AnnounceInterval }}"

# How long a proof or claim may sit unchanged before its known messages
# are re-flooded
rebroadcast-after = "{{ .Gossip.RebroadcastAfter }}"

#######################################################
###     Proof Aggregator Configuration Options      ###
#######################################################
[aggregator]

# Number of shards witness and vote accounting is partitioned over
shards = {{ .Aggregator.Shards }}

# Capacity of each shard's message queue
queue-depth = {{ .Aggregator.QueueDepth }}

# Blocks a completed or expired record lingers before pruning
record-grace = {{ .Aggregator.RecordGrace }}

#######################################################
###       Proof Store Configuration Options         ###
#######################################################
[store]

# Blocks a completed proof stays stored past its completion height
retain-blocks = {{ .Store.RetainBlocks }}

# Time between pruning sweeps
prune-interval = "{{ .Store.PruneInterval }}"

#######################################################
###    Inbound Observation Configuration Options    ###
#######################################################
[inbound]

# Websocket or HTTP address of the Ethereum JSON-RPC endpoint this
# validator observes claims against; empty disables observation
ethereum-rpc = "{{ .Inbound.EthereumRPC }}"

# Blocks a transaction must be buried under before its receipt counts
min-confirmations = {{ .Inbound.MinConfirmations }}

# How far the chain head may advance past a call's target block before
# the observation reports outdated
max-block-look-behind = {{ .Inbound.MaxBlockLookBehind }}

# Delay between retries of transient observation failures
retry-interval = "{{ .Inbound.RetryInterval }}"

# Deadline for a single observation attempt
observe-timeout = "{{ .Inbound.ObserveTimeout }}"

# Maximum concurrent observation requests against the endpoint
max-concurrent = {{ .Inbound.MaxConcurrent }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus-listen-addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
max-open-connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
