// Package config defines the notaryd configuration: a TOML file rendered
// from a template, loaded through viper, and validated before the node
// starts.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	// LogFormatPlain defines a logging format as human-readable text.
	LogFormatPlain = "plain"
	// LogFormatJSON defines a logging format as JSON-structured output.
	LogFormatJSON = "json"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultNotaryDir = ".notary"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultBridgeKeyName  = "bridge_key.json"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultBridgeKeyPath  = filepath.Join(defaultConfigDir, defaultBridgeKeyName)
)

// Config defines the top level configuration for a notary node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Gossip          *GossipConfig          `mapstructure:"gossip"`
	Aggregator      *AggregatorConfig      `mapstructure:"aggregator"`
	Store           *StoreConfig           `mapstructure:"store"`
	Inbound         *InboundConfig         `mapstructure:"inbound"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a notary node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		RPC:             DefaultRPCConfig(),
		Gossip:          DefaultGossipConfig(),
		Aggregator:      DefaultAggregatorConfig(),
		Store:           DefaultStoreConfig(),
		Inbound:         DefaultInboundConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseConfig = TestBaseConfig()
	cfg.RPC.ListenAddress = "tcp://127.0.0.1:0"
	cfg.Store.PruneInterval = 100 * time.Millisecond
	cfg.Gossip.AnnounceInterval = 100 * time.Millisecond
	return cfg
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [rpc] section: %w", err)
	}
	if err := cfg.Gossip.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [gossip] section: %w", err)
	}
	if err := cfg.Aggregator.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [aggregator] section: %w", err)
	}
	if err := cfg.Store.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [store] section: %w", err)
	}
	if err := cfg.Inbound.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [inbound] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a notary node.
type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// Database backend: goleveldb | cleveldb | boltdb | badgerdb | memdb
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`

	// Path to the JSON file containing the node's bridge signing key
	BridgeKey string `mapstructure:"bridge-key-file"`

	// How many superseded validator set views stay addressable, so
	// witnesses for requests issued under them still verify
	RetainSetViews int `mapstructure:"retain-set-views"`

	// TTL in blocks of self-originated validator set handover proofs
	SetChangeProofTTL int64 `mapstructure:"set-change-proof-ttl"`
}

// DefaultBaseConfig returns a default base configuration for a notary node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:           "anonymous",
		LogLevel:          "info",
		LogFormat:         LogFormatPlain,
		DBBackend:         "goleveldb",
		DBPath:            defaultDataDir,
		BridgeKey:         defaultBridgeKeyPath,
		RetainSetViews:    8,
		SetChangeProofTTL: 75,
	}
}

// TestBaseConfig returns a base configuration for testing a notary node.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test"
	cfg.DBBackend = "memdb"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain' or 'json')")
	}
	if cfg.RetainSetViews <= 0 {
		return errors.New("retain-set-views must be positive")
	}
	if cfg.SetChangeProofTTL <= 0 {
		return errors.New("set-change-proof-ttl must be positive")
	}
	return nil
}

// BridgeKeyFile returns the full path to the bridge key file.
func (cfg BaseConfig) BridgeKeyFile() string {
	return rootify(cfg.BridgeKey, cfg.RootDir)
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines the configuration options for the RPC server.
type RPCConfig struct {
	// TCP or UNIX socket address for the RPC server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// Maximum number of simultaneous connections (including WebSocket)
	MaxOpenConnections int `mapstructure:"max-open-connections"`

	// How long to wait for a proof event to be written to a slow
	// websocket subscriber before dropping it
	WebsocketWriteTimeout time.Duration `mapstructure:"websocket-write-timeout"`

	// Per-subscriber event buffer; subscribers falling further behind
	// lose events
	SubscriptionBufferSize int `mapstructure:"subscription-buffer-size"`
}

// DefaultRPCConfig returns a default configuration for the RPC server.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:          "tcp://127.0.0.1:26659",
		MaxOpenConnections:     900,
		WebsocketWriteTimeout:  10 * time.Second,
		SubscriptionBufferSize: 128,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("laddr must be set")
	}
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max-open-connections can't be negative")
	}
	if cfg.WebsocketWriteTimeout <= 0 {
		return errors.New("websocket-write-timeout must be positive")
	}
	if cfg.SubscriptionBufferSize < 1 {
		return errors.New("subscription-buffer-size must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------
// GossipConfig

// GossipConfig defines the configuration for the witness gossip engine.
type GossipConfig struct {
	// Size of the bounded pool verifying witness and vote signatures
	VerifyWorkers int `mapstructure:"verify-workers"`

	// How often progress announcements go out to peers
	AnnounceInterval time.Duration `mapstructure:"announce-interval"`

	// How long a proof or claim may sit unchanged before its known
	// messages are re-flooded
	RebroadcastAfter time.Duration `mapstructure:"rebroadcast-after"`
}

// DefaultGossipConfig returns a default configuration for the gossip engine.
func DefaultGossipConfig() *GossipConfig {
	return &GossipConfig{
		VerifyWorkers:    4,
		AnnounceInterval: 10 * time.Second,
		RebroadcastAfter: 30 * time.Second,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *GossipConfig) ValidateBasic() error {
	if cfg.VerifyWorkers < 1 {
		return errors.New("verify-workers must be at least 1")
	}
	if cfg.AnnounceInterval <= 0 {
		return errors.New("announce-interval must be positive")
	}
	if cfg.RebroadcastAfter <= 0 {
		return errors.New("rebroadcast-after must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// AggregatorConfig

// AggregatorConfig defines the configuration for the proof aggregator.
type AggregatorConfig struct {
	// Number of shards witness and vote accounting is partitioned over
	Shards int `mapstructure:"shards"`

	// Capacity of each shard's message queue
	QueueDepth int `mapstructure:"queue-depth"`

	// Blocks a completed or expired record lingers before pruning
	RecordGrace int64 `mapstructure:"record-grace"`
}

// DefaultAggregatorConfig returns a default configuration for the
// aggregator.
func DefaultAggregatorConfig() *AggregatorConfig {
	return &AggregatorConfig{
		Shards:      4,
		QueueDepth:  1024,
		RecordGrace: 256,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *AggregatorConfig) ValidateBasic() error {
	if cfg.Shards < 1 {
		return errors.New("shards must be at least 1")
	}
	if cfg.QueueDepth < 1 {
		return errors.New("queue-depth must be at least 1")
	}
	if cfg.RecordGrace < 1 {
		return errors.New("record-grace must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------
// StoreConfig

// StoreConfig defines the configuration for the proof store.
type StoreConfig struct {
	// Blocks a completed proof stays stored past its completion height
	RetainBlocks int64 `mapstructure:"retain-blocks"`

	// Time between pruning sweeps
	PruneInterval time.Duration `mapstructure:"prune-interval"`
}

// DefaultStoreConfig returns a default configuration for the proof store.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		RetainBlocks:  100000,
		PruneInterval: 5 * time.Minute,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *StoreConfig) ValidateBasic() error {
	if cfg.RetainBlocks < 1 {
		return errors.New("retain-blocks must be at least 1")
	}
	if cfg.PruneInterval <= 0 {
		return errors.New("prune-interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InboundConfig

// InboundConfig defines the configuration for inbound claim observation.
type InboundConfig struct {
	// Websocket or HTTP address of the Ethereum JSON-RPC endpoint this
	// validator observes claims against; empty disables observation
	EthereumRPC string `mapstructure:"ethereum-rpc"`

	// Blocks a transaction must be buried under before its receipt counts
	MinConfirmations uint64 `mapstructure:"min-confirmations"`

	// How far the chain head may advance past a call's target block
	// before the observation reports outdated
	MaxBlockLookBehind uint64 `mapstructure:"max-block-look-behind"`

	// Delay between retries of transient observation failures
	RetryInterval time.Duration `mapstructure:"retry-interval"`

	// Deadline for a single observation attempt
	ObserveTimeout time.Duration `mapstructure:"observe-timeout"`

	// Maximum concurrent observation requests against the endpoint
	MaxConcurrent int64 `mapstructure:"max-concurrent"`
}

// DefaultInboundConfig returns a default configuration for claim
// observation.
func DefaultInboundConfig() *InboundConfig {
	return &InboundConfig{
		EthereumRPC:        "",
		MinConfirmations:   6,
		MaxBlockLookBehind: 64,
		RetryInterval:      15 * time.Second,
		ObserveTimeout:     10 * time.Second,
		MaxConcurrent:      8,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InboundConfig) ValidateBasic() error {
	if cfg.RetryInterval <= 0 {
		return errors.New("retry-interval must be positive")
	}
	if cfg.ObserveTimeout <= 0 {
		return errors.New("observe-timeout must be positive")
	}
	if cfg.MaxConcurrent < 1 {
		return errors.New("max-concurrent must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Maximum number of simultaneous connections.
	MaxOpenConnections int `mapstructure:"max-open-connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "notary",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max-open-connections can't be negative")
	}
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus-listen-addr must be set when prometheus is enabled")
	}
	if cfg.Namespace == "" {
		return errors.New("namespace can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
