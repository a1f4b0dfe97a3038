// Package config loads the SDK configuration from JSON, with optional
// network profiles supplied as YAML.
package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// Config describes everything the SDK needs at construction time.
type Config struct {
	Network    NetworkConfig    `json:"network" validate:"required"`
	Wallet     WalletConfig     `json:"wallet"`
	Contracts  ContractsConfig  `json:"contracts" validate:"required"`
	Storage    StorageConfig    `json:"storage"`
	Transport  TransportConfig  `json:"transport"`
	Watchtower WatchtowerConfig `json:"watchtower"`
	Log        LogConfig        `json:"log"`
	Metrics    MetricsConfig    `json:"metrics"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// NetworkConfig points the SDK at an EVM endpoint.
type NetworkConfig struct {
	Name    string `json:"name"`
	RPCURL  string `json:"rpc_url" validate:"required"`
	ChainID int64  `json:"chain_id" validate:"gt=0"`
	// TimeoutMS bounds each RPC round trip, in milliseconds.
	TimeoutMS int64 `json:"timeout_ms" validate:"gte=0"`
}

// Timeout returns the RPC timeout as a duration.
func (n NetworkConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutMS) * time.Millisecond
}

// WalletConfig carries the signing key. The key may be omitted for
// read-only clients.
type WalletConfig struct {
	PrivateKey string `json:"private_key"`
}

// ContractsConfig lists the deployed protocol contract addresses.
type ContractsConfig struct {
	Token           string `json:"token" validate:"required,eth_addr"`
	PaymentRouter   string `json:"payment_router" validate:"required,eth_addr"`
	Reputation      string `json:"reputation" validate:"required,eth_addr"`
	ServiceRegistry string `json:"service_registry" validate:"required,eth_addr"`
	Channel         string `json:"channel" validate:"required,eth_addr"`
}

// StorageConfig selects the signed state store backend.
type StorageConfig struct {
	ChannelStore ChannelStoreConfig `json:"channel_store"`
}

// ChannelStoreConfig selects between the in-memory store and MySQL.
type ChannelStoreConfig struct {
	Driver string `json:"driver" validate:"omitempty,oneof=memory mysql"`
	DSN    string `json:"dsn"`
}

// TransportConfig selects the channel update transport backend.
type TransportConfig struct {
	Driver   string         `json:"driver" validate:"omitempty,oneof=memory redis rabbitmq"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig configures the Redis stream transport.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
}

// RabbitMQConfig configures the AMQP transport.
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// WatchtowerConfig tunes the close monitor.
type WatchtowerConfig struct {
	// PollIntervalMS is how often monitored channels are re-read.
	PollIntervalMS int64 `json:"poll_interval_ms" validate:"gte=0"`
	// SafetyMarginMS is how long before the challenge deadline a
	// challenge must be submitted.
	SafetyMarginMS int64 `json:"safety_margin_ms" validate:"gte=0"`
	// AlertWebhookURL receives failed-defense alerts. Empty disables
	// alerting.
	AlertWebhookURL string `json:"alert_webhook_url" validate:"omitempty,url"`
}

// PollInterval returns the poll cadence as a duration.
func (w WatchtowerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// SafetyMargin returns the challenge safety margin as a duration.
func (w WatchtowerConfig) SafetyMargin() time.Duration {
	return time.Duration(w.SafetyMarginMS) * time.Millisecond
}

// LogConfig configures the structured logger and the audit stream.
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format" validate:"omitempty,oneof=json text"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig configures the rotated audit log file.
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig exposes the Prometheus-style text endpoint. An empty
// address disables the listener.
type MetricsConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig holds general runtime parameters.
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

var validate = validator.New()

// Load parses and validates the JSON configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "config path must not be empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "open config file")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "read config file")
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates raw JSON configuration.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "decode config")
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "invalid config")
	}
	return &cfg, nil
}

// applyDefaults fills in the fields the user left blank.
func (c *Config) applyDefaults(baseDir string) {
	if c.Network.Name == "" {
		c.Network.Name = "custom"
	}
	if c.Network.TimeoutMS == 0 {
		c.Network.TimeoutMS = 30_000
	}

	if c.Storage.ChannelStore.Driver == "" {
		c.Storage.ChannelStore.Driver = "memory"
	}
	if c.Transport.Driver == "" {
		c.Transport.Driver = "memory"
	}
	if c.Transport.Redis.Stream == "" {
		c.Transport.Redis.Stream = "synapse:channel-updates"
	}
	if c.Transport.RabbitMQ.Queue == "" {
		c.Transport.RabbitMQ.Queue = "synapse.channel.updates"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Watchtower.PollIntervalMS == 0 {
		c.Watchtower.PollIntervalMS = 15_000
	}
	if c.Watchtower.SafetyMarginMS == 0 {
		c.Watchtower.SafetyMarginMS = 120_000
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// TokenAddress returns the SYNX token contract address.
func (c *ContractsConfig) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

// PaymentRouterAddress returns the payment router contract address.
func (c *ContractsConfig) PaymentRouterAddress() common.Address {
	return common.HexToAddress(c.PaymentRouter)
}

// ReputationAddress returns the reputation registry contract address.
func (c *ContractsConfig) ReputationAddress() common.Address {
	return common.HexToAddress(c.Reputation)
}

// ServiceRegistryAddress returns the service registry contract address.
func (c *ContractsConfig) ServiceRegistryAddress() common.Address {
	return common.HexToAddress(c.ServiceRegistry)
}

// ChannelAddress returns the payment channel contract address.
func (c *ContractsConfig) ChannelAddress() common.Address {
	return common.HexToAddress(c.Channel)
}
