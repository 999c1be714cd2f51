// Package config holds the relayer configuration loaded through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/multierr"

	"github.com/wormhole-demo/swim-relayer/internal/address"
)

// Chain types with an executor implementation.
const (
	ChainTypeEVM    = "evm"
	ChainTypeSolana = "solana"
)

// Defaults applied by Validate.
const (
	DefaultSpyRPCHost     = "localhost:7073"
	DefaultRestPort       = 4201
	DefaultMetricsPort    = 8083
	DefaultRedisAddr      = "localhost:6379"
	DefaultPollInterval   = 5 * time.Second
	DefaultAuditInterval  = 30 * time.Second
	DefaultAuditWindow    = 10 * time.Minute
	DefaultMonitorPeriod  = 15 * time.Second
	DefaultBackupSize     = 10_000
	DefaultBackupInterval = 10 * time.Second
)

type Config struct {
	SpyRPCHost            string            `mapstructure:"spy_rpc_host"`
	SpyFilters            []SpyFilter       `mapstructure:"spy_service_filters"`
	RestPort              int               `mapstructure:"rest_port"`
	MetricsPort           int               `mapstructure:"prom_port"`
	Redis                 RedisConfig       `mapstructure:"redis"`
	SwimEVMRoutingAddress string            `mapstructure:"swim_evm_routing_address"`
	SupportedTokens       []SupportedToken  `mapstructure:"supported_tokens"`
	SupportedChains       []ChainConfig     `mapstructure:"supported_chains"`
	Relay                 RelayTimingConfig `mapstructure:"relay"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	IncomingDB     int           `mapstructure:"incoming_db"`
	WorkingDB      int           `mapstructure:"working_db"`
	BackupSize     int           `mapstructure:"backup_size"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

type RelayTimingConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AuditInterval   time.Duration `mapstructure:"audit_interval"`
	AuditWindow     time.Duration `mapstructure:"audit_window"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// SpyFilter selects the VAAs of one emitter on the spy feed. The address is
// the token bridge in native form; Solana bridges are converted to their
// emitter PDA.
type SpyFilter struct {
	ChainID        vaaLib.ChainID `mapstructure:"chain_id"`
	EmitterAddress string         `mapstructure:"emitter_address"`
}

// SupportedToken is one entry of the approved-token allowlist.
type SupportedToken struct {
	ChainID vaaLib.ChainID `mapstructure:"chain_id"`
	Address string         `mapstructure:"address"`
}

// ChainConfig describes a redemption target.
type ChainConfig struct {
	ChainID            vaaLib.ChainID `mapstructure:"chain_id"`
	Name               string         `mapstructure:"name"`
	Type               string         `mapstructure:"type"`
	NodeURL            string         `mapstructure:"node_url"`
	TokenBridgeAddress string         `mapstructure:"token_bridge_address"`
	BridgeAddress      string         `mapstructure:"bridge_address"`
	WrappedAsset       string         `mapstructure:"wrapped_asset"`
	WalletPrivateKeys  []string       `mapstructure:"wallet_private_keys"`
	VAAServiceURL      string         `mapstructure:"vaa_service_url"`
}

// Load unmarshals the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and reports every invalid field at once.
func (c *Config) Validate() error {
	if c.SpyRPCHost == "" {
		c.SpyRPCHost = DefaultSpyRPCHost
	}
	if c.RestPort == 0 {
		c.RestPort = DefaultRestPort
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = DefaultMetricsPort
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.IncomingDB == 0 && c.Redis.WorkingDB == 0 {
		c.Redis.WorkingDB = 1
	}
	if c.Redis.BackupSize == 0 {
		c.Redis.BackupSize = DefaultBackupSize
	}
	if c.Redis.BackupInterval == 0 {
		c.Redis.BackupInterval = DefaultBackupInterval
	}
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = DefaultPollInterval
	}
	if c.Relay.AuditInterval == 0 {
		c.Relay.AuditInterval = DefaultAuditInterval
	}
	if c.Relay.AuditWindow == 0 {
		c.Relay.AuditWindow = DefaultAuditWindow
	}
	if c.Relay.MonitorInterval == 0 {
		c.Relay.MonitorInterval = DefaultMonitorPeriod
	}

	var err error
	if c.Redis.IncomingDB == c.Redis.WorkingDB {
		err = multierr.Append(err, errors.New("redis incoming_db and working_db must differ"))
	}
	if _, perr := address.FromNative(vaaLib.ChainIDEthereum, c.SwimEVMRoutingAddress); perr != nil {
		err = multierr.Append(err, fmt.Errorf("swim_evm_routing_address: %w", perr))
	}

	seen := make(map[vaaLib.ChainID]bool)
	for i := range c.SupportedChains {
		chain := &c.SupportedChains[i]
		chain.Type = strings.ToLower(chain.Type)
		if chain.Name == "" {
			chain.Name = chain.ChainID.String()
		}
		if seen[chain.ChainID] {
			err = multierr.Append(err, fmt.Errorf("chain %d configured twice", chain.ChainID))
		}
		seen[chain.ChainID] = true

		switch chain.Type {
		case ChainTypeEVM:
			if !address.IsEVM(chain.ChainID) {
				err = multierr.Append(err, fmt.Errorf("chain %d is not an EVM chain", chain.ChainID))
			}
		case ChainTypeSolana:
			if chain.ChainID != vaaLib.ChainIDSolana {
				err = multierr.Append(err, fmt.Errorf("chain %d is not Solana", chain.ChainID))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("chain %d has unsupported type %q", chain.ChainID, chain.Type))
		}
		if chain.NodeURL == "" {
			err = multierr.Append(err, fmt.Errorf("chain %d is missing node_url", chain.ChainID))
		}
		if chain.TokenBridgeAddress == "" {
			err = multierr.Append(err, fmt.Errorf("chain %d is missing token_bridge_address", chain.ChainID))
		}
		if len(chain.WalletPrivateKeys) == 0 {
			err = multierr.Append(err, fmt.Errorf("chain %d has no wallet_private_keys", chain.ChainID))
		}
	}

	for _, token := range c.SupportedTokens {
		if _, terr := address.FromNative(token.ChainID, token.Address); terr != nil {
			err = multierr.Append(err, fmt.Errorf("supported token on chain %d: %w", token.ChainID, terr))
		}
	}
	for _, filter := range c.SpyFilters {
		if _, ferr := address.EmitterAddress(filter.ChainID, filter.EmitterAddress); ferr != nil {
			err = multierr.Append(err, fmt.Errorf("spy filter on chain %d: %w", filter.ChainID, ferr))
		}
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Chain returns the configuration of a supported target chain.
func (c *Config) Chain(id vaaLib.ChainID) (ChainConfig, bool) {
	for _, chain := range c.SupportedChains {
		if chain.ChainID == id {
			return chain, true
		}
	}
	return ChainConfig{}, false
}
