// Package config loads pool configuration from flags, environment
// variables, and a config file, in that order of precedence, following the
// viper-backed pattern used throughout the retrieval pack's daemon
// entrypoints.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything needed to stand up one p2pool node.
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Coind   CoindConfig   `mapstructure:"coind"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Stratum StratumConfig `mapstructure:"stratum"`
	Merged  MergedConfig  `mapstructure:"merged"`
	Log     LogConfig     `mapstructure:"log"`
}

// NetworkConfig selects the parent chain's network descriptor.
type NetworkConfig struct {
	Name string `mapstructure:"name"`
}

// CoindConfig describes how to reach the parent full node.
type CoindConfig struct {
	Address string `mapstructure:"address"`
	RPCPort int    `mapstructure:"rpc_port"`
	P2PPort int    `mapstructure:"p2p_port"`
	RPCUser string `mapstructure:"rpc_user"`
	RPCPass string `mapstructure:"rpc_pass"`
}

// PoolConfig controls payout address, fees, and PPLNS behavior.
type PoolConfig struct {
	Address           string  `mapstructure:"address"`
	FeePercent        float64 `mapstructure:"fee_percent"`
	GiveAuthorPercent float64 `mapstructure:"give_author_percent"`
}

// StratumConfig controls the Stratum listener and vardiff parameters.
type StratumConfig struct {
	WorkerPort     int           `mapstructure:"worker_port"`
	ShareRate      time.Duration `mapstructure:"share_rate"`
	MinDifficulty  float64       `mapstructure:"min_difficulty"`
	MaxDifficulty  float64       `mapstructure:"max_difficulty"`
	MaxConnections int           `mapstructure:"max_connections"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// MergedChainConfig is one auxiliary chain's RPC endpoint.
type MergedChainConfig struct {
	URL             string `mapstructure:"url"`
	OperatorAddress string `mapstructure:"operator_address"`
}

// MergedConfig lists the auxiliary chains to merge-mine against.
type MergedConfig struct {
	Chains []MergedChainConfig `mapstructure:"chains"`
}

// LogConfig controls the zap logger's verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds a Config from an optional config file, environment
// variables (prefixed P2POOL_), and whatever was already bound onto v
// from command-line flags by the caller.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("p2pool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/p2pool")
	}

	v.SetEnvPrefix("P2POOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.name", "bitcoin-testnet")

	v.SetDefault("coind.address", "127.0.0.1")
	v.SetDefault("coind.rpc_port", 18332)
	v.SetDefault("coind.p2p_port", 18333)

	v.SetDefault("pool.fee_percent", 0.0)
	v.SetDefault("pool.give_author_percent", 0.0)

	v.SetDefault("stratum.worker_port", 9327)
	v.SetDefault("stratum.share_rate", "10s")
	v.SetDefault("stratum.min_difficulty", 0.001)
	v.SetDefault("stratum.max_difficulty", 1e12)
	v.SetDefault("stratum.max_connections", 4096)
	v.SetDefault("stratum.session_timeout", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects configurations that would fail at startup anyway,
// so CLI callers can map this to exit code 1 before touching the network.
func (c *Config) Validate() error {
	if c.Pool.Address == "" {
		return fmt.Errorf("pool.address is required")
	}
	if c.Pool.FeePercent < 0 || c.Pool.FeePercent > 10 {
		return fmt.Errorf("pool.fee_percent must be between 0 and 10")
	}
	if c.Coind.Address == "" {
		return fmt.Errorf("coind.address is required")
	}
	if c.Stratum.WorkerPort <= 0 || c.Stratum.WorkerPort > 65535 {
		return fmt.Errorf("stratum.worker_port out of range")
	}
	if c.Stratum.MinDifficulty <= 0 {
		return fmt.Errorf("stratum.min_difficulty must be positive")
	}
	if c.Stratum.MaxDifficulty < c.Stratum.MinDifficulty {
		return fmt.Errorf("stratum.max_difficulty must be >= min_difficulty")
	}
	return nil
}
