package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the coordinator's full set of recognized options, per
// spec.md §6.
type Config struct {
	HeartbeatIntervalMs int64  `mapstructure:"heartbeatIntervalMs"`
	UnhealthyAfterMs    int64  `mapstructure:"unhealthyAfterMs"`
	WaveDeadlineMs      int64  `mapstructure:"waveDeadlineMs"`
	DefaultPolicy       string `mapstructure:"defaultPolicy"`
	MinWorkers          int    `mapstructure:"minWorkers"`
	MaxWorkers          int    `mapstructure:"maxWorkers"`

	SweepCron   string `mapstructure:"sweepCron"`
	GRPCAddr    string `mapstructure:"grpcAddr"`
	MetricsAddr string `mapstructure:"metricsAddr"`
	LogLevel    string `mapstructure:"logLevel"`
	LogJSON     bool   `mapstructure:"logJSON"`
}

// HeartbeatInterval returns the configured heartbeat cadence as a Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// UnhealthyAfter returns the configured staleness threshold as a Duration.
func (c Config) UnhealthyAfter() time.Duration {
	return time.Duration(c.UnhealthyAfterMs) * time.Millisecond
}

// WaveDeadline returns the configured wave timeout as a Duration.
func (c Config) WaveDeadline() time.Duration {
	return time.Duration(c.WaveDeadlineMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("heartbeatIntervalMs", 30000)
	v.SetDefault("unhealthyAfterMs", 120000)
	v.SetDefault("waveDeadlineMs", 30000)
	v.SetDefault("defaultPolicy", "resource_aware")
	v.SetDefault("minWorkers", 1)
	v.SetDefault("maxWorkers", 5)
	v.SetDefault("sweepCron", "@every 10s")
	v.SetDefault("grpcAddr", "0.0.0.0:7070")
	v.SetDefault("metricsAddr", "0.0.0.0:9090")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logJSON", false)
}

// Load reads configuration from configPath (if non-empty and present),
// STRATUMDB_-prefixed environment variables, and flags (if non-nil, bound
// last so they take precedence), applying defaults for anything unset.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATUMDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
