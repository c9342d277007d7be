// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables win; the prefix is BALLOTBOX_, with
// dots mapped to underscores (server.addr -> BALLOTBOX_SERVER_ADDR).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	PG     PGConfig     `mapstructure:"pg"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	HTTP   HTTPConfig   `mapstructure:"http"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PGConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type ChainConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type HTTPConfig struct {
	RateBurst    int           `mapstructure:"rate_burst"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BALLOTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as env bindings: Unmarshal only sees keys that exist
	// in the defaults or the file.
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("pg.dsn", "")
	v.SetDefault("pg.max_open_conns", 16)
	v.SetDefault("pg.max_idle_conns", 4)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ballotbox.events")
	v.SetDefault("http.rate_burst", 60)
	v.SetDefault("http.rate_per_sec", 30.0)
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Addr == "" {
		return nil, fmt.Errorf("server.addr must not be empty")
	}
	return &cfg, nil
}
