// Package config holds the relay daemon's configuration, populated from
// flags with environment fallback (FERRY_ prefix). Flags take precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig holds configuration for the relay daemon.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log-level"`
	MaxMessageBytes int           `mapstructure:"max-message-bytes"`
	IdleTimeout     time.Duration `mapstructure:"idle-timeout"`
	ConnectsPerMin  int           `mapstructure:"connects-per-min"`
	ConnectsBurst   int           `mapstructure:"connects-burst"`
	MsgsPerSec      float64       `mapstructure:"msgs-per-sec"`
	MsgsBurst       int           `mapstructure:"msgs-burst"`
	MaxConnections  int           `mapstructure:"max-connections"`
	AllowedOrigins  []string      `mapstructure:"allowed-origins"`
	NotifyToken     string        `mapstructure:"notify-token"`
}

// RegisterFlags declares every server flag with its default on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":3000", "listen address")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Int("max-message-bytes", 64*1024, "max websocket message size")
	fs.Duration("idle-timeout", 10*time.Minute, "websocket idle timeout (0 disables)")
	fs.Int("connects-per-min", 30, "max websocket connects per minute per IP (0 disables)")
	fs.Int("connects-burst", 10, "burst websocket connects per IP")
	fs.Float64("msgs-per-sec", 50, "max directives per second per connection (0 disables)")
	fs.Int("msgs-burst", 100, "burst directives per connection")
	fs.Int("max-connections", 2000, "max concurrent websocket connections (0 disables)")
	fs.StringSlice("allowed-origins", nil, "allowed websocket origins (empty allows all)")
	fs.String("notify-token", "", "bearer token required on /notify (empty disables auth)")
}

// Load resolves the configuration from the parsed flag set and the
// environment. FERRY_LOG_LEVEL maps to --log-level and so on.
func Load(fs *pflag.FlagSet) (ServerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("FERRY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return ServerConfig{}, fmt.Errorf("bind flags: %w", err)
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxMessageBytes < 0 {
		return fmt.Errorf("max-message-bytes must not be negative")
	}
	if c.MsgsPerSec < 0 {
		return fmt.Errorf("msgs-per-sec must not be negative")
	}
	return nil
}
