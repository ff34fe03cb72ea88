// Package config loads the embedder's runtime configuration: defaults,
// an optional YAML file, then RELAYCORE_-prefixed environment variables,
// in that order of increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds everything the embedder binary needs. The core relay
// package knows nothing about any of this — it takes a server name and
// a logger as plain arguments.
type Config struct {
	// ListenAddr is the host:port the TCP listener binds. Default port
	// matches the classic well-known port for this protocol.
	ListenAddr string `mapstructure:"listen_addr"`

	// ServerName is the literal source used on every numeric reply and
	// server-originated message.
	ServerName string `mapstructure:"server_name"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogPretty selects a human-readable console writer over JSON lines.
	LogPretty bool `mapstructure:"log_pretty"`

	// SendLusers gates the supplemented post-registration 251 reply.
	SendLusers bool `mapstructure:"send_lusers"`

	// IOWait bounds how long a single read or write may block before the
	// embedder's transport gives up on it. Zero disables deadlines.
	IOWait time.Duration `mapstructure:"io_wait"`

	// IdleCheckInterval is how often the embedder's ticker calls
	// Server.CheckIdle. Zero disables the idle-checking ticker entirely.
	IdleCheckInterval time.Duration `mapstructure:"idle_check_interval"`

	// IdleDeadAfter is how long a connection may go without activity
	// before CheckIdle disconnects it.
	IdleDeadAfter time.Duration `mapstructure:"idle_dead_after"`
}

// Default returns the configuration used when neither the config file nor
// an environment variable overrides a field.
func Default() Config {
	return Config{
		ListenAddr:        ":6667",
		ServerName:        "server",
		LogLevel:          "info",
		LogPretty:         false,
		SendLusers:        false,
		IOWait:            0,
		IdleCheckInterval: 0,
		IdleDeadAfter:     0,
	}
}

// Load resolves configuration from defaults, an optional YAML file at
// path (silently skipped if it does not exist), and RELAYCORE_-prefixed
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("server_name", cfg.ServerName)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_pretty", cfg.LogPretty)
	v.SetDefault("send_lusers", cfg.SendLusers)
	v.SetDefault("io_wait", cfg.IOWait)
	v.SetDefault("idle_check_interval", cfg.IdleCheckInterval)
	v.SetDefault("idle_dead_after", cfg.IdleDeadAfter)

	v.SetEnvPrefix("RELAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return cfg, errors.Wrap(err, "read config file")
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "unmarshal config")
	}

	return cfg, nil
}
