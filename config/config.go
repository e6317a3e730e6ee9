// Package config loads settings from config.yaml, ELM327_* environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"elm327-diag/elm327"
	"elm327-diag/logging"
	"elm327-diag/mqtt"
	"elm327-diag/transport"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. ELM327_ADAPTER_DEVICE_PATH.
	EnvPrefix = "ELM327"
	// HomeDir is searched for config.yaml under the user's home directory.
	HomeDir = ".elm327-diag"
)

// Tables points at optional lookup table files.
type Tables struct {
	PrefixFile       string   `mapstructure:"prefix_file"`
	DescriptionFiles []string `mapstructure:"description_files"`
}

// Config is the whole configuration tree, one section per package.
type Config struct {
	Adapter transport.Config `mapstructure:"adapter"`
	Session elm327.Config    `mapstructure:"session"`
	Tables  Tables           `mapstructure:"tables"`
	MQTT    mqtt.Config      `mapstructure:"mqtt"`
	Logging logging.Config   `mapstructure:"logging"`
}

// New returns a viper instance with every default set and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()

	adapter := transport.DefaultConfig()
	v.SetDefault("adapter.kind", adapter.Kind)
	v.SetDefault("adapter.device_path", adapter.DevicePath)
	v.SetDefault("adapter.description_pattern", adapter.DescriptionPattern)
	v.SetDefault("adapter.baud_rate", adapter.BaudRate)
	v.SetDefault("adapter.read_timeout", adapter.ReadTimeout)

	session := elm327.DefaultConfig()
	v.SetDefault("session.connect_attempts", session.ConnectAttempts)
	v.SetDefault("session.settle_period", session.SettlePeriod)
	v.SetDefault("session.reset_period", session.ResetPeriod)
	v.SetDefault("session.response_timeout", session.ResponseTimeout)

	v.SetDefault("tables.prefix_file", "")
	v.SetDefault("tables.description_files", []string{})

	broker := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", broker.Enabled)
	v.SetDefault("mqtt.broker", broker.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic", broker.Topic)
	v.SetDefault("mqtt.qos", broker.QoS)
	v.SetDefault("mqtt.retain", broker.Retain)
	v.SetDefault("mqtt.keep_alive", broker.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", broker.ConnectTimeout)

	logs := logging.DefaultConfig()
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.file", logs.File)
	v.SetDefault("logging.max_size_mb", logs.MaxSizeMB)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.no_color", logs.NoColor)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or config.yaml from the working directory and
// $HOME/.elm327-diag when path is empty. Only an explicitly named file is
// required to exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", HomeDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Session.Setup = elm327.DefaultSetup()
	return cfg, nil
}
