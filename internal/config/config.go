package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CANVAS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "canvas.db"
	defaultLogLevel        = "info"
	defaultChannelRoom     = "canvas-room"
	defaultCleanupInterval = 24 * time.Hour
)

// AppConfig captures runtime configuration for the canvas API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	ChannelRoom     string
	CleanupInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("channel.room", defaultChannelRoom)
	configViper.SetDefault("cleanup.interval", defaultCleanupInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		ChannelRoom:     configViper.GetString("channel.room"),
		CleanupInterval: configViper.GetDuration("cleanup.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ChannelRoom) == "" {
		return fmt.Errorf("channel.room is required")
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cleanup.interval must not be negative")
	}
	return nil
}
