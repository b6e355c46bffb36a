// Package config loads runtime configuration for the TuneWave backend.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "TUNEWAVE"
	defaultHTTPAddress = "0.0.0.0:8001"
	defaultRedirectURL = "http://127.0.0.1:8001/auth/callback"
	defaultLogLevel    = "info"
	defaultFetchLimit  = 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabaseURL         string
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURL  string
	LogLevel            string
	SyncFetchLimit      int
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
	configViper.SetDefault("spotify.redirect_url", defaultRedirectURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("sync.fetch_limit", defaultFetchLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseURL:         configViper.GetString("database.url"),
		SpotifyClientID:     configViper.GetString("spotify.client_id"),
		SpotifyClientSecret: configViper.GetString("spotify.client_secret"),
		SpotifyRedirectURL:  configViper.GetString("spotify.redirect_url"),
		LogLevel:            configViper.GetString("log.level"),
		SyncFetchLimit:      configViper.GetInt("sync.fetch_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.SpotifyClientID) == "" {
		return fmt.Errorf("spotify.client_id is required")
	}
	if strings.TrimSpace(c.SpotifyClientSecret) == "" {
		return fmt.Errorf("spotify.client_secret is required")
	}
	if c.SyncFetchLimit <= 0 || c.SyncFetchLimit > 50 {
		return fmt.Errorf("sync.fetch_limit must be between 1 and 50")
	}
	return nil
}
