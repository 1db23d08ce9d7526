// Package config loads service configuration from defaults, an optional file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

const (
	appName        = "nowplaying"
	configFileName = "nowplaying"
	grantFileName  = "grant.json"
)

// ErrMissingCredentials is returned when the Spotify client id, client secret
// or refresh token is not configured.
var ErrMissingCredentials = errors.New("missing SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET or SPOTIFY_REFRESH_TOKEN")

// Config holds all service configuration.
type Config struct {
	Spotify  SpotifyConfig  `mapstructure:"spotify"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SpotifyConfig holds Spotify credentials and upstream endpoints.
type SpotifyConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	RefreshToken   string        `mapstructure:"refresh_token"`
	RedirectURI    string        `mapstructure:"redirect_uri"`
	TokenURL       string        `mapstructure:"token_url"`
	APIURL         string        `mapstructure:"api_url"`
	TokenTimeout   time.Duration `mapstructure:"token_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenFile      string        `mapstructure:"token_file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the file grant store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json or logfmt
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURI:    "http://127.0.0.1:3000/api/auth/callback/spotify",
			TokenURL:       spotifyauth.TokenURL,
			APIURL:         "https://api.spotify.com/v1",
			TokenTimeout:   15 * time.Second,
			RequestTimeout: 12 * time.Second,
			TokenFile:      defaultTokenFile(),
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:3000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			RateLimit:    5,
			RateBurst:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultTokenFile returns ~/.config/nowplaying/grant.json, or a relative
// path when the user config dir cannot be determined.
func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return grantFileName
	}
	return filepath.Join(dir, appName, grantFileName)
}

// Load reads configuration. When path is empty, nowplaying.{yaml,toml,json}
// is looked up in the working directory and its absence is not an error.
// Environment variables override file values: spotify.client_id is read from
// SPOTIFY_CLIENT_ID, database.url from DATABASE_URL, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Spotify.RefreshToken = strings.TrimSpace(cfg.Spotify.RefreshToken)
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can populate it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("spotify.client_id", d.Spotify.ClientID)
	v.SetDefault("spotify.client_secret", d.Spotify.ClientSecret)
	v.SetDefault("spotify.refresh_token", d.Spotify.RefreshToken)
	v.SetDefault("spotify.redirect_uri", d.Spotify.RedirectURI)
	v.SetDefault("spotify.token_url", d.Spotify.TokenURL)
	v.SetDefault("spotify.api_url", d.Spotify.APIURL)
	v.SetDefault("spotify.token_timeout", d.Spotify.TokenTimeout)
	v.SetDefault("spotify.request_timeout", d.Spotify.RequestTimeout)
	v.SetDefault("spotify.token_file", d.Spotify.TokenFile)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)

	v.SetDefault("database.url", d.Database.URL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// HasClient reports whether the OAuth client identity is configured.
func (c *SpotifyConfig) HasClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Validate checks that the client identity and a refresh token are present.
// A refresh token may also come from a stored grant, so callers that have a
// grant store only need HasClient.
func (c *SpotifyConfig) Validate() error {
	if !c.HasClient() || c.RefreshToken == "" {
		return ErrMissingCredentials
	}
	return nil
}
