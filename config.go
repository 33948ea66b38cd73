package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// Config holds the runtime configuration, sourced from the config file with
// NARRATE_* environment variables taking precedence.
type Config struct {
	ProviderURL string `env:"NARRATE_PROVIDER_URL"`
	APIKey      string `env:"NARRATE_API_KEY"`
	Provider    string `env:"NARRATE_PROVIDER"`
	VoiceID     string `env:"NARRATE_VOICE"`
	Language    string `env:"NARRATE_LANGUAGE"`

	DataDir string `env:"NARRATE_DATA_DIR"`

	SampleRate int     `env:"NARRATE_SAMPLE_RATE"`
	Channels   int     `env:"NARRATE_CHANNELS"`
	Volume     float64 `env:"NARRATE_VOLUME"`

	FetchRate  float64 `env:"NARRATE_FETCH_RATE"`
	FetchBurst int     `env:"NARRATE_FETCH_BURST"`
}

func setConfigDefaults() {
	viper.SetDefault("debug", false)
	viper.SetDefault("provider.url", "https://api.narratekit.dev")
	viper.SetDefault("provider.name", "standard")
	viper.SetDefault("voice", "alloy")
	viper.SetDefault("language", "en")
	viper.SetDefault("audio.sample_rate", 22050)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.volume", 1.0)
	viper.SetDefault("fetch.rate", 8.0)
	viper.SetDefault("fetch.burst", 4)
}

// loadConfig merges the config file values with the environment. Environment
// variables win; file values fill whatever the environment left unset.
func loadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.ProviderURL == "" {
		cfg.ProviderURL = viper.GetString("provider.url")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = viper.GetString("provider.api_key")
	}
	if cfg.Provider == "" {
		cfg.Provider = viper.GetString("provider.name")
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = viper.GetString("voice")
	}
	if cfg.Language == "" {
		cfg.Language = viper.GetString("language")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = viper.GetInt("audio.sample_rate")
	}
	if cfg.Channels == 0 {
		cfg.Channels = viper.GetInt("audio.channels")
	}
	if cfg.Volume == 0 {
		cfg.Volume = viper.GetFloat64("audio.volume")
	}
	if cfg.FetchRate == 0 {
		cfg.FetchRate = viper.GetFloat64("fetch.rate")
	}
	if cfg.FetchBurst == 0 {
		cfg.FetchBurst = viper.GetInt("fetch.burst")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = viper.GetString("data_dir")
	}
	if cfg.DataDir == "" {
		scope := gap.NewScope(gap.User, "narrate")
		dir, err := scope.DataPath("")
		if err != nil {
			return Config{}, fmt.Errorf("could not determine data directory: %w", err)
		}
		cfg.DataDir = dir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("could not create data directory: %w", err)
	}

	return cfg, nil
}
