// Package config loads service configuration from pixelforge.yaml and
// PIXELFORGE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved service configuration.
type Config struct {
	Port string

	// Provider selects the markup generator: gemini, openai, or ollama.
	// Background image generation always goes through Gemini.
	Provider string

	GeminiAPIKey string
	OpenAIAPIKey string
	OllamaURL    string
	TextModel    string
	ImageModel   string

	// MaxGenerations bounds concurrent provider calls; MaxRenders bounds
	// concurrent browser renders.
	MaxGenerations int64
	MaxRenders     int64

	RenderTimeout  time.Duration
	RequestTimeout time.Duration
	SettleDelay    time.Duration

	// PerVariantCost is debited once per succeeded variant.
	// BackgroundCost is the flat price of a standalone background image.
	PerVariantCost int64
	BackgroundCost int64

	LedgerPath string
	ChromePath string
}

// Load reads configuration with defaults suitable for local development.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("pixelforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("PIXELFORGE")
	v.AutomaticEnv()

	v.SetDefault("port", "8888")
	v.SetDefault("provider", "gemini")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("text_model", "")
	v.SetDefault("image_model", "")
	v.SetDefault("max_generations", 8)
	v.SetDefault("max_renders", 2)
	v.SetDefault("render_timeout", "20s")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("settle_delay", "300ms")
	v.SetDefault("per_variant_cost", 1)
	v.SetDefault("background_cost", 1)
	v.SetDefault("ledger_path", "pixelforge.db")
	v.SetDefault("chrome_path", "")

	// GEMINI_API_KEY keeps its unprefixed name so the same variable
	// works here and with other Gemini tooling.
	if err := v.BindEnv("gemini_api_key", "PIXELFORGE_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("openai_api_key", "PIXELFORGE_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := Config{
		Port:           v.GetString("port"),
		Provider:       v.GetString("provider"),
		GeminiAPIKey:   v.GetString("gemini_api_key"),
		OpenAIAPIKey:   v.GetString("openai_api_key"),
		OllamaURL:      v.GetString("ollama_url"),
		TextModel:      v.GetString("text_model"),
		ImageModel:     v.GetString("image_model"),
		MaxGenerations: v.GetInt64("max_generations"),
		MaxRenders:     v.GetInt64("max_renders"),
		RenderTimeout:  v.GetDuration("render_timeout"),
		RequestTimeout: v.GetDuration("request_timeout"),
		SettleDelay:    v.GetDuration("settle_delay"),
		PerVariantCost: v.GetInt64("per_variant_cost"),
		BackgroundCost: v.GetInt64("background_cost"),
		LedgerPath:     v.GetString("ledger_path"),
		ChromePath:     v.GetString("chrome_path"),
	}

	if cfg.PerVariantCost < 1 {
		return Config{}, fmt.Errorf("per_variant_cost must be at least 1, got %d", cfg.PerVariantCost)
	}
	if cfg.MaxRenders < 1 || cfg.MaxGenerations < 1 {
		return Config{}, fmt.Errorf("concurrency ceilings must be at least 1")
	}
	switch cfg.Provider {
	case "gemini", "openai", "ollama":
	default:
		return Config{}, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return cfg, nil
}
