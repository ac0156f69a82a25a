// Package llmconfig reads the LLM collaborator's configuration and
// produces a client. This package only specifies the contract the
// engine calls through; the provider itself is an external service.
package llmconfig

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the three Gemini settings the engine needs:
// gemini.api.key, gemini.model.name, gemini.model.temperature.
type Config struct {
	APIKey      string
	ModelName   string
	Temperature float64
}

const defaultModelName = "gemini-1.5-flash"
const defaultTemperature = 0.7

// FromEnv reads GEMINI_API_KEY, GEMINI_MODEL_NAME, and
// GEMINI_MODEL_TEMPERATURE, applying defaults for the latter two.
// APIKey is required.
func FromEnv() (Config, error) {
	cfg := Config{
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		ModelName:   os.Getenv("GEMINI_MODEL_NAME"),
		Temperature: defaultTemperature,
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModelName
	}
	if raw := os.Getenv("GEMINI_MODEL_TEMPERATURE"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("GEMINI_MODEL_TEMPERATURE: %w", err)
		}
		cfg.Temperature = t
	}
	return cfg, nil
}
