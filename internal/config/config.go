package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// APIKeyEnv is consulted when the configured API key is blank.
const APIKeyEnv = "OPENAI_API_KEY"

// ModelConfig holds the remote inference configuration. It is loaded once at
// session construction and immutable for the process lifetime.
type ModelConfig struct {
	// ModelType selects the backend chain: "api" (primary backend with
	// OpenAI-compatible fallback) or "local" (Ollama server).
	ModelType string `json:"model_type"`
	// PrimaryAPIURL is the base URL of the primary inference backend.
	PrimaryAPIURL string `json:"primary_api_url"`
	// FallbackAPIURL is the OpenAI-compatible chat-completions endpoint.
	FallbackAPIURL string `json:"api_url"`
	// HealthURL is probed at startup. When blank it is derived from
	// FallbackAPIURL by replacing the last path segment with "models".
	HealthURL string `json:"health_url"`
	// LocalURL is the Ollama server address for the "local" model type.
	LocalURL    string  `json:"local_url"`
	ModelName   string  `json:"model_name"`
	APIKey      string  `json:"api_key"`
	Timeout     int     `json:"timeout"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// Default returns the built-in configuration.
func Default() ModelConfig {
	return ModelConfig{
		ModelType:      "api",
		PrimaryAPIURL:  "https://farmxpert.vip.cpolar.cn",
		FallbackAPIURL: "https://xiaoai.plus/v1/chat/completions",
		HealthURL:      "https://xiaoai.plus/v1/models",
		LocalURL:       "http://localhost:11434",
		ModelName:      "gpt-4o",
		Timeout:        60,
		MaxTokens:      2048,
		Temperature:    0.7,
	}
}

// Load reads a JSON config file and merges it over the defaults. A missing
// file is not an error: the defaults apply as-is. A blank API key falls back
// to the OPENAI_API_KEY environment variable.
func Load(path string) (ModelConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return ModelConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return ModelConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnv)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as indented JSON, creating the parent
// directory if needed.
func (c ModelConfig) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values no backend can work with.
func (c ModelConfig) Validate() error {
	if c.ModelType != "api" && c.ModelType != "local" {
		return fmt.Errorf("model_type must be \"api\" or \"local\", got %q", c.ModelType)
	}
	if c.ModelType == "api" && c.FallbackAPIURL == "" {
		return fmt.Errorf("api_url cannot be empty for model_type \"api\"")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model_name cannot be empty")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be positive, got %d", c.Timeout)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", c.Temperature)
	}
	return nil
}

// ResolveHealthURL returns the configured health URL, or one derived from
// the fallback endpoint when none is set.
func (c ModelConfig) ResolveHealthURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	if i := strings.LastIndex(c.FallbackAPIURL, "/"); i > 0 {
		return c.FallbackAPIURL[:i] + "/models"
	}
	return c.FallbackAPIURL + "/models"
}

// RequestTimeout is the configured per-request timeout as a duration.
func (c ModelConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
