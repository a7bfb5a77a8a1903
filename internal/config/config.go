// Package config loads service configuration from config.yaml with
// environment-variable overrides.
package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider string `yaml:"llm_provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	JSONTemperature float64 `yaml:"json_temperature"`
	TextTemperature float64 `yaml:"text_temperature"`
	RequestTimeout  int     `yaml:"request_timeout_seconds"`

	ListenAddr string `yaml:"listen_addr"`

	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"history_retention_days"`

	TablesPath string `yaml:"agronomy_tables_path"`
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.OllamaEndpoint, "OLLAMA_ENDPOINT")
	envOverride(&cfg.OllamaModel, "OLLAMA_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	envOverrideFloat(&cfg.JSONTemperature, "JSON_TEMPERATURE")
	envOverrideFloat(&cfg.TextTemperature, "TEXT_TEMPERATURE")
	envOverrideInt(&cfg.RequestTimeout, "REQUEST_TIMEOUT_SECONDS")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.RetentionDays, "HISTORY_RETENTION_DAYS")
	envOverride(&cfg.TablesPath, "AGRONOMY_TABLES_PATH")

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "ollama"
	}
	if cfg.OllamaEndpoint == "" {
		cfg.OllamaEndpoint = "http://localhost:11434"
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llama3.2"
	}
	if cfg.JSONTemperature == 0 {
		cfg.JSONTemperature = 0.1
	}
	if cfg.TextTemperature == 0 {
		cfg.TextTemperature = 0.3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./farmchain.db"
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 180
	}

	switch cfg.LLMProvider {
	case "ollama":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		log.Fatalf("llm_provider must be 'ollama' or 'anthropic', got '%s'", cfg.LLMProvider)
	}

	if cfg.JSONTemperature < 0 || cfg.JSONTemperature > 1 {
		log.Fatalf("invalid json_temperature '%f': must be between 0 and 1", cfg.JSONTemperature)
	}
	if cfg.TextTemperature < 0 || cfg.TextTemperature > 1 {
		log.Fatalf("invalid text_temperature '%f': must be between 0 and 1", cfg.TextTemperature)
	}
	if cfg.RequestTimeout < 1 {
		log.Fatalf("invalid request_timeout_seconds '%d': must be >= 1", cfg.RequestTimeout)
	}
	if cfg.RetentionDays < 1 {
		log.Fatalf("invalid history_retention_days '%d': must be >= 1", cfg.RetentionDays)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
