package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Point CONFIG_PATH at an empty dir so no config.yaml is picked up.
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, key := range []string{"LLM_PROVIDER", "OLLAMA_ENDPOINT", "OLLAMA_MODEL", "JSON_TEMPERATURE", "TEXT_TEMPERATURE", "REQUEST_TIMEOUT_SECONDS", "LISTEN_ADDR", "DB_PATH", "HISTORY_RETENTION_DAYS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := LoadConfig()
	if cfg.LLMProvider != "ollama" {
		t.Errorf("provider = %q, want ollama", cfg.LLMProvider)
	}
	if cfg.OllamaEndpoint != "http://localhost:11434" {
		t.Errorf("endpoint = %q", cfg.OllamaEndpoint)
	}
	if cfg.OllamaModel != "llama3.2" {
		t.Errorf("model = %q", cfg.OllamaModel)
	}
	if cfg.JSONTemperature != 0.1 || cfg.TextTemperature != 0.3 {
		t.Errorf("temperatures = %v/%v", cfg.JSONTemperature, cfg.TextTemperature)
	}
	if cfg.RequestTimeout != 60 {
		t.Errorf("timeout = %d", cfg.RequestTimeout)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RetentionDays != 180 {
		t.Errorf("retention = %d", cfg.RetentionDays)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yaml := "ollama_model: mistral\nlisten_addr: \":9090\"\nrequest_timeout_seconds: 30\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("CONFIG_PATH", configPath)
	t.Setenv("OLLAMA_MODEL", "llama3.1")
	t.Setenv("JSON_TEMPERATURE", "0.2")

	cfg := LoadConfig()
	if cfg.OllamaModel != "llama3.1" {
		t.Errorf("env should override yaml, model = %q", cfg.OllamaModel)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("yaml listen addr lost: %q", cfg.ListenAddr)
	}
	if cfg.RequestTimeout != 30 {
		t.Errorf("yaml timeout lost: %d", cfg.RequestTimeout)
	}
	if cfg.JSONTemperature != 0.2 {
		t.Errorf("env temperature lost: %v", cfg.JSONTemperature)
	}
}
