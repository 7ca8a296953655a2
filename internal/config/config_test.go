package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("default provider = %q", cfg.LLM.Provider)
	}
	if cfg.Database.Path == "" {
		t.Fatal("default database path missing")
	}
}

func TestLoadFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convo.yaml")
	doc := `
logging:
  level: debug
llm:
  provider: anthropic
  model: claude-sonnet-4-5
engine:
  system_prompt: "You are terse."
rules:
  - key: base
    prompt: "Always answer in English."
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatal("api key should fall back to the provider env var")
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Key != "base" {
		t.Fatalf("rules = %+v", cfg.Rules)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convo.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: cohere\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown providers must be rejected")
	}
}

func TestEnvOverridesPath(t *testing.T) {
	t.Setenv("CONVO_DB_PATH", "/tmp/other.db")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
}
