package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
server:
  base_url: http://10.0.0.5:11434/
generation:
  instruction: Answer briefly.
  temperature: 5
  top_p: 0.05
  top_k: 250
  model: llama3
provider: openai
providers: [ollama, openai]
providers_config:
  openai:
    api_key: dummy
storage:
  path: /tmp/chat.sqlite
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	return tmp.Name()
}

// TestLoad_File verifies that Load unmarshals and clamps the YAML settings.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.5:11434" {
		t.Fatalf("unexpected base url: %s", cfg.Server.BaseURL)
	}
	g := cfg.Generation
	if g.Temperature != 2.0 || g.TopP != 0.1 || g.TopK != 100 {
		t.Fatalf("sampling values not clamped: %+v", g)
	}
	if g.Model != "llama3" || g.Instruction != "Answer briefly." {
		t.Fatalf("unexpected generation config: %+v", g)
	}
	if cfg.Provider != TargetOpenAI || cfg.ProvidersConfig.OpenAI.APIKey != "dummy" {
		t.Fatalf("unexpected provider config: %+v", cfg)
	}
	if got := cfg.EnabledTargets(); len(got) != 2 || got[0] != TargetOllama || got[1] != TargetOpenAI {
		t.Fatalf("unexpected enabled targets: %v", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url: %s", cfg.Server.BaseURL)
	}
	g := cfg.Generation
	if g.Temperature != DefaultTemperature || g.TopP != DefaultTopP || g.TopK != DefaultTopK || g.Model != DefaultModel {
		t.Fatalf("defaults not applied: %+v", g)
	}
	if cfg.Provider != TargetOllama || !cfg.IsEnabled(TargetOllama) || cfg.IsEnabled(TargetClaude) {
		t.Fatalf("unexpected provider defaults: %+v", cfg)
	}
	if cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("OLLAMACHAT_SERVER_BASE_URL", "http://example.test:11434")
	t.Setenv("OLLAMACHAT_GENERATION_MODEL", "qwen2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.BaseURL != "http://example.test:11434" {
		t.Fatalf("env override not applied: %s", cfg.Server.BaseURL)
	}
	if cfg.Generation.Model != "qwen2.5" {
		t.Fatalf("env override not applied: %s", cfg.Generation.Model)
	}
}

func TestLoad_DisabledProvider(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "provider: claude\nproviders: [ollama]\n"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for disabled provider")
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "providers: [ollama, gemini]\n"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
