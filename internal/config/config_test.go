package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Generation.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %v", cfg.Generation.Timeout)
	}
	if cfg.Images.CacheTTL != 24*time.Hour {
		t.Errorf("expected 24h cache ttl, got %v", cfg.Images.CacheTTL)
	}
	if len(cfg.Translation.Languages) != 2 {
		t.Errorf("expected 2 translation languages, got %v", cfg.Translation.Languages)
	}
	if len(cfg.Indexing.Targets) != 4 {
		t.Errorf("expected 4 indexing targets, got %d", len(cfg.Indexing.Targets))
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}
	if cfg.Tables.DefaultCategory() != "Política" {
		t.Errorf("expected default category 'Política', got %q", cfg.Tables.DefaultCategory())
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
generation:
  provider: openai
  timeout: 5s
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Generation.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Generation.Timeout)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Generation.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Generation.OllamaURL)
	}
	if len(cfg.Indexing.Targets) != 0 {
		t.Errorf("expected no indexing targets, got %d", len(cfg.Indexing.Targets))
	}
	if len(cfg.Tables.StopWords) == 0 {
		t.Error("expected default stop words")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Site.Name == "" {
		t.Error("expected site name from file")
	}
}

func TestLoadTablesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	tables := []byte(`
categories: [Economía, Política]
stop_words: [foo]
`)
	if err := os.WriteFile(filepath.Join(dir, "regional.yaml"), tables, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tables_file: regional.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Tables.DefaultCategory() != "Economía" {
		t.Errorf("expected overridden default category, got %q", cfg.Tables.DefaultCategory())
	}
	if len(cfg.Tables.StopWords) != 1 {
		t.Errorf("expected 1 stop word, got %d", len(cfg.Tables.StopWords))
	}
	// Tables absent from the override keep their defaults
	if len(cfg.Tables.FallbackImages) == 0 {
		t.Error("expected default fallback images to survive the merge")
	}
}

func TestLoadTablesFileKeepsDefaultFallback(t *testing.T) {
	dir := t.TempDir()
	tables := []byte(`
fallback_images:
  Economía:
    url: /img/economia-regional.jpg
`)
	if err := os.WriteFile(filepath.Join(dir, "regional.yaml"), tables, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tables_file: regional.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Tables.FallbackImages["Economía"].URL != "/img/economia-regional.jpg" {
		t.Errorf("expected overridden entry, got %+v", cfg.Tables.FallbackImages["Economía"])
	}
	if cfg.Tables.FallbackImages["default"].URL == "" {
		t.Error("expected default fallback to survive a partial override")
	}
}

func TestLoadRejectsBlankDefaultFallback(t *testing.T) {
	dir := t.TempDir()
	tables := []byte(`
fallback_images:
  default:
    alt: sin imagen
`)
	if err := os.WriteFile(filepath.Join(dir, "regional.yaml"), tables, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tables_file: regional.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for a default fallback without url")
	}
}

func TestLoadMissingTablesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tables_file: nope.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing tables file")
	}
}

func TestTargetSecretsFromEnv(t *testing.T) {
	t.Setenv("PRESSROOM_TEST_TOKEN", " secret ")
	target := Target{TokenEnv: "PRESSROOM_TEST_TOKEN"}
	if target.Token() != "secret" {
		t.Errorf("expected trimmed token, got %q", target.Token())
	}
	if target.Key() != "" {
		t.Errorf("expected empty key, got %q", target.Key())
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestLoggingDebug(t *testing.T) {
	if !(Logging{Level: "debug"}).Debug() {
		t.Error("expected debug level")
	}
	if (Logging{Level: "INFO"}).Debug() {
		t.Error("expected info level not to be debug")
	}
}
