package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(nil)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Vocabulary.Version != 1 {
		t.Errorf("expected vocabulary version 1, got %d", cfg.Vocabulary.Version)
	}
	if len(cfg.Vocabulary.HardExclude) == 0 {
		t.Error("expected hard-exclude terms to be populated")
	}
	if len(cfg.Vocabulary.PriorityTopics) == 0 {
		t.Error("expected priority topics to be populated")
	}
	if cfg.Scoring.HardExcludeScore != 2.0 {
		t.Errorf("expected hard-exclude score 2.0, got %v", cfg.Scoring.HardExcludeScore)
	}
	if cfg.Scoring.RecencyHalfLifeDays != 21 {
		t.Errorf("expected half-life 21, got %v", cfg.Scoring.RecencyHalfLifeDays)
	}
	if cfg.Blend.Alpha != 0.6 {
		t.Errorf("expected alpha 0.6, got %v", cfg.Blend.Alpha)
	}
	if cfg.Summarization.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Summarization.Provider)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
summarization:
  provider: openai
  model: gpt-4o
vocabulary:
  keywords: [ai]
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Summarization.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Summarization.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Vocabulary.Keywords) != 1 || cfg.Vocabulary.Keywords[0] != "ai" {
		t.Errorf("expected keyword list to be replaced, got %v", cfg.Vocabulary.Keywords)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Summarization.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Summarization.OllamaURL)
	}
	if len(cfg.Vocabulary.HardExclude) == 0 {
		t.Error("expected default hard-exclude terms to survive")
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
	if !cfg.Sources.CanadaBuys.Enabled {
		t.Error("expected canadabuys to be enabled from file")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Blend.TopN != 25 {
		t.Errorf("expected default top_n 25, got %d", cfg.Blend.TopN)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	env := map[string]string{
		"FILTER_KEYWORDS":        " AI , data strategy ,",
		"HARD_EXCLUDE_TERMS":     "furniture",
		"FILTER_UNSPSC":          "80101508",
		"RECENCY_HALF_LIFE_DAYS": "14",
		"BLEND_ALPHA":            "0.75",
		"AI_TOP_N":               "5",
		"CANADABUYS_SCOPE":       "ALL",
		"MERX_HTML_FIRST":        "false",
		"BIDRADAR_DATA_DIR":      "/tmp/bidradar",
	}
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if strings.Join(cfg.Vocabulary.Keywords, "|") != "AI|data strategy" {
		t.Errorf("unexpected keywords %v", cfg.Vocabulary.Keywords)
	}
	if len(cfg.Vocabulary.HardExclude) != 1 {
		t.Errorf("expected hard-exclude override, got %v", cfg.Vocabulary.HardExclude)
	}
	if len(cfg.Vocabulary.CategoryCodes) != 1 || cfg.Vocabulary.CategoryCodes[0] != "80101508" {
		t.Errorf("unexpected category codes %v", cfg.Vocabulary.CategoryCodes)
	}
	if cfg.Scoring.RecencyHalfLifeDays != 14 {
		t.Errorf("expected half-life 14, got %v", cfg.Scoring.RecencyHalfLifeDays)
	}
	if cfg.Blend.Alpha != 0.75 || cfg.Blend.TopN != 5 {
		t.Errorf("unexpected blend %+v", cfg.Blend)
	}
	if cfg.Sources.CanadaBuys.Scope != "all" {
		t.Errorf("expected scope 'all', got %q", cfg.Sources.CanadaBuys.Scope)
	}
	if cfg.Sources.MERX.HTMLFirst {
		t.Error("expected html_first disabled")
	}
	if cfg.GetDataDir() != "/tmp/bidradar" {
		t.Errorf("unexpected data dir %q", cfg.GetDataDir())
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg, _ := parse(nil)
	err := cfg.applyEnv(func(k string) string {
		if k == "BLEND_ALPHA" {
			return "high"
		}
		return ""
	})
	if err == nil {
		t.Fatal("expected error for non-numeric BLEND_ALPHA")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty hard exclude":   func(c *Config) { c.Vocabulary.HardExclude = nil },
		"empty priority":       func(c *Config) { c.Vocabulary.PriorityTopics = []string{} },
		"alpha above one":      func(c *Config) { c.Blend.Alpha = 1.5 },
		"negative top n":       func(c *Config) { c.Blend.TopN = -1 },
		"zero half life":       func(c *Config) { c.Scoring.RecencyHalfLifeDays = 0 },
		"unknown provider":     func(c *Config) { c.Summarization.Provider = "claude" },
		"bad canadabuys scope": func(c *Config) { c.Sources.CanadaBuys.Scope = "recent" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := parse(nil)
			if err != nil {
				t.Fatal(err)
			}
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
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
	if cfg.DBPath() != filepath.Join("/custom/path", "bidradar.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}
