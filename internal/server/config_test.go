package server

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Auth.CookieName != "synthscan_session" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Analysis.DeadlineSec != 35 || cfg.Analysis.HeuristicWeight != 0.35 {
		t.Fatalf("analysis defaults not applied: %+v", cfg.Analysis)
	}
}

func TestLoadServerConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "listen_addr: \":9090\"\nanalysis:\n  analyze_rpm: 30\n")
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.Analysis.AnalyzeRPM != 30 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Auth.SessionTTL != "8h" {
		t.Fatalf("unset fields should keep defaults: %+v", cfg.Auth)
	}
}

func TestLoadServerConfigSniffFallsBackCleanly(t *testing.T) {
	// Duplicate keys are valid JSON but a yaml.v3 parse error, forcing the
	// extension-less loader through both attempts. The JSON pass must start
	// from pristine defaults, not from whatever the failed YAML pass left.
	path := writeConfigFile(t, "config", `{"listen_addr": ":7777", "listen_addr": ":7777"}`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Fatalf("json fallback not applied: %+v", cfg)
	}
	if cfg.Auth.CookieName != "synthscan_session" || cfg.Analysis.DeadlineSec != 35 {
		t.Fatalf("defaults lost during sniffing: %+v", cfg)
	}
}

func TestLoadServerConfigRejectsGarbage(t *testing.T) {
	path := writeConfigFile(t, "config", "\t{{{not a config")
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("unparseable config must be rejected")
	}
}
