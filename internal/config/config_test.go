package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := writeConfigFile(t, `
http_addr: ":9090"
master_key: "ZmlsZS1tYXN0ZXIta2V5LTAxMjM0NTY3ODk="
lease_duration: "90s"
provider_allowlist:
  - alpha
  - beta
model_catalog:
  - provider: alpha
    model: alpha-large
    capabilities: [text]
    priority: 10
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv("RELAY_DB_DRIVER", "postgres")
	t.Setenv("RELAY_DB_DSN", "host=localhost dbname=relay")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("file value not applied: %s", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("env override not applied: %s", cfg.DBDriver)
	}
	if cfg.LeaseDuration != 90*time.Second {
		t.Fatalf("duration not parsed: %s", cfg.LeaseDuration)
	}
	if len(cfg.Catalog) != 1 || cfg.Catalog[0].Model != "alpha-large" {
		t.Fatalf("catalog not loaded: %+v", cfg.Catalog)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := defaults()
		cfg.MasterKey = "c2VjcmV0LW1hc3Rlci1rZXktMDEyMw=="
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	cfg := base()
	cfg.MasterKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing master_key to fail")
	}

	cfg = base()
	cfg.HeartbeatInterval = cfg.LeaseDuration
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected heartbeat >= lease to fail")
	}

	cfg = base()
	cfg.CooldownCap = cfg.CooldownBase / 2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected cap below base to fail")
	}

	cfg = base()
	cfg.DBDriver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}

	cfg = base()
	cfg.ProviderAllowlist = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty allowlist to fail")
	}

	cfg = base()
	cfg.Catalog = []CatalogEntry{{Provider: "alpha"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected catalog entry without model to fail")
	}
}
