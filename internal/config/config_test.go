package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SENTINEL_BASE_DIR", "SENTINEL_PORT", "SENTINEL_ADMIN_USERS",
		"SENTINEL_CONTROL_SOCKET", "SENTINEL_REPOSITORY_ROOT",
		"SENTINEL_MAX_CONNECT_INTERVAL", "SENTINEL_MAX_PRETENSES_INTERVAL",
		"SENTINEL_DRY_RUN", "SENTINEL_LOG_JSON",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/var/lib/sentineld" {
		t.Errorf("BaseDir = %q, want /var/lib/sentineld", cfg.BaseDir)
	}
	if cfg.Port != 443 {
		t.Errorf("Port = %d, want 443", cfg.Port)
	}
	if cfg.ControlSocketPath != cfg.BaseDir+"/control" {
		t.Errorf("ControlSocketPath = %q, want derived from BaseDir", cfg.ControlSocketPath)
	}
	if cfg.MaxConnectInterval() != 60*time.Second {
		t.Errorf("MaxConnectInterval = %s, want 60s", cfg.MaxConnectInterval())
	}
	if cfg.MaxPretensesInterval() != 5*time.Minute {
		t.Errorf("MaxPretensesInterval = %s, want 5m", cfg.MaxPretensesInterval())
	}
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "sentineld.toml")
	if err := os.WriteFile(tomlPath, []byte(`
base_dir = "/file/base"
port = 8443
max_connect_interval = "10s"
`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SENTINEL_PORT", "9443")

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/file/base" {
		t.Errorf("BaseDir = %q, want /file/base (from file)", cfg.BaseDir)
	}
	if cfg.Port != 9443 {
		t.Errorf("Port = %d, want 9443 (env overrides file)", cfg.Port)
	}
	if cfg.MaxConnectInterval() != 10*time.Second {
		t.Errorf("MaxConnectInterval = %s, want 10s (from file)", cfg.MaxConnectInterval())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(_ *Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"mismatched tls", func(c *Config) { c.TLSCert = "cert.pem" }, true},
		{"zero connect interval", func(c *Config) { c.SetMaxConnectInterval(0) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsAdminUserAfterSetAdminUsers(t *testing.T) {
	cfg := NewTestConfig()
	cfg.SetAdminUsers([]string{"1000", "1001"})

	if !cfg.IsAdminUser("1000") {
		t.Error("expected uid 1000 to be an admin")
	}
	if cfg.IsAdminUser("2000") {
		t.Error("did not expect uid 2000 to be an admin")
	}
}

func TestReloadPicksUpHotReloadableFields(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "sentineld.toml")
	write := func(body string) {
		if err := os.WriteFile(tomlPath, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(`admin_users = ["1000"]` + "\n" + `dry_run = false` + "\n")

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DryRun() {
		t.Fatal("expected dry_run=false initially")
	}

	write(`admin_users = ["1000"]` + "\n" + `dry_run = true` + "\n")
	if err := cfg.Reload(tomlPath); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !cfg.DryRun() {
		t.Error("expected dry_run=true after reload")
	}
}

func TestEnvDuration(t *testing.T) {
	const key = "DS_TEST_ENV_DUR"

	t.Setenv(key, "5m")
	if got := envDuration(key, time.Hour); got != 5*time.Minute {
		t.Errorf("got %s, want 5m", got)
	}

	t.Setenv(key, "notaduration")
	if got := envDuration(key, time.Hour); got != time.Hour {
		t.Errorf("got %s, want 1h (default on parse failure)", got)
	}
}
