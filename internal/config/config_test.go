package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Postgres.DSN() != "postgres://postgres:@127.0.0.1:5432/botix?sslmode=disable" {
		t.Fatalf("dsn: %q", cfg.Postgres.DSN())
	}
	if cfg.Sandbox.Timeout() != 3*time.Second {
		t.Fatalf("sandbox timeout: %v", cfg.Sandbox.Timeout())
	}
	if cfg.WhatsApp.APIVersion != DefaultGraphVersion {
		t.Fatalf("api version: %q", cfg.WhatsApp.APIVersion)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
addr = ":9090"

[postgres]
host = "db.internal"
password = "p"

[sandbox]
timeout_seconds = 10

[router]
workers = 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Fatalf("host: %q", cfg.Postgres.Host)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Postgres.Database != DefaultPGDatabase {
		t.Fatalf("database: %q", cfg.Postgres.Database)
	}
	if cfg.Sandbox.Timeout() != 10*time.Second {
		t.Fatalf("sandbox timeout: %v", cfg.Sandbox.Timeout())
	}
	if cfg.Router.Workers != 2 {
		t.Fatalf("router workers: %d", cfg.Router.Workers)
	}
}
