package config

import (
	"os"
	"path/filepath"
	"testing"

	"xdao.co/streams/keys"
	"xdao.co/streams/scenario"
)

// isolate points HOME and STREAMS_CONFIG away from the developer's files.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(EnvConfig, "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Ledger.Backend != "memory" || c.Author.Scheme != "ed25519" || !c.Author.MultiBranching {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if c.Mode() != scenario.Strict {
		t.Fatalf("default mode should be strict")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("STREAMS_AUTHOR_SEED", "ENVSEED")
	t.Setenv("STREAMS_AUTHOR_SCHEME", "dilithium3")
	t.Setenv("STREAMS_LEDGER_BACKEND", "localfs")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Author.Seed != "ENVSEED" || c.Ledger.Backend != "localfs" {
		t.Fatalf("env overrides not applied: %+v", c)
	}
	if c.Scheme() != keys.Dilithium3 {
		t.Fatalf("scheme = %s", c.Scheme())
	}
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "streams.toml")
	body := `
[author]
seed = "FILESEED"
multi_branching = false

[ledger]
backend = "sqlite"

[ledger.options]
sqlite-path = "/tmp/ledger.db"

[scenario]
mode = "permissive"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvConfig, path)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Author.Seed != "FILESEED" || c.Author.MultiBranching {
		t.Fatalf("author section not applied: %+v", c.Author)
	}
	if c.Ledger.Backend != "sqlite" || c.Ledger.Options["sqlite-path"] != "/tmp/ledger.db" {
		t.Fatalf("ledger section not applied: %+v", c.Ledger)
	}
	if c.Mode() != scenario.Permissive {
		t.Fatalf("mode = %s", c.Mode())
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvConfig, filepath.Join(dir, "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Author:   AuthorConfig{Scheme: "ed25519"},
		Ledger:   LedgerConfig{Backend: "memory"},
		Scenario: ScenarioConfig{Mode: "strict"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base: %v", err)
	}
	bad := []func(*Config){
		func(c *Config) { c.Author.Scheme = "rsa" },
		func(c *Config) { c.Ledger.Backend = "" },
		func(c *Config) { c.Scenario.Mode = "lenient" },
		func(c *Config) { c.Log.Level = "loud" },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected a validation error", i)
		}
	}
}
