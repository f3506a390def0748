package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "savecast.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxActiveChannels != DefaultMaxChannels {
		t.Errorf("maxActiveChannels = %d", cfg.Server.MaxActiveChannels)
	}
	if cfg.ServerInterval() != DefaultIngestInterval {
		t.Errorf("server interval = %v", cfg.ServerInterval())
	}
	if cfg.Agent.SaveExt != DefaultSaveExt {
		t.Errorf("saveExt = %q", cfg.Agent.SaveExt)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  maxActiveChannels: 25
  ingestIntervalMs: 60000
agent:
  baseUrl: "https://relay.example"
  watchDir: "/saves"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.MaxActiveChannels != 25 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.ServerInterval() != time.Minute {
		t.Errorf("interval = %v", cfg.ServerInterval())
	}
	if cfg.Agent.BaseURL != "https://relay.example" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "server:\n  adress: \":9000\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("typo field accepted")
	}
}

func TestLoad_MalformedValuesFailClosed(t *testing.T) {
	path := writeConfig(t, `
server:
  maxActiveChannels: -5
  ingestIntervalMs: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.MaxActiveChannels != DefaultMaxChannels {
		t.Errorf("negative cap not defaulted: %d", cfg.Server.MaxActiveChannels)
	}
	if cfg.ServerInterval() != DefaultIngestInterval {
		t.Errorf("zero interval not defaulted: %v", cfg.ServerInterval())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAVECAST_ADDR", ":7000")
	t.Setenv("SAVECAST_INGEST_INTERVAL_MS", "120000")
	t.Setenv("SAVECAST_MAX_ACTIVE_CHANNELS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.ServerInterval() != 2*time.Minute || cfg.AgentInterval() != 2*time.Minute {
		t.Errorf("intervals = %v / %v", cfg.ServerInterval(), cfg.AgentInterval())
	}
	// Malformed env value ignored, default kept.
	if cfg.Server.MaxActiveChannels != DefaultMaxChannels {
		t.Errorf("maxActiveChannels = %d", cfg.Server.MaxActiveChannels)
	}
}
