// Package config loads and validates savecast configuration. Values arrive
// from a YAML file plus SAVECAST_* environment overrides; anything malformed
// or out of range falls back to its default instead of propagating.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. Interval and capacity match the hosted deployment.
const (
	DefaultAddr           = ":8787"
	DefaultMaxChannels    = 100
	DefaultIngestInterval = 5 * time.Minute
	DefaultSaveExt        = ".v3"
	DefaultRateRPM        = 30
	DefaultRateBurst      = 5
	DefaultRequestTimeout = 30 * time.Second
)

// Server configures the relay.
type Server struct {
	Addr         string `yaml:"addr"`
	RedisURL     string `yaml:"redisUrl"`     // empty: in-memory store
	SharedSecret string `yaml:"sharedSecret"` // base64, required
	ClientID     string `yaml:"clientId"`
	OwnerUserID  string `yaml:"ownerUserId"`
	PubSubURL    string `yaml:"pubsubUrl"` // empty: local hub only

	MaxActiveChannels int   `yaml:"maxActiveChannels"`
	IngestIntervalMs  int64 `yaml:"ingestIntervalMs"`
	RateRPM           int   `yaml:"rateRpm"`
	RateBurst         int   `yaml:"rateBurst"`
}

// Agent configures the desktop-side watch/pace/ingest loop.
type Agent struct {
	BaseURL          string `yaml:"baseUrl"`
	WatchDir         string `yaml:"watchDir"`
	SaveExt          string `yaml:"saveExt"`
	IngestIntervalMs int64  `yaml:"ingestIntervalMs"`
	CredentialPath   string `yaml:"credentialPath"`
	StatusLogPath    string `yaml:"statusLogPath"` // empty: stderr only
}

// Config is the root document.
type Config struct {
	Server Server `yaml:"server"`
	Agent  Agent  `yaml:"agent"`
}

// Load reads path (optional; "" skips the file), applies env overrides, then
// normalizes. Unknown fields in the YAML are rejected so typos surface
// instead of silently configuring nothing.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
			slog.Warn("config file missing, using defaults", "path", path)
		} else {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.Server.Addr, "SAVECAST_ADDR")
	setStr(&c.Server.RedisURL, "SAVECAST_REDIS_URL")
	setStr(&c.Server.SharedSecret, "SAVECAST_SHARED_SECRET")
	setStr(&c.Server.ClientID, "SAVECAST_CLIENT_ID")
	setStr(&c.Server.OwnerUserID, "SAVECAST_OWNER_USER_ID")
	setStr(&c.Server.PubSubURL, "SAVECAST_PUBSUB_URL")
	setStr(&c.Agent.BaseURL, "SAVECAST_BASE_URL")
	setStr(&c.Agent.WatchDir, "SAVECAST_WATCH_DIR")

	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				slog.Warn("ignoring malformed env value", "key", key, "value", v)
				return
			}
			*dst = n
		}
	}
	setInt(&c.Server.MaxActiveChannels, "SAVECAST_MAX_ACTIVE_CHANNELS")

	if v := os.Getenv("SAVECAST_INGEST_INTERVAL_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed env value", "key", "SAVECAST_INGEST_INTERVAL_MS", "value", v)
		} else {
			c.Server.IngestIntervalMs = n
			c.Agent.IngestIntervalMs = n
		}
	}
}

// normalize fills defaults and clamps out-of-range values. Fails closed:
// nonsense becomes the default, never zero or negative pacing.
func (c *Config) normalize() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxActiveChannels <= 0 {
		c.Server.MaxActiveChannels = DefaultMaxChannels
	}
	if c.Server.IngestIntervalMs <= 0 {
		c.Server.IngestIntervalMs = DefaultIngestInterval.Milliseconds()
	}
	if c.Server.RateRPM <= 0 {
		c.Server.RateRPM = DefaultRateRPM
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = DefaultRateBurst
	}
	if c.Agent.SaveExt == "" {
		c.Agent.SaveExt = DefaultSaveExt
	}
	if c.Agent.IngestIntervalMs <= 0 {
		c.Agent.IngestIntervalMs = DefaultIngestInterval.Milliseconds()
	}
	if c.Agent.CredentialPath == "" {
		c.Agent.CredentialPath = defaultCredentialPath()
	}
}

// ServerInterval returns the server-side minimum acceptance spacing.
func (c *Config) ServerInterval() time.Duration {
	return time.Duration(c.Server.IngestIntervalMs) * time.Millisecond
}

// AgentInterval returns the client-side pacing interval.
func (c *Config) AgentInterval() time.Duration {
	return time.Duration(c.Agent.IngestIntervalMs) * time.Millisecond
}

func defaultCredentialPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "savecast-credential.bin"
	}
	return filepath.Join(home, ".savecast", "credential.bin")
}
