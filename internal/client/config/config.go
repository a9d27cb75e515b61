// Package config holds runtime settings for the client, layered as
// defaults -> JSON file -> command-line flags, later sources winning.
package config

import "time"

// Config holds runtime settings for the docstore client.
type Config struct {
	// ServerEndpointAddr is the base URL of the remote document endpoint.
	ServerEndpointAddr string

	// ReplicaDSN is the SQLite DSN of the local replica database.
	ReplicaDSN string

	// CacheFreshFor is how long a cached query result is served without a
	// background refresh.
	CacheFreshFor time.Duration

	// CacheMaxAge is how long an untouched cache entry survives GC.
	CacheMaxAge time.Duration

	// PollInterval is the change-poll period for remote-only collections.
	PollInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.ReplicaDSN = "file:docstore.db"
	c.CacheFreshFor = 3 * time.Second
	c.CacheMaxAge = 10 * time.Minute
	c.PollInterval = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
