package config

import (
	"encoding/json"
	"os"

	"github.com/offlinekit/docstore/internal/flagx"
	"github.com/offlinekit/docstore/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations may
// be given as strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string          `json:"server_endpoint_addr"`
	ReplicaDSN         string          `json:"replica_dsn"`
	CacheFreshFor      *timex.Duration `json:"cache_fresh_for"`
	CacheMaxAge        *timex.Duration `json:"cache_max_age"`
	PollInterval       *timex.Duration `json:"poll_interval"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// the -c/-config flags. Missing file path means no JSON is loaded.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.ReplicaDSN != "" {
		cfg.ReplicaDSN = jc.ReplicaDSN
	}
	if jc.CacheFreshFor != nil {
		cfg.CacheFreshFor = jc.CacheFreshFor.Duration
	}
	if jc.CacheMaxAge != nil {
		cfg.CacheMaxAge = jc.CacheMaxAge.Duration
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = jc.PollInterval.Duration
	}
}
