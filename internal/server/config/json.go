package config

import (
	"encoding/json"
	"os"

	"github.com/offlinekit/docstore/internal/flagx"
	"github.com/offlinekit/docstore/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations may
// be given as strings like "24h" or as integer nanoseconds.
type JsonConfig struct {
	EndpointAddr          string          `json:"endpoint_addr"`
	DatabaseDSN           string          `json:"database_dsn"`
	SecretKey             string          `json:"secret_key"`
	TokenValidityDuration *timex.Duration `json:"token_validity_duration"`
	AdminName             string          `json:"admin_name"`
	AdminPassword         string          `json:"admin_password"`
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

	if jc.EndpointAddr != "" {
		cfg.EndpointAddr = jc.EndpointAddr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if jc.TokenValidityDuration != nil {
		cfg.TokenValidityDuration = jc.TokenValidityDuration.Duration
	}
	if jc.AdminName != "" {
		cfg.AdminName = jc.AdminName
	}
	if jc.AdminPassword != "" {
		cfg.AdminPassword = jc.AdminPassword
	}
}
