// Package config loads MockRTC's runtime configuration from the
// environment, the way the teacher repo reads TURN_PASS/ENVIRONMENT
// directly with os.Getenv rather than a config-file loader.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds everything cmd/mockrtcd needs to boot.
type Config struct {
	// Addr is the admin/control edge listen address, e.g. ":8088".
	Addr string
	// Environment gates CORS/origin checks the same way
	// websocket.Upgrader.CheckOrigin does in the teacher repo.
	Environment string
	// DBDriver selects the gorm dialector: "sqlite" or "postgres".
	DBDriver string
	// DBDSN is the gorm data source name.
	DBDSN string
	// RecordMessages turns message recording on for every peer the
	// server builds, including the matching peer; no admin request
	// can override it per peer.
	RecordMessages bool
	// ICEServers is a comma-separated list of STUN/TURN URLs.
	ICEServers []string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from the process environment.
func Load() Config {
	cfg := Config{
		Addr:           getenv("MOCKRTC_ADDR", ":8088"),
		Environment:    getenv("MOCKRTC_ENVIRONMENT", "development"),
		DBDriver:       getenv("MOCKRTC_DB_DRIVER", "sqlite"),
		DBDSN:          getenv("MOCKRTC_DB_DSN", "mockrtc.db"),
		RecordMessages: parseBool(getenv("MOCKRTC_RECORD_MESSAGES", "false")),
		ICEServers:     splitNonEmpty(getenv("MOCKRTC_STUN_URLS", "stun:stun.l.google.com:19302")),
	}
	return cfg
}

// IsProduction mirrors the teacher's ENVIRONMENT == "production" check
// used to tighten the websocket origin policy.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
