// internal/workers/estimation/generate-estimate/config.go
package generateestimate

import "time"

type Config struct {
	Timeout time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration
	CachePrefix  string

	// Persist stores every fresh estimate in construction_estimates.
	Persist bool

	// Model is recorded alongside persisted estimates.
	Model string
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      180 * time.Second,
		CacheEnabled: true,
		CacheTTL:     24 * time.Hour,
		CachePrefix:  "estimate:",
	}
}
