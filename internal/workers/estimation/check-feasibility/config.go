// internal/workers/estimation/check-feasibility/config.go
package checkfeasibility

import "time"

type Config struct {
	// Timeout bounds one job, including every rate-limit backoff.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 120 * time.Second,
	}
}
