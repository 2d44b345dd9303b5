package scheduler

import (
	"time"
)

// Config controls when the pipeline runs and which jobs it contains.
type Config struct {
	// Spec is a cron expression; descriptors such as @daily are accepted.
	Spec       string
	Pipeline   []string
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Spec:       "@daily",
		Pipeline:   []string{"collect-repos", "append-series", "patch-extensions"},
		RunTimeout: 6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Spec == "" {
		c.Spec = defaults.Spec
	}
	if len(c.Pipeline) == 0 {
		c.Pipeline = defaults.Pipeline
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
