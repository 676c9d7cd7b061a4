package main

import (
	"fmt"
	"time"

	"github.com/maxpert/pubkit/cfg"
)

type Config struct {
	// Store
	Backend string
	DataDir string
	Sync    bool

	// Workload
	Kits        int
	Publishes   int
	Subscribers int
	PayloadSize int
	Duration    time.Duration

	// Finish kits with Fail instead of Finish
	FailAtEnd bool
}

func (c *Config) Validate() error {
	switch cfg.StoreBackend(c.Backend) {
	case cfg.StorePebble, cfg.StoreSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("data-dir is required for %s", c.Backend)
		}
	case cfg.StoreMemory:
	default:
		return fmt.Errorf("invalid backend: %q", c.Backend)
	}

	if c.Kits < 1 {
		return fmt.Errorf("kits must be at least 1")
	}

	if c.Publishes < 1 && c.Duration <= 0 {
		return fmt.Errorf("publishes must be at least 1 unless a duration is set")
	}

	if c.Subscribers < 0 {
		return fmt.Errorf("subscribers must be non-negative")
	}

	if c.PayloadSize < 0 {
		return fmt.Errorf("payload size must be non-negative")
	}

	return nil
}

// StoreConfiguration maps the benchmark options onto a store configuration
func (c *Config) StoreConfiguration() cfg.StoreConfiguration {
	conf := cfg.Default().Store
	conf.Backend = cfg.StoreBackend(c.Backend)
	conf.Sync = c.Sync
	return conf
}
