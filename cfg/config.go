package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StoreBackend selects the baggage implementation backing durable kit state
type StoreBackend string

const (
	StorePebble StoreBackend = "pebble" // Pebble LSM under data_dir
	StoreSQLite StoreBackend = "sqlite" // Single SQLite file under data_dir
	StoreMemory StoreBackend = "memory" // Process memory, nothing survives restart
)

// StoreConfiguration controls the durable store adapter
type StoreConfiguration struct {
	Backend           StoreBackend `toml:"backend"`
	Sync              bool         `toml:"sync"`               // fsync every commit
	CompressThreshold int          `toml:"compress_threshold"` // Bytes; records above are zstd compressed, 0 disables
	CounterCacheSize  int          `toml:"counter_cache_size"` // Cached durable counters
}

// KitConfiguration names the durable kind and the singleton key the root object provides
type KitConfiguration struct {
	Kind         string `toml:"kind"`
	SingletonKey string `toml:"singleton_key"`
}

// VatConfiguration is handed to the root object as-is
type VatConfiguration struct {
	Version    string            `toml:"version"`
	Parameters map[string]string `toml:"parameters"`
}

// AdminConfiguration for the HTTP admin and metrics endpoint
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Store      StoreConfiguration      `toml:"store"`
	Kit        KitConfiguration        `toml:"kit"`
	Vat        VatConfiguration        `toml:"vat"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "pubkit.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	StoreFlag      = flag.String("store", "", "Store backend: pebble, sqlite or memory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Config holds the defaults until Load overlays the file and flags
var Config = Default()

// Default returns a fresh configuration with every default filled in
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./pubkit-data",

		Store: StoreConfiguration{
			Backend:           StorePebble,
			Sync:              true,
			CompressThreshold: 4096,
			CounterCacheSize:  1000,
		},

		Kit: KitConfiguration{
			Kind:         "DurablePublishKit",
			SingletonKey: "publishKitSingleton",
		},

		Vat: VatConfiguration{
			Version:    "v1",
			Parameters: map[string]string{},
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        9470,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *StoreFlag != "" {
		Config.Store.Backend = StoreBackend(*StoreFlag)
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		Config.NodeID = generateNodeID()
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID derives a stable node ID from the machine ID, falling back
// to the hostname on hosts without one (containers, CI)
func generateNodeID() uint64 {
	id, err := machineid.ProtectedID("pubkit")
	if err != nil {
		log.Debug().Err(err).Msg("Machine ID unavailable, hashing hostname")
		id, err = os.Hostname()
		if err != nil || id == "" {
			id = "localhost"
		}
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	if sum := h.Sum64(); sum != 0 {
		return sum
	}
	return 1
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" && Config.Store.Backend != StoreMemory {
		return fmt.Errorf("data_dir is required for %s store", Config.Store.Backend)
	}

	switch Config.Store.Backend {
	case StorePebble, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("invalid store backend: %q", Config.Store.Backend)
	}

	if Config.Store.CompressThreshold < 0 {
		return fmt.Errorf("store compress threshold must be >= 0")
	}

	if Config.Store.CounterCacheSize < 1 {
		return fmt.Errorf("store counter cache size must be >= 1")
	}

	if Config.Kit.Kind == "" {
		return fmt.Errorf("kit kind must not be empty")
	}

	if Config.Kit.SingletonKey == "" {
		return fmt.Errorf("kit singleton key must not be empty")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}

// IsAdminAuthEnabled reports whether admin endpoints require the shared secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
