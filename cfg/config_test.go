package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for default config, got: %v", err)
	}
}

func TestValidate_InvalidStoreBackend(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Store.Backend = "badger"

	if err := Validate(); err == nil {
		t.Error("Expected error for unknown store backend")
	}
}

func TestValidate_MemoryStoreWithoutDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.DataDir = ""
	Config.Store.Backend = StoreMemory

	if err := Validate(); err != nil {
		t.Errorf("Memory store should not need a data dir, got: %v", err)
	}

	Config.Store.Backend = StorePebble
	if err := Validate(); err == nil {
		t.Error("Expected error for pebble store without data dir")
	}
}

func TestValidate_InvalidAdminPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = Default()
		Config.Admin.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid admin port %d", port)
		}
	}

	// Port is irrelevant once admin is disabled
	Config = Default()
	Config.Admin.Enabled = false
	Config.Admin.Port = 0
	if err := Validate(); err != nil {
		t.Errorf("Expected no error with admin disabled, got: %v", err)
	}
}

func TestValidate_KitNames(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Kit.Kind = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for empty kit kind")
	}

	Config = Default()
	Config.Kit.SingletonKey = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for empty singleton key")
	}
}

func TestValidate_InvalidLoggingFormat(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Logging.Format = "xml"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid logging format")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.DataDir = filepath.Join(t.TempDir(), "data")

	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	if Config.NodeID == 0 {
		t.Error("Expected node ID to be auto-generated")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "pubkit.toml")
	contents := `
node_id = 7
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[store]
backend = "sqlite"
compress_threshold = 128

[kit]
kind = "Feed"
singleton_key = "feedSingleton"

[vat]
version = "v2"

[vat.parameters]
region = "eu"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	Config = Default()
	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.NodeID != 7 {
		t.Errorf("Expected node ID 7, got %d", Config.NodeID)
	}
	if Config.Store.Backend != StoreSQLite {
		t.Errorf("Expected sqlite backend, got %s", Config.Store.Backend)
	}
	if Config.Store.CompressThreshold != 128 {
		t.Errorf("Expected compress threshold 128, got %d", Config.Store.CompressThreshold)
	}
	// Unset keys keep their defaults
	if !Config.Store.Sync {
		t.Error("Expected sync default to survive decoding")
	}
	if Config.Kit.Kind != "Feed" || Config.Kit.SingletonKey != "feedSingleton" {
		t.Errorf("Unexpected kit config: %+v", Config.Kit)
	}
	if Config.Vat.Version != "v2" || Config.Vat.Parameters["region"] != "eu" {
		t.Errorf("Unexpected vat config: %+v", Config.Vat)
	}
}

func TestLoad_CreateDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	Config = Default()
	Config.DataDir = tempDir

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestGenerateNodeID(t *testing.T) {
	id1 := generateNodeID()
	if id1 == 0 {
		t.Error("Generated node ID should not be 0")
	}

	// Deterministic for the same machine
	if id2 := generateNodeID(); id1 != id2 {
		t.Error("Node ID should be deterministic for same machine")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "override")

	*DataDirFlag = tempDir
	*NodeIDFlag = 12345
	*StoreFlag = "memory"
	*AdminPortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*NodeIDFlag = 0
		*StoreFlag = ""
		*AdminPortFlag = 0
	}()

	Config = Default()

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.NodeID != 12345 {
		t.Errorf("Expected node ID 12345, got %d", Config.NodeID)
	}
	if Config.Store.Backend != StoreMemory {
		t.Errorf("Expected memory backend, got %s", Config.Store.Backend)
	}
	if Config.Admin.Port != 9999 {
		t.Errorf("Expected admin port 9999, got %d", Config.Admin.Port)
	}
}

func TestIsAdminAuthEnabled(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	if IsAdminAuthEnabled() {
		t.Error("Auth should be disabled without a secret")
	}

	Config.Admin.Secret = "s3cret"
	if !IsAdminAuthEnabled() {
		t.Error("Auth should be enabled with a secret")
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
