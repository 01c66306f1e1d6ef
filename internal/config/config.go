package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"photokeep/internal/logging"
)

// Names of the infrastructure entries that live inside the library
// root. The folder janitor must never remove these, and library walks
// skip them.
const (
	TrashDirName = ".trash"
	DataDirName  = ".photokeep"
)

// Subdirectories of the data dir.
const (
	BackupsDirName = "backups"
	LogsDirName    = "logs"
	TempDirName    = "tmp"
)

// IndexFileName is the index store file inside the data dir.
const IndexFileName = "index.db"

// Config holds all application configuration.
type Config struct {
	LibraryDir string `toml:"library_dir"`
	DataDir    string `toml:"data_dir"`

	Port           string `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`

	// Workers is the size of the file I/O worker pool used inside one
	// logical operation. 0 means auto-size from the CPU count.
	Workers int `toml:"workers"`

	// NetworkStorage forces file operations to run sequentially. Set
	// this when the library lives on NFS or similar network-attached
	// storage, where parallel reads degrade throughput.
	NetworkStorage bool `toml:"network_storage"`

	ToolTimeout  duration `toml:"tool_timeout"`
	PollInterval duration `toml:"poll_interval"`
	SyncInterval duration `toml:"sync_interval"`
}

// duration wraps time.Duration with TOML text (un)marshalling.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration defaults for a given library root.
// With an empty root the data directory stays unset; Load derives it
// once the root is known.
func Default(libraryDir string) *Config {
	dataDir := ""
	if libraryDir != "" {
		dataDir = filepath.Join(libraryDir, DataDirName)
	}
	return &Config{
		LibraryDir:     libraryDir,
		DataDir:        dataDir,
		Port:           "8080",
		MetricsEnabled: true,
		Workers:        0,
		NetworkStorage: false,
		ToolTimeout:    duration{30 * time.Second},
		PollInterval:   duration{30 * time.Second},
		SyncInterval:   duration{30 * time.Minute},
	}
}

// IndexPath returns the full path of the index store file.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, IndexFileName)
}

// TrashDir returns the full path of the soft-delete trash directory.
func (c *Config) TrashDir() string {
	return filepath.Join(c.LibraryDir, TrashDirName)
}

// BackupsDir returns the full path of the index backup directory.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.DataDir, BackupsDirName)
}

// LogsDir returns the full path of the manifest log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, LogsDirName)
}

// TempDir returns the full path of the scratch directory.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDir, TempDirName)
}

// ToolTimeoutDuration returns the external tool timeout.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return c.ToolTimeout.Duration
}

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	cfg := Default("")
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load builds the effective configuration. It reads the optional TOML
// file at path (skipped when path is empty or the file is absent),
// then applies environment variable overrides, then resolves and
// validates the directory layout.
func Load(path string) (*Config, error) {
	// A .env next to the binary is a development convenience only.
	_ = godotenv.Load()

	cfg := Default(getEnv("LIBRARY_DIR", "/library"))

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			cfg, err = Read(f)
			if err != nil {
				return nil, fmt.Errorf("reading config from %s: %w", path, err)
			}
			logging.Info("Loaded configuration from %s", path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.LibraryDir == "" {
		return nil, fmt.Errorf("library directory not configured (set library_dir or LIBRARY_DIR)")
	}

	var err error
	cfg.LibraryDir, err = filepath.Abs(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.LibraryDir, DataDirName)
	}
	cfg.DataDir, err = filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	logging.Info("  Library directory: %s", cfg.LibraryDir)
	logging.Info("  Data directory:    %s", cfg.DataDir)
	logging.Info("  Network storage:   %v", cfg.NetworkStorage)
	logging.Info("  Workers:           %d (0 = auto)", cfg.Workers)
	logging.Info("  Log level:         %s", logging.GetLevel())

	if err := EnsureLayout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnsureLayout creates the infrastructure directories and verifies the
// data directory is writable. The index store cannot operate without
// it, so failure here is fatal.
func EnsureLayout(cfg *Config) error {
	if info, err := os.Stat(cfg.LibraryDir); err != nil {
		return fmt.Errorf("library directory unavailable: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("library path %s is not a directory", cfg.LibraryDir)
	}

	for _, dir := range []string{cfg.DataDir, cfg.BackupsDir(), cfg.LogsDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := testWriteAccess(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory is not writable: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIBRARY_DIR"); v != "" {
		cfg.LibraryDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = parseBool(v, cfg.MetricsEnabled)
	}
	if v := os.Getenv("NETWORK_STORAGE"); v != "" {
		cfg.NetworkStorage = parseBool(v, cfg.NetworkStorage)
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Workers = n
		} else {
			logging.Warn("Invalid WORKERS value %q, keeping %d", v, cfg.Workers)
		}
	}
	if v := os.Getenv("TOOL_TIMEOUT"); v != "" {
		setDuration(&cfg.ToolTimeout, "TOOL_TIMEOUT", v)
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		setDuration(&cfg.PollInterval, "POLL_INTERVAL", v)
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		setDuration(&cfg.SyncInterval, "SYNC_INTERVAL", v)
	}
}

func setDuration(dst *duration, name, value string) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid %s value %q, keeping %s", name, value, dst.Duration)
		return
	}
	dst.Duration = parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return err
	}
	return os.Remove(testFile)
}

// ProtectedDirNames returns the infrastructure directory names the
// folder janitor must leave alone.
func ProtectedDirNames() []string {
	return []string{TrashDirName, DataDirName, BackupsDirName, LogsDirName, TempDirName}
}
