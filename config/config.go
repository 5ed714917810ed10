package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanshare"
	// DefaultHTTPPort is the port the file service listens on.
	DefaultHTTPPort = 8000
	// DefaultBroadcastPort is the UDP port used for presence announcements.
	DefaultBroadcastPort = 9090
	// DefaultBroadcastAddress is the limited broadcast address.
	DefaultBroadcastAddress = "255.255.255.255"
	// DefaultBroadcastInterval is the announcement cadence.
	DefaultBroadcastInterval = time.Second
	// DefaultDiscoveryAttempts is the number of receive operations per discovery call.
	DefaultDiscoveryAttempts = 3
	// DefaultDiscoveryTimeout bounds each discovery receive.
	DefaultDiscoveryTimeout = 2 * time.Second
	// DefaultDiscoveryDelay separates discovery attempts.
	DefaultDiscoveryDelay = time.Second
	// DefaultMaxFileSize is the upload ceiling (1 GiB).
	DefaultMaxFileSize int64 = 1024 * 1024 * 1024
	// DefaultChunkSize is the upload read buffer size (8 KiB).
	DefaultChunkSize = 8 * 1024
	// DefaultHistoryRetention is how long transfer history rows are kept.
	DefaultHistoryRetention = 30 * 24 * time.Hour
	// DefaultLogLevel is the logrus level name used when none is configured.
	DefaultLogLevel = "info"

	configFileName = "config.yaml"
	dataDirEnv     = "LANSHARE_DATA_DIR"
)

// Wire delimiters of the presence announcement; a device name must not contain them.
var announcementDelimiters = []string{"Server: ", ", IP: ", ", PORT: "}

// DeviceConfig contains persistent local settings.
type DeviceConfig struct {
	DeviceID          string        `yaml:"device_id"`
	DeviceName        string        `yaml:"device_name"`
	AdvertiseIP       string        `yaml:"advertise_ip"`
	HTTPPort          int           `yaml:"http_port"`
	BroadcastPort     int           `yaml:"broadcast_port"`
	BroadcastAddress  string        `yaml:"broadcast_address"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	DiscoveryAttempts int           `yaml:"discovery_attempts"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	DiscoveryDelay    time.Duration `yaml:"discovery_delay"`
	MDNSEnabled       *bool         `yaml:"mdns_enabled"`
	MaxFileSize       int64         `yaml:"max_file_size"`
	ChunkSize         int           `yaml:"chunk_size"`
	FilesDir          string        `yaml:"files_dir"`
	StagingDir        string        `yaml:"staging_dir"`
	HistoryRetention  time.Duration `yaml:"history_retention"`
	LogLevel          string        `yaml:"log_level"`
}

// MDNS reports whether mDNS advertisement and browsing are enabled.
func (c *DeviceConfig) MDNS() bool {
	return c.MDNSEnabled == nil || *c.MDNSEnabled
}

// Validate rejects settings the services cannot run with.
func (c *DeviceConfig) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device name is required")
	}
	for _, delim := range announcementDelimiters {
		if strings.Contains(c.DeviceName, delim) {
			return fmt.Errorf("device name %q must not contain %q", c.DeviceName, delim)
		}
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	}
	if c.BroadcastPort <= 0 || c.BroadcastPort > 65535 {
		return fmt.Errorf("broadcast port %d out of range", c.BroadcastPort)
	}
	if c.MaxFileSize <= 0 {
		return errors.New("max file size must be > 0")
	}
	if c.ChunkSize <= 0 {
		return errors.New("chunk size must be > 0")
	}
	return nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANSHARE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(dataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(cfg *DeviceConfig, dataDir string) error {
	dirs := []string{dataDir}
	if cfg != nil {
		dirs = append(dirs, cfg.FilesDir, cfg.StagingDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config
// and its path.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(nil, dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = &DeviceConfig{}
		normalizeDefaults(cfg, dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %q: %w", cfgPath, err)
	}
	if err := EnsureDataDirectories(cfg, dataDir); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "LAN Share"
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
		updated = true
	}
	if cfg.BroadcastPort == 0 {
		cfg.BroadcastPort = DefaultBroadcastPort
		updated = true
	}
	if cfg.BroadcastAddress == "" {
		cfg.BroadcastAddress = DefaultBroadcastAddress
		updated = true
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = DefaultBroadcastInterval
		updated = true
	}
	if cfg.DiscoveryAttempts <= 0 {
		cfg.DiscoveryAttempts = DefaultDiscoveryAttempts
		updated = true
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
		updated = true
	}
	if cfg.DiscoveryDelay <= 0 {
		cfg.DiscoveryDelay = DefaultDiscoveryDelay
		updated = true
	}
	if cfg.MDNSEnabled == nil {
		enabled := true
		cfg.MDNSEnabled = &enabled
		updated = true
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
		updated = true
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
		updated = true
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataDir, "files")
		updated = true
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(dataDir, "staging")
		updated = true
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = DefaultHistoryRetention
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}
