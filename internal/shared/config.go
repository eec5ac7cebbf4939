package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Catalogue CatalogueConfig `toml:"catalogue"`
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	SFTP      SFTPConfig      `toml:"sftp"`
	Workers   WorkersConfig   `toml:"workers"`
}

// CatalogueConfig locates the catalogue and controls how hard the client leans on it.
type CatalogueConfig struct {
	URL        string  `toml:"url"`
	Token      string  `toml:"token"`
	RateLimit  float64 `toml:"rate_limit"`  // requests per second, <= 0 disables limiting
	MaxTries   int     `toml:"max_tries"`   // attempts for retryable requests
	RetryAfter int     `toml:"retry_after"` // seconds between attempts
	Timeout    int     `toml:"timeout"`     // per request, seconds
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Token string `toml:"token"`
}

// LoggingConfig selects the level and an optional rotated log file.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// SFTPConfig holds credentials for sftp:// dataset locations.
type SFTPConfig struct {
	User       string `toml:"user"`
	Password   string `toml:"password"`
	PrivateKey string `toml:"private_key"`
	KnownHosts string `toml:"known_hosts"`
	Port       int    `toml:"port"`
}

// WorkersConfig holds defaults shared by every worker plus one table per action.
//
// Per-action values win over the shared ones.
type WorkersConfig struct {
	Wait           int `toml:"wait"`
	Heartbeat      int `toml:"heartbeat"`
	MaxNoHeartbeat int `toml:"max_no_heartbeat"`
	ErrorBackoff   int `toml:"error_backoff"`

	Transfer TransferWorkerConfig `toml:"transfer-dataset"`
	Delete   DeleteWorkerConfig   `toml:"delete-dataset"`
}

type TransferWorkerConfig struct {
	Destination        string `toml:"destination"`
	TargetDir          string `toml:"target_dir"`
	PublishedTargetDir string `toml:"published_target_dir"`
	AutoRegister       bool   `toml:"auto_register"`
	Threads            int    `toml:"threads"`
	ProgressFrequency  int    `toml:"progress_frequency"` // seconds between progress writes
	Resume             bool   `toml:"resume"`
	BandwidthLimit     int    `toml:"bandwidth_limit"` // bytes per second, 0 is unlimited

	Wait           *int `toml:"wait"`
	Heartbeat      *int `toml:"heartbeat"`
	MaxNoHeartbeat *int `toml:"max_no_heartbeat"`
}

type DeleteWorkerConfig struct {
	Platform string `toml:"platform"`

	Wait           *int `toml:"wait"`
	Heartbeat      *int `toml:"heartbeat"`
	MaxNoHeartbeat *int `toml:"max_no_heartbeat"`
}

// Timing holds the resolved polling parameters for one action, in seconds.
type Timing struct {
	Wait           int
	Heartbeat      int
	MaxNoHeartbeat int
	ErrorBackoff   int
}

// TimingFor merges the per-action overrides for action onto the shared worker defaults.
func (w WorkersConfig) TimingFor(action string) Timing {
	t := Timing{
		Wait:           w.Wait,
		Heartbeat:      w.Heartbeat,
		MaxNoHeartbeat: w.MaxNoHeartbeat,
		ErrorBackoff:   w.ErrorBackoff,
	}

	var wait, heartbeat, maxNoHeartbeat *int
	switch action {
	case "transfer-dataset":
		wait, heartbeat, maxNoHeartbeat = w.Transfer.Wait, w.Transfer.Heartbeat, w.Transfer.MaxNoHeartbeat
	case "delete-dataset":
		wait, heartbeat, maxNoHeartbeat = w.Delete.Wait, w.Delete.Heartbeat, w.Delete.MaxNoHeartbeat
	}
	if wait != nil {
		t.Wait = *wait
	}
	if heartbeat != nil {
		t.Heartbeat = *heartbeat
	}
	if maxNoHeartbeat != nil {
		t.MaxNoHeartbeat = *maxNoHeartbeat
	}
	return t
}

// Validate checks the values the rest of the program cannot recover from.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalogue.URL) == "" {
		return fmt.Errorf("%w: catalogue.url is empty", ErrInvalidConfig)
	}
	if c.Workers.Wait < 0 || c.Workers.Heartbeat < 0 || c.Workers.MaxNoHeartbeat < 0 {
		return fmt.Errorf("%w: worker timings must not be negative", ErrInvalidConfig)
	}
	if c.Workers.MaxNoHeartbeat > 0 && c.Workers.Heartbeat >= c.Workers.MaxNoHeartbeat {
		return fmt.Errorf("%w: workers.heartbeat (%ds) must be shorter than workers.max_no_heartbeat (%ds)",
			ErrInvalidConfig, c.Workers.Heartbeat, c.Workers.MaxNoHeartbeat)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingConfig, path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrAlreadyExists, path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
