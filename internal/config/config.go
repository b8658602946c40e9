// Package config provides configuration management for Analogic.
// Settings come from three layers: built-in defaults, an optional YAML file,
// and environment variables with the ANALOGIC_ prefix. Later layers win, so
// an environment variable always overrides the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Analogic service.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Security    SecurityConfig
	Backup      BackupConfig
	Maintenance MaintenanceConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host           string   // Bind host (default: 127.0.0.1)
	Port           int      // Bind port (default: 8000)
	AllowedOrigins []string // Origins accepted by the websocket feed (default: ["*"])
	RatePerSec     float64  // Global request rate limit (default: 50)
	RateBurst      int      // Rate limiter burst size (default: 100)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DatabaseURL string // Postgres DSN; for sqlite, an explicit database path
	DataPath    string // Data directory for the default sqlite database (default: ./data)
}

// SecurityConfig contains authentication and encryption settings.
type SecurityConfig struct {
	Mode       string // Security mode: development, production (default: development)
	APIToken   string // API token checked by the auth middleware
	MasterKey  string // Hex-encoded 32-byte master encryption key
	Passphrase string // KDF passphrase used when no master key is set
	KeySalt    string // KDF salt used when no master key is set
}

// BackupConfig contains backup engine and scheduler settings.
type BackupConfig struct {
	Enabled         bool          // Run the backup scheduler under serve (default: true)
	Dir             string        // Local artifact directory (default: ./backups)
	Interval        time.Duration // Scheduler tick interval (default: 1h)
	MaxLocalBackups int           // Local artifacts kept per tier (default: 48)
	RemoteDir       string        // Remote blob store root; empty disables uploads
}

// MaintenanceConfig contains the background sweep settings.
type MaintenanceConfig struct {
	SweepInterval  time.Duration // Purge/prune/decay cadence (default: 1h)
	DecayThreshold float64       // Associations below this strength are decayed (default: 0.05)
}

// LoadConfig loads configuration from environment variables over the
// built-in defaults and validates the result.
func LoadConfig() (*Config, error) {
	return buildConfig(nil)
}

// LoadConfigFile additionally applies a YAML file between the defaults and
// the environment. The file is a flat mapping using the same keys as the
// environment variables, lowercased and without the ANALOGIC_ prefix.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	file := make(fileValues)
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return buildConfig(file)
}

func buildConfig(file fileValues) (*Config, error) {
	cfg := defaultConfig()
	applyFile(cfg, file)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"*"},
			RatePerSec:     50,
			RateBurst:      100,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Security: SecurityConfig{
			Mode:       "development",
			Passphrase: "analogic-memory-default-passphrase",
			KeySalt:    "analogic-salt-2024",
		},
		Backup: BackupConfig{
			Enabled:         true,
			Dir:             "./backups",
			Interval:        time.Hour,
			MaxLocalBackups: 48,
		},
		Maintenance: MaintenanceConfig{
			SweepInterval:  time.Hour,
			DecayThreshold: 0.05,
		},
	}
}

func applyFile(cfg *Config, file fileValues) {
	if file == nil {
		return
	}
	cfg.Server.Host = file.str("host", cfg.Server.Host)
	cfg.Server.Port = file.integer("port", cfg.Server.Port)
	cfg.Server.AllowedOrigins = file.list("allowed_origins", cfg.Server.AllowedOrigins)
	cfg.Server.RatePerSec = file.float("rate_per_sec", cfg.Server.RatePerSec)
	cfg.Server.RateBurst = file.integer("rate_burst", cfg.Server.RateBurst)

	cfg.Storage.Engine = file.str("storage_engine", cfg.Storage.Engine)
	cfg.Storage.DatabaseURL = file.str("database_url", cfg.Storage.DatabaseURL)
	cfg.Storage.DataPath = file.str("data_path", cfg.Storage.DataPath)

	cfg.Security.Mode = file.str("security_mode", cfg.Security.Mode)
	cfg.Security.APIToken = file.str("api_token", cfg.Security.APIToken)
	cfg.Security.MasterKey = file.str("master_key", cfg.Security.MasterKey)
	cfg.Security.Passphrase = file.str("passphrase", cfg.Security.Passphrase)
	cfg.Security.KeySalt = file.str("key_salt", cfg.Security.KeySalt)

	cfg.Backup.Enabled = file.boolean("backup_enabled", cfg.Backup.Enabled)
	cfg.Backup.Dir = file.str("backup_dir", cfg.Backup.Dir)
	cfg.Backup.Interval = file.duration("backup_interval", cfg.Backup.Interval)
	cfg.Backup.MaxLocalBackups = file.integer("max_local_backups", cfg.Backup.MaxLocalBackups)
	cfg.Backup.RemoteDir = file.str("backup_remote_dir", cfg.Backup.RemoteDir)

	cfg.Maintenance.SweepInterval = file.duration("sweep_interval", cfg.Maintenance.SweepInterval)
	cfg.Maintenance.DecayThreshold = file.float("decay_threshold", cfg.Maintenance.DecayThreshold)
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("ANALOGIC_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("ANALOGIC_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvList("ANALOGIC_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.RatePerSec = getEnvFloat("ANALOGIC_RATE_PER_SEC", cfg.Server.RatePerSec)
	cfg.Server.RateBurst = getEnvInt("ANALOGIC_RATE_BURST", cfg.Server.RateBurst)

	cfg.Storage.Engine = getEnv("ANALOGIC_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DatabaseURL = getEnv("ANALOGIC_DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Storage.DataPath = getEnv("ANALOGIC_DATA_PATH", cfg.Storage.DataPath)

	cfg.Security.Mode = getEnv("ANALOGIC_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIToken = getEnv("ANALOGIC_API_TOKEN", cfg.Security.APIToken)
	cfg.Security.MasterKey = getEnv("ANALOGIC_MASTER_KEY", cfg.Security.MasterKey)
	cfg.Security.Passphrase = getEnv("ANALOGIC_PASSPHRASE", cfg.Security.Passphrase)
	cfg.Security.KeySalt = getEnv("ANALOGIC_KEY_SALT", cfg.Security.KeySalt)

	cfg.Backup.Enabled = getEnvBool("ANALOGIC_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Dir = getEnv("ANALOGIC_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Interval = getEnvDuration("ANALOGIC_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.MaxLocalBackups = getEnvInt("ANALOGIC_MAX_LOCAL_BACKUPS", cfg.Backup.MaxLocalBackups)
	cfg.Backup.RemoteDir = getEnv("ANALOGIC_BACKUP_REMOTE_DIR", cfg.Backup.RemoteDir)

	cfg.Maintenance.SweepInterval = getEnvDuration("ANALOGIC_SWEEP_INTERVAL", cfg.Maintenance.SweepInterval)
	cfg.Maintenance.DecayThreshold = getEnvFloat("ANALOGIC_DECAY_THRESHOLD", cfg.Maintenance.DecayThreshold)
}

// Validate checks the configuration for values that cannot work and returns
// a descriptive error for the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d is out of range", c.Server.Port)
	}
	if c.Server.RatePerSec <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("config: rate limit %g/%d must be positive", c.Server.RatePerSec, c.Server.RateBurst)
	}

	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.DatabaseURL == "" && c.Storage.DataPath == "" {
			return fmt.Errorf("config: sqlite engine needs a data path or database URL")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("config: postgres engine needs a database URL")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	switch c.Security.Mode {
	case "development":
	case "production":
		if c.Security.APIToken == "" {
			return fmt.Errorf("config: production mode requires an API token")
		}
		if c.Security.MasterKey == "" {
			return fmt.Errorf("config: production mode requires a master encryption key")
		}
	default:
		return fmt.Errorf("config: unknown security mode %q", c.Security.Mode)
	}
	if c.Security.MasterKey == "" && c.Security.Passphrase == "" {
		return fmt.Errorf("config: a master key or passphrase is required for encryption")
	}

	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("config: backups are enabled but no backup directory is set")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("config: backup interval %s must be positive", c.Backup.Interval)
		}
		if c.Backup.MaxLocalBackups <= 0 {
			return fmt.Errorf("config: max local backups %d must be positive", c.Backup.MaxLocalBackups)
		}
	}

	if c.Maintenance.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep interval %s must be positive", c.Maintenance.SweepInterval)
	}
	if c.Maintenance.DecayThreshold < 0 || c.Maintenance.DecayThreshold >= 1 {
		return fmt.Errorf("config: decay threshold %g must be in [0, 1)", c.Maintenance.DecayThreshold)
	}
	return nil
}

// fileValues is the flattened YAML document. Typed getters return the given
// default when a key is absent or holds a value of the wrong type.
type fileValues map[string]any

func (f fileValues) str(key, defaultValue string) string {
	if v, ok := f[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

func (f fileValues) integer(key string, defaultValue int) int {
	if v, ok := f[key].(int); ok {
		return v
	}
	return defaultValue
}

func (f fileValues) boolean(key string, defaultValue bool) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return defaultValue
}

func (f fileValues) float(key string, defaultValue float64) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return defaultValue
}

func (f fileValues) duration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := f[key].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func (f fileValues) list(key string, defaultValue []string) []string {
	switch v := f[key].(type) {
	case string:
		return splitList(v)
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, it returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("90s", "1h") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable or returns a
// default value.
func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if items := splitList(value); len(items) > 0 {
			return items
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
