package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "pawcal/internal/log"
)

// Defaults applied by DefaultConfig and Normalize.
const (
	DefaultListen         = "127.0.0.1:8080"
	DefaultSQLitePath     = "pawcal.db"
	DefaultProductID      = "-//PawfectPlanner//Reminders//EN"
	DefaultUIDDomain      = "pawfectplanner.com"
	DefaultEventDuration  = 30 * time.Minute
	DefaultInputTimezone  = "UTC"
	DefaultHorizonDays    = 30
	DefaultRatePerMinute  = 60
	DefaultRateBurst      = 10
	DefaultImportCacheDir = "./var/import-cache"
	DefaultImportTimeout  = 15 * time.Second
	DefaultLogLevel       = "info"
)

const (
	envListen        = "PAWCAL_LISTEN"
	envDatabaseURL   = "DATABASE_URL"
	envSQLitePath    = "PAWCAL_SQLITE_PATH"
	envLogLevel      = "PAWCAL_LOG_LEVEL"
	envInputTimezone = "PAWCAL_INPUT_TIMEZONE"
	envHorizonDays   = "PAWCAL_HORIZON_DAYS"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DatabaseConfig selects the reminder store. A non-empty URL means
// PostgreSQL; otherwise SQLite at SQLitePath.
type DatabaseConfig struct {
	URL        string `yaml:"url" json:"url"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// CalendarConfig controls calendar export.
type CalendarConfig struct {
	ProductID string `yaml:"product_id" json:"product_id"`
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	// DefaultDuration is the event length when none is given.
	DefaultDuration time.Duration `yaml:"default_duration" json:"default_duration"`

	// InputTimezone is the IANA zone submitted dates and times are read in.
	// Exports are always UTC.
	InputTimezone string `yaml:"input_timezone" json:"input_timezone"`
}

// RateLimitConfig throttles calendar downloads per client.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	Burst     int `yaml:"burst" json:"burst"`
}

// ImportConfig controls fetching remote calendars for import.
type ImportConfig struct {
	CacheDir string        `yaml:"cache_dir" json:"cache_dir"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// HorizonDays is the default look-ahead of occurrence listings.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Import    ImportConfig    `yaml:"import" json:"import"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   DefaultListen,
		LogLevel: DefaultLogLevel,
		Database: DatabaseConfig{SQLitePath: DefaultSQLitePath},
		Calendar: CalendarConfig{
			ProductID:       DefaultProductID,
			UIDDomain:       DefaultUIDDomain,
			DefaultDuration: DefaultEventDuration,
			InputTimezone:   DefaultInputTimezone,
		},
		HorizonDays: DefaultHorizonDays,
		RateLimit:   RateLimitConfig{PerMinute: DefaultRatePerMinute, Burst: DefaultRateBurst},
		Import:      ImportConfig{CacheDir: DefaultImportCacheDir, Timeout: DefaultImportTimeout},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = DefaultSQLitePath
	}
	if c.Calendar.ProductID == "" {
		c.Calendar.ProductID = DefaultProductID
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = DefaultUIDDomain
	}
	if c.Calendar.DefaultDuration <= 0 {
		c.Calendar.DefaultDuration = DefaultEventDuration
	}
	if c.Calendar.InputTimezone == "" {
		c.Calendar.InputTimezone = DefaultInputTimezone
	}
	if _, err := time.LoadLocation(c.Calendar.InputTimezone); err != nil {
		// Unknown zone; fall back to UTC rather than refusing to start.
		appLog.Warn("unknown input timezone, using UTC", "input_timezone", c.Calendar.InputTimezone)
		c.Calendar.InputTimezone = DefaultInputTimezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.RateLimit.PerMinute <= 0 {
		c.RateLimit.PerMinute = DefaultRatePerMinute
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
	if c.Import.CacheDir == "" {
		c.Import.CacheDir = DefaultImportCacheDir
	}
	if c.Import.Timeout <= 0 {
		c.Import.Timeout = DefaultImportTimeout
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Location resolves Calendar.InputTimezone. Normalize guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.InputTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overlays environment overrides. A .env file in the working
// directory is read first; variables already set win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv(envListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(envDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(envSQLitePath); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(envInputTimezone); v != "" {
		c.Calendar.InputTimezone = v
	}
	if v := os.Getenv(envHorizonDays); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			appLog.Warn("ignoring non-numeric horizon override", envHorizonDays, v)
		} else {
			c.HorizonDays = n
		}
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are never written back to the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			appLog.Info("wrote default config", "path", path)
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pawcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
