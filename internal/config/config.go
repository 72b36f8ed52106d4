// Package config loads conditions configuration from flags, CONDITIONS_*
// environment variables, an optional config file and defaults, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key for environment overrides, e.g.
// CONDITIONS_DB or CONDITIONS_SUBJECTS_DB.
const EnvPrefix = "CONDITIONS"

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Keys.
const (
	KeyDriver          = "driver"
	KeyDB              = "db"
	KeySubjectsDB      = "subjects_db"
	KeyClasses         = "classes"
	KeyWorkers         = "workers"
	KeyLock            = "lock"
	KeyLogLevel        = "log_level"
	KeyMetricsEndpoint = "metrics_endpoint"
)

// DefaultWorkers is the number of classes processed in parallel.
const DefaultWorkers = 4

// Config holds all configuration values for the application.
type Config struct {
	// Driver selects the condition store: sqlite or postgres.
	Driver string `mapstructure:"driver"`

	// DB is the SQLite path or Postgres URL of the condition store.
	DB string `mapstructure:"db"`

	// SubjectsDB holds the subject tables the class predicates query.
	// Defaults to DB.
	SubjectsDB string `mapstructure:"subjects_db"`

	// Classes is the directory of CUE class declarations.
	Classes string `mapstructure:"classes"`

	Workers int `mapstructure:"workers"`

	// Lock is the file locked for the duration of a processing run.
	Lock string `mapstructure:"lock"`

	LogLevel string `mapstructure:"log_level"`

	// MetricsEndpoint is an OTLP/HTTP endpoint URL. Empty disables export.
	MetricsEndpoint string `mapstructure:"metrics_endpoint"`
}

// New returns a viper instance carrying defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDriver, DriverSQLite)
	v.SetDefault(KeyDB, "conditions.db")
	v.SetDefault(KeySubjectsDB, "")
	v.SetDefault(KeyClasses, "classes")
	v.SetDefault(KeyWorkers, DefaultWorkers)
	v.SetDefault(KeyLock, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsEndpoint, "")

	// Read environment variables that match "CONDITIONS_KEY"
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag whose name (with dashes read as underscores)
// is a configuration key, so an explicitly set flag wins over env and file.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range []string{KeyDriver, KeyDB, KeySubjectsDB, KeyClasses, KeyWorkers, KeyLock, KeyLogLevel, KeyMetricsEndpoint} {
		known[k] = true
	}
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !known[key] {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads the optional config file into v and returns the resolved,
// validated configuration.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDerived fills keys whose defaults depend on other keys.
func (c *Config) applyDerived() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.SubjectsDB == "" {
		c.SubjectsDB = c.DB
	}
	if c.Lock == "" {
		if c.Driver == DriverSQLite && c.DB != "" {
			c.Lock = c.DB + ".lock"
		} else {
			c.Lock = filepath.Join(os.TempDir(), "conditions.lock")
		}
	}
}

// Validate rejects configurations no command can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (expected %s or %s)", c.Driver, DriverSQLite, DriverPostgres))
	}
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, fmt.Errorf("db is required (env: %s_DB)", EnvPrefix))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
	return l, nil
}
