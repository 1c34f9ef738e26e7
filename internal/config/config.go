// Package config loads the process configuration of the streamstore binaries
// from defaults, an optional YAML file and STREAMSTORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "STREAMSTORE"

// Backend kinds.
const (
	BackendMemory         = "memory"
	BackendSQLite         = "sqlite"
	BackendPostgres       = "postgres"
	BackendNATS           = "nats"
	BackendDocstoreMemory = "docstore-memory"
	BackendDocstoreNATS   = "docstore-nats"
)

var Backends = []string{
	BackendMemory,
	BackendSQLite,
	BackendPostgres,
	BackendNATS,
	BackendDocstoreMemory,
	BackendDocstoreNATS,
}

// ConfigFileNames are looked up in the search paths when no file is given.
var ConfigFileNames = []string{"streamstore.yaml", "streamstore.yml"}

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Backend     string         `mapstructure:"backend"`
	LogLevel    string         `mapstructure:"log_level"`
	MetricsAddr string         `mapstructure:"metrics_addr"`
	SQL         SQLConfig      `mapstructure:"sql"`
	NATS        NATSConfig     `mapstructure:"nats"`
	Docstore    DocstoreConfig `mapstructure:"docstore"`
}

type SQLConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Debug       bool   `mapstructure:"debug"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Stream        string `mapstructure:"stream"`
	Replicas      int    `mapstructure:"replicas"`
	MemoryStorage bool   `mapstructure:"memory_storage"`
	// Bucket is the key value bucket of the docstore-nats backend.
	Bucket string `mapstructure:"bucket"`
	// Bus publishes committed events on core NATS.
	Bus       bool   `mapstructure:"bus"`
	BusPrefix string `mapstructure:"bus_prefix"`
}

type DocstoreConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
}

func DefaultConfig() Config {
	return Config{
		Backend:  BackendMemory,
		LogLevel: "info",
		SQL: SQLConfig{
			SQLitePath: "streamstore.db",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "streamstore.es",
			Stream:        "STREAMSTORE_ES",
			Replicas:      1,
			Bucket:        "streamstore_streams",
			BusPrefix:     "streamstore.events",
		},
		Docstore: DocstoreConfig{
			KeyPrefix: "stream.",
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(Backends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend %q is not one of %s", c.Backend, strings.Join(Backends, ", ")))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Backend {
	case BackendSQLite:
		if c.SQL.SQLitePath == "" {
			errs = append(errs, errors.New("sql.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.SQL.PostgresDSN == "" {
			errs = append(errs, errors.New("sql.postgres_dsn is required for the postgres backend"))
		}
	case BackendNATS, BackendDocstoreNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats backends"))
		}
	}
	if c.Backend == BackendDocstoreNATS && c.NATS.Bucket == "" {
		errs = append(errs, errors.New("nats.bucket is required for the docstore-nats backend"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// UsesNATS reports whether the configuration needs a NATS connection.
func (c Config) UsesNATS() bool {
	return c.Backend == BackendNATS || c.Backend == BackendDocstoreNATS || c.NATS.Bus
}

func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Loader merges defaults, a config file and the environment.
type Loader struct {
	v           *viper.Viper
	configPath  string
	searchPaths []string
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{
		v:           v,
		searchPaths: []string{"."},
	}
}

// Viper exposes the underlying instance so callers can bind flags.
func (l *Loader) Viper() *viper.Viper { return l.v }

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = append(l.searchPaths, paths...)
	return l
}

func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the file read by Load, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("backend", d.Backend)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("metrics_addr", d.MetricsAddr)

	l.v.SetDefault("sql.sqlite_path", d.SQL.SQLitePath)
	l.v.SetDefault("sql.postgres_dsn", d.SQL.PostgresDSN)
	l.v.SetDefault("sql.debug", d.SQL.Debug)

	l.v.SetDefault("nats.url", d.NATS.URL)
	l.v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	l.v.SetDefault("nats.stream", d.NATS.Stream)
	l.v.SetDefault("nats.replicas", d.NATS.Replicas)
	l.v.SetDefault("nats.memory_storage", d.NATS.MemoryStorage)
	l.v.SetDefault("nats.bucket", d.NATS.Bucket)
	l.v.SetDefault("nats.bus", d.NATS.Bus)
	l.v.SetDefault("nats.bus_prefix", d.NATS.BusPrefix)

	l.v.SetDefault("docstore.key_prefix", d.Docstore.KeyPrefix)
}

func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", l.configPath, err)
		}
		return nil
	}

	for _, searchPath := range l.searchPaths {
		for _, name := range ConfigFileNames {
			configFile := filepath.Join(searchPath, name)
			if _, err := os.Stat(configFile); err != nil {
				continue
			}
			l.v.SetConfigFile(configFile)
			if err := l.v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file %s: %w", configFile, err)
			}
			return nil
		}
	}

	// no config file is fine
	return nil
}
