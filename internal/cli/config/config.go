// Package config loads cloner.yml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileNames are the config files looked up, in order
var FileNames = []string{"cloner.yml", "cloner.yaml"}

// EnvPrefix prefixes environment overrides, e.g. CLONER_SERVER_PORT
const EnvPrefix = "CLONER"

// ErrNotFound is returned by FindFile when no config file exists up to the
// filesystem root
var ErrNotFound = errors.New("no cloner.yml found")

// Supported driver names
var (
	DatastoreDrivers  = []string{"memory", "pgx", "postgres", "sqlite3"}
	AttachmentDrivers = []string{"fs", "memory", "none", "s3"}
)

// Config is the whole configuration
type Config struct {
	SchemaFile       string                     `mapstructure:"schema_file"`
	Datastores       map[string]DatastoreConfig `mapstructure:"datastores"`
	DefaultDatastore string                     `mapstructure:"default_datastore"`
	Attachments      AttachmentsConfig          `mapstructure:"attachments"`
	Events           EventsConfig               `mapstructure:"events"`
	Atomic           AtomicConfig               `mapstructure:"atomic"`
	Server           ServerConfig               `mapstructure:"server"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

// DatastoreConfig is one named connection
type DatastoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// AttachmentsConfig selects where file attributes are copied
type AttachmentsConfig struct {
	Driver string   `mapstructure:"driver"`
	Root   string   `mapstructure:"root"`
	Prefix string   `mapstructure:"prefix"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config addresses an S3 compatible bucket. Credentials fall back to the
// AWS default chain when AccessKeyID is empty.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// EventsConfig enables the event fan-out bridges
type EventsConfig struct {
	Workers int         `mapstructure:"workers"`
	Redis   RedisConfig `mapstructure:"redis"`
	AMQP    AMQPConfig  `mapstructure:"amqp"`
}

// RedisConfig publishes events on a Redis channel when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AMQPConfig publishes events on an AMQP exchange when URL is set
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// AtomicConfig is the retry policy of duplications run in one transaction.
// A zero Timeout leaves each attempt unbounded.
type AtomicConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ServerConfig is the HTTP listen address
type ServerConfig struct {
	Host string     `mapstructure:"host"`
	Port int        `mapstructure:"port"`
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig enables bearer token authentication when Secret is set
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads path, or the nearest cloner.yml above the working directory
// when path is empty. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("schema_file", "schema.yml")
	v.SetDefault("default_datastore", "primary")
	v.SetDefault("attachments.driver", "none")
	v.SetDefault("attachments.root", "./attachments")
	v.SetDefault("attachments.prefix", "")
	v.SetDefault("attachments.s3.bucket", "")
	v.SetDefault("attachments.s3.region", "")
	v.SetDefault("attachments.s3.endpoint", "")
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.redis.addr", "")
	v.SetDefault("events.redis.channel", "cloner.events")
	v.SetDefault("events.amqp.url", "")
	v.SetDefault("events.amqp.exchange", "cloner.events")
	v.SetDefault("atomic.max_retries", 3)
	v.SetDefault("atomic.base_backoff", "100ms")
	v.SetDefault("atomic.timeout", "0s")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth.secret", "")
	v.SetDefault("server.auth.token_ttl", "1h")

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		found, err := FindFile(wd)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		path = found
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = path

	if len(cfg.Datastores) == 0 {
		cfg.Datastores = map[string]DatastoreConfig{
			cfg.DefaultDatastore: {Driver: "memory"},
		}
	}
	if path != "" && cfg.SchemaFile != "" && !filepath.IsAbs(cfg.SchemaFile) {
		cfg.SchemaFile = filepath.Join(filepath.Dir(path), cfg.SchemaFile)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindFile walks up from dir to the filesystem root looking for a config file
func FindFile(dir string) (string, error) {
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Validate checks drivers and cross references
func Validate(cfg *Config) error {
	var errs []error

	if _, ok := cfg.Datastores[cfg.DefaultDatastore]; !ok {
		errs = append(errs, fmt.Errorf("default_datastore %q is not declared under datastores", cfg.DefaultDatastore))
	}

	names := make([]string, 0, len(cfg.Datastores))
	for name := range cfg.Datastores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ds := cfg.Datastores[name]
		if !contains(DatastoreDrivers, ds.Driver) {
			errs = append(errs, fmt.Errorf("datastores.%s.driver %q must be one of %s",
				name, ds.Driver, strings.Join(DatastoreDrivers, ", ")))
			continue
		}
		if ds.Driver != "memory" && ds.DSN == "" {
			errs = append(errs, fmt.Errorf("datastores.%s.dsn is required for driver %s", name, ds.Driver))
		}
	}

	if !contains(AttachmentDrivers, cfg.Attachments.Driver) {
		errs = append(errs, fmt.Errorf("attachments.driver %q must be one of %s",
			cfg.Attachments.Driver, strings.Join(AttachmentDrivers, ", ")))
	}
	if cfg.Attachments.Driver == "s3" && cfg.Attachments.S3.Bucket == "" {
		errs = append(errs, errors.New("attachments.s3.bucket is required for driver s3"))
	}

	if cfg.Events.Workers < 1 {
		errs = append(errs, fmt.Errorf("events.workers must be positive, got %d", cfg.Events.Workers))
	}
	if cfg.Atomic.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("atomic.max_retries must be positive, got %d", cfg.Atomic.MaxRetries))
	}
	if cfg.Atomic.BaseBackoff < 0 || cfg.Atomic.Timeout < 0 {
		errs = append(errs, errors.New("atomic.base_backoff and atomic.timeout must not be negative"))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("server.auth.token_ttl must not be negative, got %s", cfg.Server.Auth.TokenTTL))
	}

	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
