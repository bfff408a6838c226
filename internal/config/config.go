package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/secretsweep/internal/errors"
	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/scrubber"
	"github.com/systmms/secretsweep/internal/store"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "secretsweep.yaml"

// Config holds the runtime configuration
type Config struct {
	Path string
	// Explicit is set when Path came from the user; a missing file is then an error.
	Explicit   bool
	Logger     *logging.Logger
	Definition *Definition

	// LookupEnv replaces os.LookupEnv, mainly for tests.
	LookupEnv func(key string) (string, bool)
}

// Definition represents the secretsweep.yaml structure
type Definition struct {
	Store    StoreConfig    `yaml:"store"`
	Scrubber ScrubberConfig `yaml:"scrubber"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StoreConfig describes the message database.
type StoreConfig struct {
	Driver   string      `yaml:"driver"`
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Database string      `yaml:"database"`
	User     string      `yaml:"user"`
	Password string      `yaml:"password,omitempty"`
	SSLMode  string      `yaml:"sslmode,omitempty"`
	Table    string      `yaml:"table,omitempty"`
	Keyring  *KeyringRef `yaml:"keyring,omitempty"`
}

// KeyringRef points at an OS keyring entry holding the database password.
type KeyringRef struct {
	Service string `yaml:"service"`
	Account string `yaml:"account"`
}

// ScrubberConfig holds scrubbing service settings
type ScrubberConfig struct {
	URL       string        `yaml:"url,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Workers   int           `yaml:"workers,omitempty"`
	RateLimit float64       `yaml:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst,omitempty"`
}

// MetricsConfig holds the optional Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() *Definition {
	return &Definition{
		Store: StoreConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "magenta_memory",
			User:     "magent",
			Table:    store.DefaultTable,
		},
		Scrubber: ScrubberConfig{
			Timeout: scrubber.DefaultTimeout,
			Workers: 1,
		},
	}
}

// Load reads secretsweep.yaml over the defaults and applies the environment.
func (c *Config) Load() error {
	def := Defaults()

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, def); err != nil {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "invalid YAML syntax in configuration file",
					Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
					Err:        err,
				}
			}
		case os.IsNotExist(err):
			if c.Explicit {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Check the --config path or omit it to use defaults",
				}
			}
			c.logger().Debug("No configuration file at %s, using defaults", c.Path)
		default:
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}
	}

	if err := c.applyEnv(def); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = def
	return nil
}

func (c *Config) applyEnv(def *Definition) error {
	lookup := c.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := map[string]*string{
		"POSTGRES_HOST":         &def.Store.Host,
		"POSTGRES_DB":           &def.Store.Database,
		"POSTGRES_USER":         &def.Store.User,
		"POSTGRES_PASSWORD":     &def.Store.Password,
		"POSTGRES_SSLMODE":      &def.Store.SSLMode,
		"SECRETSWEEP_DB_DRIVER": &def.Store.Driver,
		"SECRETSWEEP_TABLE":     &def.Store.Table,
		"SCRUBBER_URL":          &def.Scrubber.URL,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("POSTGRES_PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return dserrors.ConfigError{
				Field:      "POSTGRES_PORT",
				Value:      v,
				Message:    "port must be an integer",
				Suggestion: "Set POSTGRES_PORT to a number such as 5432",
			}
		}
		def.Store.Port = port
	}
	return nil
}

// Validate checks the merged configuration.
func (d *Definition) Validate() error {
	if d.Store.Port < 1 || d.Store.Port > 65535 {
		return dserrors.ConfigError{
			Field:   "store.port",
			Value:   d.Store.Port,
			Message: "port out of range",
		}
	}
	if d.Store.Keyring != nil && (d.Store.Keyring.Service == "" || d.Store.Keyring.Account == "") {
		return dserrors.ConfigError{
			Field:      "store.keyring",
			Message:    "keyring reference needs both service and account",
			Suggestion: "Set store.keyring.service and store.keyring.account",
		}
	}
	if d.Scrubber.Timeout < 0 {
		return dserrors.ConfigError{Field: "scrubber.timeout", Value: d.Scrubber.Timeout, Message: "timeout cannot be negative"}
	}
	if d.Scrubber.Workers < 0 {
		return dserrors.ConfigError{Field: "scrubber.workers", Value: d.Scrubber.Workers, Message: "workers cannot be negative"}
	}
	if d.Scrubber.RateLimit < 0 || d.Scrubber.Burst < 0 {
		return dserrors.ConfigError{Field: "scrubber.rate_limit", Value: d.Scrubber.RateLimit, Message: "rate limit and burst cannot be negative"}
	}
	return nil
}

// StoreConfig returns the connection settings for the message store. An
// empty password is filled from the keyring when a keyring entry is set.
func (c *Config) StoreConfig() (store.Config, error) {
	if c.Definition == nil {
		return store.Config{}, notLoaded()
	}
	s := c.Definition.Store
	cfg := store.Config{
		Driver:   s.Driver,
		Host:     s.Host,
		Port:     strconv.Itoa(s.Port),
		Database: s.Database,
		User:     s.User,
		Password: s.Password,
		SSLMode:  s.SSLMode,
		Table:    s.Table,
	}

	if cfg.Password == "" && s.Keyring != nil {
		pw, err := keyring.Get(s.Keyring.Service, s.Keyring.Account)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return store.Config{}, dserrors.ConfigError{
					Field:      "store.keyring",
					Value:      s.Keyring.Service + "/" + s.Keyring.Account,
					Message:    "keyring entry not found",
					Suggestion: "Store the database password in the OS keyring or set POSTGRES_PASSWORD",
				}
			}
			return store.Config{}, dserrors.UserError{
				Message:    "Failed to read database password from keyring",
				Details:    err.Error(),
				Suggestion: "Set POSTGRES_PASSWORD when no keyring service is available",
				Err:        err,
			}
		}
		c.logger().Debug("Database password read from keyring entry %s", s.Keyring.Service)
		cfg.Password = pw
	}
	return cfg, nil
}

// ScrubberOptions returns client options for the configured scrubber settings.
func (c *Config) ScrubberOptions() []scrubber.Option {
	if c.Definition == nil {
		return nil
	}
	s := c.Definition.Scrubber
	var opts []scrubber.Option
	if s.Timeout > 0 {
		opts = append(opts, scrubber.WithTimeout(s.Timeout))
	}
	if s.RateLimit > 0 {
		opts = append(opts, scrubber.WithRateLimit(s.RateLimit, s.Burst))
	}
	return opts
}

func (c *Config) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.Discard()
	}
	return c.Logger
}

func notLoaded() error {
	return dserrors.UserError{
		Message:    "Configuration not loaded",
		Suggestion: "This is an internal error. Please report it",
	}
}
