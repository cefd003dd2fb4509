package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the process configuration. Values are layered as defaults, then
// the YAML file, then the environment, then command line flags.
type Config struct {
	Port            int      `yaml:"port"`
	Secret          string   `yaml:"secret"`
	TokenTTL        Duration `yaml:"tokenTTL"`
	SharedPassword  string   `yaml:"sharedPassword"`
	DatabaseURL     string   `yaml:"databaseURL"`
	OTLPEndpoint    string   `yaml:"otlpEndpoint"`
	Verbosity       int      `yaml:"verbosity"`
	Playground      bool     `yaml:"playground"`
	Introspection   bool     `yaml:"introspection"`
	ComplexityLimit int      `yaml:"complexityLimit"`
}

// Duration accepts time.ParseDuration strings in YAML.
type Duration time.Duration

var _ yaml.InterfaceUnmarshaler = (*Duration)(nil)
var _ yaml.InterfaceMarshaler = Duration(0)

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func Default() *Config {
	return &Config{
		Port:            8080,
		TokenTTL:        Duration(time.Hour),
		Playground:      true,
		Introspection:   true,
		ComplexityLimit: 1000,
	}
}

// Load reads path (when not empty) over the defaults and applies the
// environment found through lookupEnv.
func Load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookupEnv("SHELFQL_SECRET"); ok && v != "" {
		c.Secret = v
	}
	if v, ok := lookupEnv("SHELFQL_TOKEN_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHELFQL_TOKEN_TTL: %w", err)
		}
		c.TokenTTL = Duration(ttl)
	}
	if v, ok := lookupEnv("SHELFQL_SHARED_PASSWORD"); ok {
		c.SharedPassword = v
	}
	if v, ok := lookupEnv("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.OTLPEndpoint = v
	}
	if v, ok := lookupEnv("SHELFQL_VERBOSITY"); ok && v != "" {
		verbosity, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHELFQL_VERBOSITY: %w", err)
		}
		c.Verbosity = verbosity
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("tokenTTL must be positive"))
	}
	if c.ComplexityLimit < 0 {
		errs = append(errs, errors.New("complexityLimit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
