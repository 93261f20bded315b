// Package config loads driver settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. BINNED_OPS.
const Prefix = "BINNED"

// Config validation errors
var (
	ErrInvalidOps          = errors.New("ops must be positive")
	ErrInvalidWorkers      = errors.New("workers must be positive")
	ErrWorkersExceedOps    = errors.New("workers must not exceed ops")
	ErrInvalidPageSize     = errors.New("page_size must be 0 or a power of two between 4096 and 65536")
	ErrInvalidAddressLimit = errors.New("address_limit must be a power of two")
	ErrInvalidProfile      = errors.New("profile must be empty, 'cpu' or 'mem'")
	ErrInvalidLogFormat    = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel     = errors.New("log_level must be debug, info, warn, or error")
)

// Config drives the benchmark binaries.
type Config struct {
	Ops     int `envconfig:"OPS" default:"2500000"`
	Workers int `envconfig:"WORKERS" default:"1"`

	PageSize      int    `envconfig:"PAGE_SIZE" default:"0"` // 0 means the OS page size
	AddressLimit  uint64 `envconfig:"ADDRESS_LIMIT" default:"0"`
	CacheOSAllocs bool   `envconfig:"CACHE_OS_ALLOCS" default:"true"`
	Validate      bool   `envconfig:"VALIDATE" default:"false"` // validate the heap after the run

	Profile     string `envconfig:"PROFILE"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Ops:           2500000,
		Workers:       1,
		CacheOSAllocs: true,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load reads the optional .env files, then the environment, and validates
// the result.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns the first problem found in cfg.
func Validate(cfg *Config) error {
	if cfg.Ops <= 0 {
		return ErrInvalidOps
	}
	if cfg.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if cfg.Workers > cfg.Ops {
		return ErrWorkersExceedOps
	}
	if ps := cfg.PageSize; ps != 0 && (ps&(ps-1) != 0 || ps < 4096 || ps > 65536) {
		return ErrInvalidPageSize
	}
	if cfg.AddressLimit&(cfg.AddressLimit-1) != 0 {
		return ErrInvalidAddressLimit
	}
	if cfg.Profile != "" && cfg.Profile != "cpu" && cfg.Profile != "mem" {
		return ErrInvalidProfile
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}
