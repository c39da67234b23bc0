package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AdamBeresnev/dartsturnier/internal/db"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	ThrowCache ThrowCacheConfig `yaml:"throw_cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// sqlite3 or postgres
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	SessionLifetime time.Duration `yaml:"session_lifetime"`
}

type SchedulerConfig struct {
	// Fill free boards automatically whenever a match finishes or a board is released
	AutoAssign       bool `yaml:"auto_assign"`
	MaxAssignRetries int  `yaml:"max_assign_retries"`
}

type ThrowCacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: db.DriverSQLite,
			DSN:    "dartsturnier.db",
		},
		Auth: AuthConfig{
			SessionLifetime: 12 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			AutoAssign:       true,
			MaxAssignRetries: 3,
		},
		ThrowCache: ThrowCacheConfig{
			TTL:           30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the YAML file on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AUTO_ASSIGN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTO_ASSIGN value: %w", err)
		}
		c.Scheduler.AutoAssign = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Scheduler.MaxAssignRetries < 1 {
		return fmt.Errorf("scheduler.max_assign_retries must be positive, got %d", c.Scheduler.MaxAssignRetries)
	}
	if c.ThrowCache.TTL <= 0 || c.ThrowCache.SweepInterval <= 0 {
		return errors.New("throw_cache ttl and sweep_interval must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return errors.New("rate_limit rps and burst must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}
