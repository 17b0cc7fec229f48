package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the autolister server and scheduler.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port              int    `yaml:"port"`
	Env               string `yaml:"env"`
	MigrationsDir     string `yaml:"migrations_dir"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectAttempts int           `yaml:"connect_attempts"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// WorkflowConfig describes how the workflow process is launched and the
// directory it shares with this service.
type WorkflowConfig struct {
	WorkDir     string        `yaml:"work_dir"`
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	ProfilesDir string        `yaml:"profiles_dir"`
	MaxListings int           `yaml:"max_listings"`
	MaxProfiles int           `yaml:"max_profiles"`
	StopGrace   time.Duration `yaml:"stop_grace"`
}

type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Lookahead   time.Duration `yaml:"lookahead"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	Pause       time.Duration `yaml:"pause"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Env:               "development",
			MigrationsDir:     "migrations",
			RequestsPerMinute: 120,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectAttempts: 5,
		},
		Workflow: WorkflowConfig{
			WorkDir:     ".",
			Command:     "python",
			Args:        []string{"Bot.py"},
			MaxListings: 50,
			MaxProfiles: 5,
			StopGrace:   10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:    60 * time.Second,
			Lookahead:   2 * time.Minute,
			ExecTimeout: 600 * time.Second,
			Pause:       5 * time.Second,
		},
	}
}

// Load reads the optional YAML file named by AUTOLISTER_CONFIG, applies
// environment variables on top and returns a validated Config. DATABASE_URL
// is required.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal is Load for commands that only touch the working directory and
// do not need a database.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(requireDatabase bool) (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("AUTOLISTER_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.Workflow.ProfilesDir == "" {
		cfg.Workflow.ProfilesDir = filepath.Join(cfg.Workflow.WorkDir, "profiles")
	}

	if requireDatabase && cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("AUTOLISTER_PORT", c.Server.Port)
	c.Server.Env = envString("AUTOLISTER_ENV", c.Server.Env)
	c.Server.MigrationsDir = envString("AUTOLISTER_MIGRATIONS_DIR", c.Server.MigrationsDir)
	c.Server.RequestsPerMinute = envInt("AUTOLISTER_REQUESTS_PER_MINUTE", c.Server.RequestsPerMinute)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnectAttempts = envInt("DATABASE_CONNECT_ATTEMPTS", c.Database.ConnectAttempts)

	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)

	c.Workflow.WorkDir = envString("AUTOLISTER_WORKDIR", c.Workflow.WorkDir)
	c.Workflow.Command = envString("AUTOLISTER_WORKFLOW_CMD", c.Workflow.Command)
	if v := os.Getenv("AUTOLISTER_WORKFLOW_ARGS"); v != "" {
		c.Workflow.Args = strings.Fields(v)
	}
	c.Workflow.ProfilesDir = envString("AUTOLISTER_PROFILES_DIR", c.Workflow.ProfilesDir)
	c.Workflow.MaxListings = envInt("AUTOLISTER_MAX_LISTINGS", c.Workflow.MaxListings)
	c.Workflow.MaxProfiles = envInt("AUTOLISTER_MAX_PROFILES", c.Workflow.MaxProfiles)
	c.Workflow.StopGrace = envDuration("AUTOLISTER_STOP_GRACE", c.Workflow.StopGrace)

	c.Scheduler.Interval = envDuration("SCHEDULER_INTERVAL", c.Scheduler.Interval)
	c.Scheduler.Lookahead = envDuration("SCHEDULER_LOOKAHEAD", c.Scheduler.Lookahead)
	c.Scheduler.ExecTimeout = envDuration("SCHEDULER_EXEC_TIMEOUT", c.Scheduler.ExecTimeout)
	c.Scheduler.Pause = envDuration("SCHEDULER_PAUSE", c.Scheduler.Pause)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("AUTOLISTER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Workflow.Command == "" {
		return fmt.Errorf("AUTOLISTER_WORKFLOW_CMD must not be empty")
	}
	if c.Workflow.MaxListings < 1 {
		return fmt.Errorf("AUTOLISTER_MAX_LISTINGS must be at least 1, got %d", c.Workflow.MaxListings)
	}
	if c.Workflow.MaxProfiles < 1 {
		return fmt.Errorf("AUTOLISTER_MAX_PROFILES must be at least 1, got %d", c.Workflow.MaxProfiles)
	}
	if c.Workflow.StopGrace <= 0 {
		return fmt.Errorf("AUTOLISTER_STOP_GRACE must be positive, got %s", c.Workflow.StopGrace)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.ExecTimeout <= 0 {
		return fmt.Errorf("SCHEDULER_EXEC_TIMEOUT must be positive, got %s", c.Scheduler.ExecTimeout)
	}
	if c.Scheduler.Lookahead < 0 || c.Scheduler.Pause < 0 {
		return fmt.Errorf("SCHEDULER_LOOKAHEAD and SCHEDULER_PAUSE must not be negative")
	}

	return nil
}

// RequireRedis reports an error when no Redis URL is configured. The
// dashboard server needs Redis; the standalone scheduler does not.
func (c *Config) RequireRedis() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
