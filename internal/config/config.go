package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "STEAMHARVEST_CONFIG"
	worklistPathEnv = "STEAMHARVEST_WORKLIST"
	outputPathEnv   = "STEAMHARVEST_OUTPUT"
	databaseDSNEnv  = "DATABASE_DSN"
	opsListenEnv    = "STEAMHARVEST_OPS_LISTEN"
	userAgentEnv    = "STEAMHARVEST_USER_AGENT"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	WorkList WorkListConfig `yaml:"worklist"`
	Steam    SteamConfig    `yaml:"steam"`
	Governor GovernorConfig `yaml:"governor"`
	Writer   WriterConfig   `yaml:"writer"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Postgres PostgresConfig `yaml:"postgres"`
	Ops      OpsConfig      `yaml:"ops"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WorkListConfig points at the discovery artifact to harvest.
type WorkListConfig struct {
	Path string `yaml:"path"`
}

// SteamConfig describes the upstream endpoints and HTTP behavior.
type SteamConfig struct {
	APIBaseURL            string `yaml:"apiBaseUrl"`
	StoreBaseURL          string `yaml:"storeBaseUrl"`
	UserAgent             string `yaml:"userAgent"`
	CountryCode           string `yaml:"countryCode"`
	Language              string `yaml:"language"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	MaxRetries            int    `yaml:"maxRetries"`
}

// RequestTimeout resolves the configured seconds to a duration.
func (s SteamConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// GovernorConfig bounds the adaptive concurrency controller.
type GovernorConfig struct {
	MinConcurrency       int     `yaml:"minConcurrency"`
	MaxConcurrency       int     `yaml:"maxConcurrency"`
	MinDelayMs           int     `yaml:"minDelayMs"`
	MaxDelayMs           int     `yaml:"maxDelayMs"`
	WindowSize           int     `yaml:"windowSize"`
	ThrottleThresholdPct float64 `yaml:"throttleThresholdPct"`
	HibernateMinutes     int     `yaml:"hibernateMinutes"`
}

// MinDelay resolves the configured floor delay to a duration.
func (g GovernorConfig) MinDelay() time.Duration {
	return time.Duration(g.MinDelayMs) * time.Millisecond
}

// MaxDelay resolves the configured ceiling delay to a duration.
func (g GovernorConfig) MaxDelay() time.Duration {
	return time.Duration(g.MaxDelayMs) * time.Millisecond
}

// Hibernation resolves the cooldown length to a duration.
func (g GovernorConfig) Hibernation() time.Duration {
	return time.Duration(g.HibernateMinutes) * time.Minute
}

// WriterConfig describes the checkpointed output store.
type WriterConfig struct {
	OutputPath string `yaml:"outputPath"`
	ChunkSize  int    `yaml:"chunkSize"`
}

// LedgerConfig points at the SQLite run ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig enables the optional relational mirror when DSN is set.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	MaxConns int    `yaml:"maxConns"`
}

// OpsConfig exposes health and metrics endpoints when Listen is set.
type OpsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.WorkList.Path == "" {
		return fmt.Errorf("worklist: path is required")
	}
	if c.Writer.OutputPath == "" {
		return fmt.Errorf("writer: outputPath is required")
	}
	if c.Writer.ChunkSize < 1 {
		return fmt.Errorf("writer: chunkSize must be positive, got %d", c.Writer.ChunkSize)
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger: path is required")
	}
	if c.Steam.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("steam: requestTimeoutSeconds must be positive, got %d", c.Steam.RequestTimeoutSeconds)
	}
	if c.Steam.MaxRetries < 1 {
		return fmt.Errorf("steam: maxRetries must be positive, got %d", c.Steam.MaxRetries)
	}

	g := c.Governor
	if g.MinConcurrency < 1 {
		return fmt.Errorf("governor: minConcurrency must be positive, got %d", g.MinConcurrency)
	}
	if g.MinConcurrency > g.MaxConcurrency {
		return fmt.Errorf("governor: minConcurrency %d exceeds maxConcurrency %d", g.MinConcurrency, g.MaxConcurrency)
	}
	if g.MinDelayMs < 1 {
		return fmt.Errorf("governor: minDelayMs must be positive, got %d", g.MinDelayMs)
	}
	if g.MinDelayMs > g.MaxDelayMs {
		return fmt.Errorf("governor: minDelayMs %d exceeds maxDelayMs %d", g.MinDelayMs, g.MaxDelayMs)
	}
	if g.WindowSize < 1 {
		return fmt.Errorf("governor: windowSize must be positive, got %d", g.WindowSize)
	}
	if g.ThrottleThresholdPct <= 0 || g.ThrottleThresholdPct > 100 {
		return fmt.Errorf("governor: throttleThresholdPct must be in (0, 100], got %g", g.ThrottleThresholdPct)
	}
	if g.HibernateMinutes < 1 {
		return fmt.Errorf("governor: hibernateMinutes must be positive, got %d", g.HibernateMinutes)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(worklistPathEnv); v != "" {
		c.WorkList.Path = v
	}

	if v := os.Getenv(outputPathEnv); v != "" {
		c.Writer.OutputPath = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Postgres.DSN = v
	}

	if v := os.Getenv(opsListenEnv); v != "" {
		c.Ops.Listen = v
	}

	if v := os.Getenv(userAgentEnv); v != "" {
		c.Steam.UserAgent = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.WorkList.Path != "" {
		base.WorkList.Path = override.WorkList.Path
	}

	if override.Steam.APIBaseURL != "" {
		base.Steam.APIBaseURL = override.Steam.APIBaseURL
	}
	if override.Steam.StoreBaseURL != "" {
		base.Steam.StoreBaseURL = override.Steam.StoreBaseURL
	}
	if override.Steam.UserAgent != "" {
		base.Steam.UserAgent = override.Steam.UserAgent
	}
	if override.Steam.CountryCode != "" {
		base.Steam.CountryCode = override.Steam.CountryCode
	}
	if override.Steam.Language != "" {
		base.Steam.Language = override.Steam.Language
	}
	if override.Steam.RequestTimeoutSeconds > 0 {
		base.Steam.RequestTimeoutSeconds = override.Steam.RequestTimeoutSeconds
	}
	if override.Steam.MaxRetries > 0 {
		base.Steam.MaxRetries = override.Steam.MaxRetries
	}

	if override.Governor.MinConcurrency > 0 {
		base.Governor.MinConcurrency = override.Governor.MinConcurrency
	}
	if override.Governor.MaxConcurrency > 0 {
		base.Governor.MaxConcurrency = override.Governor.MaxConcurrency
	}
	if override.Governor.MinDelayMs > 0 {
		base.Governor.MinDelayMs = override.Governor.MinDelayMs
	}
	if override.Governor.MaxDelayMs > 0 {
		base.Governor.MaxDelayMs = override.Governor.MaxDelayMs
	}
	if override.Governor.WindowSize > 0 {
		base.Governor.WindowSize = override.Governor.WindowSize
	}
	if override.Governor.ThrottleThresholdPct > 0 {
		base.Governor.ThrottleThresholdPct = override.Governor.ThrottleThresholdPct
	}
	if override.Governor.HibernateMinutes > 0 {
		base.Governor.HibernateMinutes = override.Governor.HibernateMinutes
	}

	if override.Writer.OutputPath != "" {
		base.Writer.OutputPath = override.Writer.OutputPath
	}
	if override.Writer.ChunkSize > 0 {
		base.Writer.ChunkSize = override.Writer.ChunkSize
	}

	if override.Ledger.Path != "" {
		base.Ledger.Path = override.Ledger.Path
	}

	if override.Postgres.DSN != "" {
		base.Postgres.DSN = override.Postgres.DSN
	}
	if override.Postgres.Table != "" {
		base.Postgres.Table = override.Postgres.Table
	}
	if override.Postgres.MaxConns > 0 {
		base.Postgres.MaxConns = override.Postgres.MaxConns
	}

	if override.Ops.Listen != "" {
		base.Ops.Listen = override.Ops.Listen
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		WorkList: WorkListConfig{Path: "data/all_app_ids.txt"},
		Steam: SteamConfig{
			APIBaseURL:            "https://store.steampowered.com",
			StoreBaseURL:          "https://store.steampowered.com",
			UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) steamharvest/1.0",
			CountryCode:           "FR",
			Language:              "french",
			RequestTimeoutSeconds: 30,
			MaxRetries:            3,
		},
		Governor: GovernorConfig{
			MinConcurrency:       1,
			MaxConcurrency:       8,
			MinDelayMs:           2000,
			MaxDelayMs:           30000,
			WindowSize:           50,
			ThrottleThresholdPct: 20,
			HibernateMinutes:     30,
		},
		Writer: WriterConfig{
			OutputPath: "data/steam_apps.jsonl",
			ChunkSize:  50,
		},
		Ledger:   LedgerConfig{Path: "data/harvest.db"},
		Postgres: PostgresConfig{DSN: "", Table: "steam_apps", MaxConns: 2},
		Ops:      OpsConfig{Listen: ""},
	}
}
