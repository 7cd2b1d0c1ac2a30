// Package config loads course-advisor settings in layers: built-in
// defaults, an optional YAML file, then COURSE_ADVISOR_* environment
// variables. Nested keys use a double underscore in env names, so
// COURSE_ADVISOR_CACHE__MODEL_TTL sets cache.model_ttl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COURSE_ADVISOR_"

// PathEnvVar names a config file when --config is not given.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths are searched when no path is given.
var DefaultPaths = []string{"course-advisor.yaml", "course-advisor.yml"}

type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Recommend RecommendConfig `koanf:"recommend"`
	Training  TrainingConfig  `koanf:"training"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
}

type DatabaseConfig struct {
	// DSN is a SQLite path or a mysql:// URL. Empty means the default
	// path under the home directory.
	DSN string `koanf:"dsn"`
}

type CacheConfig struct {
	// Backend is memory or redis.
	Backend           string        `koanf:"backend"`
	RedisURL          string        `koanf:"redis_url"`
	ModelTTL          time.Duration `koanf:"model_ttl"`
	RecommendationTTL time.Duration `koanf:"recommendation_ttl"`
	ProfileStatusTTL  time.Duration `koanf:"profile_status_ttl"`
}

type RecommendConfig struct {
	MinSkillsRequired int     `koanf:"min_skills_required"`
	MinScoreThreshold float64 `koanf:"min_score_threshold"`
	MaxResults        int     `koanf:"max_results"`
	UseClassifier     bool    `koanf:"use_classifier"`
	CourseLimit       int     `koanf:"course_limit"`
}

type TrainingConfig struct {
	MinRows  int   `koanf:"min_rows"`
	Trees    int   `koanf:"trees"`
	Seed     int64 `koanf:"seed"`
	MaxDepth int   `koanf:"max_depth"`
	// RefreshInterval rebuilds the training set in the background.
	// Zero disables the refresher.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	Timeout          time.Duration `koanf:"timeout"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// RateLimit is requests per RateWindow per client IP. Zero disables.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:           "memory",
			ModelTTL:          24 * time.Hour,
			RecommendationTTL: 6 * time.Hour,
			ProfileStatusTTL:  5 * time.Minute,
		},
		Recommend: RecommendConfig{
			MinSkillsRequired: 3,
			MinScoreThreshold: 0.5,
			MaxResults:        10,
			UseClassifier:     true,
			CourseLimit:       200,
		},
		Training: TrainingConfig{
			MinRows: 5,
			Trees:   200,
			Seed:    42,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
		Server: ServerConfig{Addr: ":8080", RateLimit: 120, RateWindow: time.Minute},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty, in which case
// PathEnvVar and then DefaultPaths are consulted; a missing file is not an
// error unless path was given explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps COURSE_ADVISOR_CACHE__MODEL_TTL to cache.model_ttl.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q (want memory or redis)", c.Cache.Backend)
	}
	if c.Cache.ModelTTL <= 0 || c.Cache.RecommendationTTL <= 0 || c.Cache.ProfileStatusTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Recommend.MinSkillsRequired < 0 {
		return fmt.Errorf("recommend.min_skills_required must be >= 0")
	}
	if c.Recommend.MinScoreThreshold < 0 {
		return fmt.Errorf("recommend.min_score_threshold must be >= 0")
	}
	if c.Recommend.MaxResults <= 0 {
		return fmt.Errorf("recommend.max_results must be positive")
	}
	if c.Training.MinRows < 0 || c.Training.Trees < 0 || c.Training.MaxDepth < 0 {
		return fmt.Errorf("training sizes must be >= 0")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateWindow <= 0) {
		return fmt.Errorf("server.rate_window must be positive when rate limiting")
	}
	if c.Training.RefreshInterval < 0 {
		return fmt.Errorf("training.refresh_interval must be >= 0")
	}
	return nil
}

// DSN returns the configured DSN or the default SQLite path.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".course-advisor", "advisor.db")
}
