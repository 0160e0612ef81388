// Package config loads promptseq configuration from an optional YAML file
// and from environment variables. Every setting has a default so the server
// starts with no configuration at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the promptseq server.
type Config struct {
	ProjectName string        `yaml:"project_name"`
	Server      ServerConfig  `yaml:"server"`
	Database    DBConfig      `yaml:"database"`
	Auth        AuthConfig    `yaml:"auth"`
	LLM         LLMConfig     `yaml:"llm"`
	Engine      EngineConfig  `yaml:"engine"`
	Logging     LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CORSOrigins is the list of allowed origins for browser clients.
	CORSOrigins []string `yaml:"cors_origins"`
}

type DBConfig struct {
	// URL accepts sqlite DSNs (a bare path, file: URL or :memory:) and
	// postgres:// URLs.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	SecretKey   string        `yaml:"secret_key"`
	Algorithm   string        `yaml:"algorithm"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	// FailFast stops a run at the first failed block instead of the default
	// continue-on-error policy.
	FailFast bool `yaml:"fail_fast"`

	// FanOutLimit bounds concurrent LLM calls within one list or matrix block.
	FanOutLimit int `yaml:"fan_out_limit"`

	// SyncRuns executes runs inside the POST /runs request instead of the
	// background runner. Intended for tests and small deployments.
	SyncRuns bool `yaml:"sync_runs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ProjectName: "promptseq",
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Database: DBConfig{
			URL:             "promptseq.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
		},
		Auth: AuthConfig{
			SecretKey:   "change-me",
			Algorithm:   "HS256",
			TokenExpiry: 30 * time.Minute,
		},
		LLM: LLMConfig{
			DefaultModel: "claude-3-opus-20240229",
			MaxTokens:    2048,
			Timeout:      90 * time.Second,
		},
		Engine: EngineConfig{
			FanOutLimit: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that precedence order. A .env file in the
// working directory is read first when present.
func Load(path string) (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the environment variables of the deployment contract.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.Auth.SecretKey = v
	}
	if v := os.Getenv("ALGORITHM"); v != "" {
		c.Auth.Algorithm = v
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			c.Auth.TokenExpiry = time.Duration(minutes) * time.Minute
		}
	}
	if v := os.Getenv("CLAUDE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("BACKEND_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Fields(v)
	}
	if v := os.Getenv("PROMPTSEQ_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PROMPTSEQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PROMPTSEQ_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROMPTSEQ_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("PROMPTSEQ_FAIL_FAST"); v != "" {
		c.Engine.FailFast = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PROMPTSEQ_SYNC_RUNS"); v != "" {
		c.Engine.SyncRuns = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported token algorithm %q", c.Auth.Algorithm)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Engine.FanOutLimit < 1 {
		return fmt.Errorf("fan_out_limit must be >= 1")
	}
	return nil
}
