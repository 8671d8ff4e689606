package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Providers  ProvidersConfig     `json:"providers" yaml:"providers"`
	Analysis   AnalysisConfig      `json:"analysis" yaml:"analysis"`
	Cache      CacheConfig         `json:"cache" yaml:"cache"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

type ProvidersConfig struct {
	Gemini    ProviderConfig `json:"gemini" yaml:"gemini"`
	OpenAI    ProviderConfig `json:"openai" yaml:"openai"`
	Anthropic ProviderConfig `json:"anthropic" yaml:"anthropic"`
}

type ProviderConfig struct {
	APIKey     string  `json:"api_key" yaml:"api_key"`
	Model      string  `json:"model" yaml:"model"`
	Weight     float64 `json:"weight" yaml:"weight"`
	TimeoutSec int     `json:"timeout_sec" yaml:"timeout_sec"`
}

type AnalysisConfig struct {
	DeadlineSec     int     `json:"deadline_sec" yaml:"deadline_sec"`
	HeuristicWeight float64 `json:"heuristic_weight" yaml:"heuristic_weight"`
	MaxContentBytes int64   `json:"max_content_bytes" yaml:"max_content_bytes"`
	AnalyzeRPM      int     `json:"analyze_rpm" yaml:"analyze_rpm"`
}

type CacheConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	TTL           string `json:"ttl" yaml:"ttl"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "synthscan_session",
		},
		Providers: ProvidersConfig{
			Gemini:    ProviderConfig{Model: "gemini-2.0-flash", Weight: 0.40, TimeoutSec: 30},
			OpenAI:    ProviderConfig{Model: "gpt-4o-mini", Weight: 0.30, TimeoutSec: 20},
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-5-20250929", Weight: 0.30, TimeoutSec: 30},
		},
		Analysis: AnalysisConfig{
			DeadlineSec:     35,
			HeuristicWeight: 0.35,
			MaxContentBytes: 25 * 1024 * 1024,
			AnalyzeRPM:      12,
		},
		Cache: CacheConfig{
			TTL: "1h",
		},
		Observer: ObservabilityConfig{
			ServiceName: "synthscan-api",
			SampleRatio: 1,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		// Each sniffing attempt decodes into a fresh copy of the defaults
		// so a failed parse cannot leave half-applied values behind.
		attempt := DefaultServerConfig()
		if yamlErr := yaml.Unmarshal(data, &attempt); yamlErr == nil {
			cfg = attempt
			break
		}
		attempt = DefaultServerConfig()
		if err := json.Unmarshal(data, &attempt); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
		cfg = attempt
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "synthscan_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Analysis.DeadlineSec <= 0 {
		cfg.Analysis.DeadlineSec = 35
	}
	if cfg.Analysis.HeuristicWeight <= 0 || cfg.Analysis.HeuristicWeight > 1 {
		cfg.Analysis.HeuristicWeight = 0.35
	}
	if cfg.Analysis.MaxContentBytes <= 0 {
		cfg.Analysis.MaxContentBytes = 25 * 1024 * 1024
	}
	if cfg.Analysis.AnalyzeRPM <= 0 {
		cfg.Analysis.AnalyzeRPM = 12
	}
	if strings.TrimSpace(cfg.Cache.TTL) == "" {
		cfg.Cache.TTL = "1h"
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "synthscan-api"
	}
}
