package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/scan"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	General  GeneralConfig     `yaml:"general"`
	Server   ServerConfig      `yaml:"server"`
	Chains   []chains.Chain    `yaml:"chains"`
	Scan     ScanConfig        `yaml:"scan"`
	Metadata MetadataConfig    `yaml:"metadata"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Refresh  RefreshConfig     `yaml:"refresh"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type ServerConfig struct {
	Port          int `yaml:"port"`
	ReadTimeoutS  int `yaml:"read_timeout_s"`
	WriteTimeoutS int `yaml:"write_timeout_s"`
}

type ScanConfig struct {
	// Bearer token for the scan API. Optional; public rate limits apply
	// without it.
	APIKey   string              `yaml:"api_key"`
	Scanner  scan.ScannerConfig  `yaml:"scanner"`
	LiveTail scan.LiveTailConfig `yaml:"live_tail"`
}

type MetadataConfig struct {
	BaseURL string `yaml:"base_url"`
}

type RefreshConfig struct {
	Enabled             bool `yaml:"enabled"`
	IntervalMinutes     int  `yaml:"interval_minutes"`
	NewTokenDays        int  `yaml:"new_token_days"`
	MaxNewTokens        int  `yaml:"max_new_tokens"`
	NewTokenConcurrency int  `yaml:"new_token_concurrency"`
	RescoreConcurrency  int  `yaml:"rescore_concurrency"`
}

// Load reads and parses a YAML configuration file. Environment variables in
// the file are expanded before parsing. A missing file is not fatal and
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(cfg)
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "pulsehound-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutS == 0 {
		cfg.Server.ReadTimeoutS = 120
	}
	if cfg.Server.WriteTimeoutS == 0 {
		cfg.Server.WriteTimeoutS = 120
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = chains.DefaultChains()
	}
	if cfg.Scan.Scanner.PageLimit == 0 {
		cfg.Scan.Scanner = scan.DefaultScannerConfig()
	}
	if cfg.Scan.LiveTail.ReconnectDelayMs == 0 {
		tail := scan.DefaultLiveTailConfig()
		tail.Enabled = cfg.Scan.LiveTail.Enabled
		tail.WSEndpoint = cfg.Scan.LiveTail.WSEndpoint
		cfg.Scan.LiveTail = tail
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis = cache.DefaultRedisConfig()
	}
	if cfg.Refresh.IntervalMinutes == 0 {
		cfg.Refresh.IntervalMinutes = 60
	}
	if cfg.Refresh.NewTokenDays == 0 {
		cfg.Refresh.NewTokenDays = 1
	}
	if cfg.Refresh.MaxNewTokens == 0 {
		cfg.Refresh.MaxNewTokens = 500
	}
	if cfg.Refresh.NewTokenConcurrency == 0 {
		cfg.Refresh.NewTokenConcurrency = 10
	}
	if cfg.Refresh.RescoreConcurrency == 0 {
		cfg.Refresh.RescoreConcurrency = 10
	}
}

// applyEnv overlays ad-hoc environment settings: the scan bearer token, the
// redis address and per-chain RPC fallbacks (RPC_FALLBACK_<chainID>). All
// are optional.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SCAN_API_KEY"); v != "" && cfg.Scan.APIKey == "" {
		cfg.Scan.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	for i, c := range cfg.Chains {
		if c.RPCFallback == "" {
			if v := os.Getenv("RPC_FALLBACK_" + strconv.FormatInt(c.ID, 10)); v != "" {
				cfg.Chains[i].RPCFallback = v
			}
		}
	}
}
