// Package config loads the YAML or TOML configuration shared by every binary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"creditindexer/indexer"
)

// Environment variables that override secrets and deployment specifics.
const (
	EnvRPCURL      = "INDEXER_RPC_URL"
	EnvStoreDSN    = "INDEXER_STORE_DSN"
	EnvAdminSecret = "INDEXER_ADMIN_SECRET"
	EnvEnvironment = "INDEXER_ENV"
)

// Config captures the runtime settings for the indexer binaries.
type Config struct {
	Env        string     `yaml:"env" toml:"env"`
	Chain      Chain      `yaml:"chain" toml:"chain"`
	Contracts  Contracts  `yaml:"contracts" toml:"contracts"`
	Store      Store      `yaml:"store" toml:"store"`
	Journal    Journal    `yaml:"journal" toml:"journal"`
	Sync       Sync       `yaml:"sync" toml:"sync"`
	API        API        `yaml:"api" toml:"api"`
	Accounting Accounting `yaml:"accounting" toml:"accounting"`
	Logging    Logging    `yaml:"logging" toml:"logging"`
	Telemetry  Telemetry  `yaml:"telemetry" toml:"telemetry"`
	Assess     Assess     `yaml:"assess" toml:"assess"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Env: "dev",
		Chain: Chain{
			RequestsPerSecond: 25,
			Burst:             50,
		},
		Store: Store{
			Driver: "sqlite",
			DSN:    "file:indexer.db?_pragma=busy_timeout(5000)",
		},
		Journal: Journal{
			Path:         "./data/journal",
			RetainBlocks: 10_000,
		},
		Sync: Sync{
			Confirmations: 12,
			BatchSize:     500,
			PollInterval:  "5s",
		},
		API: API{
			Listen:      ":8080",
			RateLimit:   20,
			Burst:       40,
			MaxPageSize: 1000,
		},
		Accounting: Accounting{
			DustThreshold:          indexer.DefaultDustThreshold,
			LeverageStrategyCutoff: indexer.DefaultLeverageCutoff,
		},
		Logging: Logging{Level: "info"},
		Assess: Assess{
			GasLimit:       500_000,
			ReceiptTimeout: "2m",
		},
	}
}

// Load reads the file at path, chosen by extension, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config: unknown key %s", undecoded[0].String())
		}
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRPCURL); ok && strings.TrimSpace(v) != "" {
		cfg.Chain.RPCURL = v
	}
	if v, ok := lookup(EnvStoreDSN); ok && strings.TrimSpace(v) != "" {
		cfg.Store.DSN = v
	}
	if v, ok := lookup(EnvAdminSecret); ok && strings.TrimSpace(v) != "" {
		cfg.API.AdminSecret = v
	}
	if v, ok := lookup(EnvEnvironment); ok && strings.TrimSpace(v) != "" {
		cfg.Env = v
	}
}

func (cfg *Config) normalize() {
	defaults := Default()
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.Chain.RPCURL = strings.TrimSpace(cfg.Chain.RPCURL)
	if cfg.Chain.RequestsPerSecond <= 0 {
		cfg.Chain.RequestsPerSecond = defaults.Chain.RequestsPerSecond
	}
	if cfg.Chain.Burst <= 0 {
		cfg.Chain.Burst = defaults.Chain.Burst
	}

	cfg.Contracts.normalize()

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	cfg.Store.DSN = strings.TrimSpace(cfg.Store.DSN)

	cfg.Journal.Path = strings.TrimSpace(cfg.Journal.Path)
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}

	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = defaults.Sync.BatchSize
	}
	cfg.Sync.PollInterval = strings.TrimSpace(cfg.Sync.PollInterval)
	if cfg.Sync.PollInterval == "" {
		cfg.Sync.PollInterval = defaults.Sync.PollInterval
	}

	cfg.API.Listen = strings.TrimSpace(cfg.API.Listen)
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	cfg.API.AdminSecret = strings.TrimSpace(cfg.API.AdminSecret)
	if cfg.API.RateLimit <= 0 {
		cfg.API.RateLimit = defaults.API.RateLimit
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = defaults.API.Burst
	}
	if cfg.API.MaxPageSize <= 0 {
		cfg.API.MaxPageSize = defaults.API.MaxPageSize
	}

	cfg.Accounting.DustThreshold = strings.TrimSpace(cfg.Accounting.DustThreshold)
	if cfg.Accounting.DustThreshold == "" {
		cfg.Accounting.DustThreshold = defaults.Accounting.DustThreshold
	}
	if cfg.Accounting.LeverageStrategyCutoff == 0 {
		cfg.Accounting.LeverageStrategyCutoff = defaults.Accounting.LeverageStrategyCutoff
	}
	cfg.Accounting.LeverageStrategy = strings.TrimSpace(cfg.Accounting.LeverageStrategy)
	cfg.Accounting.LegacyLeverageStrategy = strings.TrimSpace(cfg.Accounting.LegacyLeverageStrategy)
	cfg.Accounting.LegacyPools = trimAll(cfg.Accounting.LegacyPools)

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)

	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)

	cfg.Assess.Keystore = strings.TrimSpace(cfg.Assess.Keystore)
	cfg.Assess.Account = strings.TrimSpace(cfg.Assess.Account)
	cfg.Assess.Operators = trimAll(cfg.Assess.Operators)
	if cfg.Assess.GasLimit == 0 {
		cfg.Assess.GasLimit = defaults.Assess.GasLimit
	}
	cfg.Assess.ReceiptTimeout = strings.TrimSpace(cfg.Assess.ReceiptTimeout)
	if cfg.Assess.ReceiptTimeout == "" {
		cfg.Assess.ReceiptTimeout = defaults.Assess.ReceiptTimeout
	}
}

func (c *Contracts) normalize() {
	for _, field := range c.fields() {
		*field.value = strings.TrimSpace(*field.value)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
