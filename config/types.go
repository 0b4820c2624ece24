package config

// Chain describes the RPC endpoint the indexer and the assessment CLI talk to.
type Chain struct {
	RPCURL            string  `yaml:"rpc_url" toml:"rpc_url"`
	ChainID           int64   `yaml:"chain_id" toml:"chain_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// Contracts is the static address book. Tranched pools and credit lines are
// discovered at runtime.
type Contracts struct {
	SeniorPool             string `yaml:"senior_pool" toml:"senior_pool"`
	Fidu                   string `yaml:"fidu" toml:"fidu"`
	GFI                    string `yaml:"gfi" toml:"gfi"`
	PoolTokens             string `yaml:"pool_tokens" toml:"pool_tokens"`
	BackerRewards          string `yaml:"backer_rewards" toml:"backer_rewards"`
	StakingRewards         string `yaml:"staking_rewards" toml:"staking_rewards"`
	WithdrawalRequestToken string `yaml:"withdrawal_request_token" toml:"withdrawal_request_token"`
	Factory                string `yaml:"factory" toml:"factory"`
	Config                 string `yaml:"config" toml:"config"`
	Zapper                 string `yaml:"zapper" toml:"zapper"`
	Go                     string `yaml:"go" toml:"go"`
	UniqueIdentity         string `yaml:"unique_identity" toml:"unique_identity"`
	CreditDesk             string `yaml:"credit_desk" toml:"credit_desk"`
}

// Store selects the entity store database.
type Store struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	Debug  bool   `yaml:"debug" toml:"debug"`
}

// Journal locates the block-hash journal.
type Journal struct {
	Path         string `yaml:"path" toml:"path"`
	RetainBlocks uint64 `yaml:"retain_blocks" toml:"retain_blocks"`
}

// Sync tunes the syncer loop.
type Sync struct {
	StartBlock    uint64 `yaml:"start_block" toml:"start_block"`
	Confirmations uint64 `yaml:"confirmations" toml:"confirmations"`
	BatchSize     uint64 `yaml:"batch_size" toml:"batch_size"`
	PollInterval  string `yaml:"poll_interval" toml:"poll_interval"`
}

// API configures the query surface.
type API struct {
	Listen      string  `yaml:"listen" toml:"listen"`
	AdminSecret string  `yaml:"admin_secret" toml:"admin_secret"`
	RateLimit   float64 `yaml:"rate_limit" toml:"rate_limit"`
	Burst       int     `yaml:"burst" toml:"burst"`
	MaxPageSize int     `yaml:"max_page_size" toml:"max_page_size"`
}

// Accounting carries the protocol constants the engine relies on.
type Accounting struct {
	DustThreshold          string   `yaml:"dust_threshold" toml:"dust_threshold"`
	LeverageStrategyCutoff uint64   `yaml:"leverage_strategy_cutoff" toml:"leverage_strategy_cutoff"`
	LeverageStrategy       string   `yaml:"leverage_strategy" toml:"leverage_strategy"`
	LegacyLeverageStrategy string   `yaml:"legacy_leverage_strategy" toml:"legacy_leverage_strategy"`
	LegacyPools            []string `yaml:"legacy_pools" toml:"legacy_pools"`
}

// Logging mirrors logging.Options.
type Logging struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// Assess configures the assessment CLI.
type Assess struct {
	Keystore       string   `yaml:"keystore" toml:"keystore"`
	Account        string   `yaml:"account" toml:"account"`
	Operators      []string `yaml:"operators" toml:"operators"`
	GasLimit       uint64   `yaml:"gas_limit" toml:"gas_limit"`
	ReceiptTimeout string   `yaml:"receipt_timeout" toml:"receipt_timeout"`
}
