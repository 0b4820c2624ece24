package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/contracts"
	"creditindexer/numeric"
)

type addressField struct {
	name  string
	role  contracts.Role
	value *string
}

func (c *Contracts) fields() []addressField {
	return []addressField{
		{"senior_pool", contracts.RoleSeniorPool, &c.SeniorPool},
		{"fidu", contracts.RoleFidu, &c.Fidu},
		{"gfi", contracts.RoleGFI, &c.GFI},
		{"pool_tokens", contracts.RolePoolTokens, &c.PoolTokens},
		{"backer_rewards", contracts.RoleBackerRewards, &c.BackerRewards},
		{"staking_rewards", contracts.RoleStakingRewards, &c.StakingRewards},
		{"withdrawal_request_token", contracts.RoleWithdrawalRequestToken, &c.WithdrawalRequestToken},
		{"factory", contracts.RoleFactory, &c.Factory},
		{"config", contracts.RoleConfig, &c.Config},
		{"zapper", contracts.RoleZapper, &c.Zapper},
		{"go", contracts.RoleGo, &c.Go},
		{"unique_identity", contracts.RoleUniqueIdentity, &c.UniqueIdentity},
		{"credit_desk", contracts.RoleCreditDesk, &c.CreditDesk},
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Chain.ChainID < 0 {
		return fmt.Errorf("chain: chain_id must not be negative")
	}
	if err := cfg.Contracts.validate(); err != nil {
		return fmt.Errorf("contracts: %w", err)
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store: dsn required")
	}
	if _, err := parseDuration(cfg.Sync.PollInterval); err != nil {
		return fmt.Errorf("sync: poll_interval: %w", err)
	}
	if err := cfg.Accounting.validate(); err != nil {
		return fmt.Errorf("accounting: %w", err)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if cfg.Assess.Account != "" && !common.IsHexAddress(cfg.Assess.Account) {
		return fmt.Errorf("assess: account %q is not an address", cfg.Assess.Account)
	}
	for _, op := range cfg.Assess.Operators {
		if !common.IsHexAddress(op) {
			return fmt.Errorf("assess: operator %q is not an address", op)
		}
	}
	if _, err := parseDuration(cfg.Assess.ReceiptTimeout); err != nil {
		return fmt.Errorf("assess: receipt_timeout: %w", err)
	}
	return nil
}

func (c Contracts) validate() error {
	for _, field := range c.fields() {
		if *field.value != "" && !common.IsHexAddress(*field.value) {
			return fmt.Errorf("%s: %q is not an address", field.name, *field.value)
		}
	}
	if c.SeniorPool == "" {
		return fmt.Errorf("senior_pool required")
	}
	if c.Factory == "" {
		return fmt.Errorf("factory required")
	}
	return nil
}

func (a Accounting) validate() error {
	dust, err := numeric.ParseInt(a.DustThreshold)
	if err != nil {
		return fmt.Errorf("dust_threshold: %w", err)
	}
	if dust.Sign() < 0 {
		return fmt.Errorf("dust_threshold must not be negative")
	}
	for name, addr := range map[string]string{
		"leverage_strategy":        a.LeverageStrategy,
		"legacy_leverage_strategy": a.LegacyLeverageStrategy,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: %q is not an address", name, addr)
		}
	}
	for _, pool := range a.LegacyPools {
		if !common.IsHexAddress(pool) {
			return fmt.Errorf("legacy_pools: %q is not an address", pool)
		}
	}
	return nil
}

// RequireRPC reports whether the chain endpoint needed by networked commands is
// configured.
func (cfg Config) RequireRPC() error {
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain: rpc_url required (or set %s)", EnvRPCURL)
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
