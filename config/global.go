package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/contracts"
	"creditindexer/indexer"
	"creditindexer/numeric"
	"creditindexer/observability/logging"
	"creditindexer/observability/otel"
)

// AddressBook returns the configured static contracts keyed by role.
func (c Contracts) AddressBook() map[contracts.Role]common.Address {
	book := make(map[contracts.Role]common.Address)
	for _, field := range c.fields() {
		if *field.value != "" {
			book[field.role] = common.HexToAddress(*field.value)
		}
	}
	return book
}

// Registry builds a role registry from the address book.
func (c Contracts) Registry() *contracts.Registry {
	return contracts.NewRegistry(c.AddressBook())
}

// Engine parses the accounting constants into runtime values. Load has already
// validated them.
func (a Accounting) Engine() indexer.Config {
	engine := indexer.DefaultConfig()
	if dust, err := numeric.ParseInt(a.DustThreshold); err == nil {
		engine.DustThreshold = dust
	}
	if a.LeverageStrategyCutoff != 0 {
		engine.LeverageCutoff = a.LeverageStrategyCutoff
	}
	if a.LeverageStrategy != "" {
		engine.LeverageStrategy = common.HexToAddress(a.LeverageStrategy)
	}
	if a.LegacyLeverageStrategy != "" {
		engine.LegacyLeverageStrategy = common.HexToAddress(a.LegacyLeverageStrategy)
	}
	for _, pool := range a.LegacyPools {
		engine.LegacyPools = append(engine.LegacyPools, common.HexToAddress(pool))
	}
	return engine
}

// Interval is the parsed poll interval.
func (s Sync) Interval() time.Duration {
	d, err := parseDuration(s.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Timeout is the parsed receipt timeout.
func (a Assess) Timeout() time.Duration {
	d, err := parseDuration(a.ReceiptTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// Options converts the logging section.
func (l Logging) Options() logging.Options {
	return logging.Options{
		Level:      l.Level,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// OTel converts the telemetry section for service.
func (t Telemetry) OTel(service, env string, chainID int64) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: env,
		ChainID:     chainID,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     otel.ParseHeaders(t.Headers),
		Traces:      t.Traces,
		Metrics:     t.Metrics,
		SampleRatio: t.SampleRatio,
	}
}
