package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"creditindexer/api"
	"creditindexer/chain/evm"
	"creditindexer/config"
	"creditindexer/indexer"
	"creditindexer/observability"
	"creditindexer/observability/logging"
	"creditindexer/observability/metrics"
	telemetry "creditindexer/observability/otel"
	"creditindexer/storage"
	"creditindexer/store"
	"creditindexer/syncer"
)

const serviceName = "indexerd"

func main() {
	var cfgPath string
	var serveOnly bool
	flag.StringVar(&cfgPath, "config", "./indexer.yaml", "path to indexer configuration (yaml or toml)")
	flag.BoolVar(&serveOnly, "serve-only", false, "serve the query API without syncing")
	flag.Parse()

	if err := run(cfgPath, serveOnly); err != nil {
		fmt.Fprintf(os.Stderr, "indexerd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string, serveOnly bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions(serviceName, cfg.Env, cfg.Logging.Options())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.OTel(serviceName, cfg.Env, cfg.Chain.ChainID))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN, Debug: cfg.Store.Debug})
	if err != nil {
		return err
	}
	defer st.Close()

	db, err := storage.NewLevelDB(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
	}
	defer db.Close()
	journal := storage.NewJournal(db)

	var sync api.Syncer
	var loop *syncer.Syncer
	if serveOnly {
		sync = journalStatus{journal: journal}
	} else {
		if err := cfg.RequireRPC(); err != nil {
			return err
		}
		client, err := evm.Dial(cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("dial %s: %w", logging.RedactURL(cfg.Chain.RPCURL), err)
		}
		defer client.Close()

		registry := cfg.Contracts.Registry()
		caller := evm.NewCaller(client, cfg.Chain.RequestsPerSecond, cfg.Chain.Burst)
		source := evm.NewSource(client, registry)
		engine := indexer.New(st, caller, registry, cfg.Accounting.Engine(),
			indexer.WithLogger(logger),
			indexer.WithMetrics(metrics.Indexer()),
			indexer.WithTracer(telemetry.Tracer("creditindexer/indexer")))
		loop = syncer.New(source, engine, st, journal,
			syncer.WithConfirmations(cfg.Sync.Confirmations),
			syncer.WithBatchSize(cfg.Sync.BatchSize),
			syncer.WithPollInterval(cfg.Sync.Interval()),
			syncer.WithRetainBlocks(cfg.Journal.RetainBlocks),
			syncer.WithStartBlock(cfg.Sync.StartBlock),
			syncer.WithLogger(logger),
			syncer.WithMetrics(metrics.Indexer(), observability.Events()))
		sync = loop
	}

	adminSecret := cfg.API.AdminSecret
	if serveOnly {
		adminSecret = ""
	}
	server, err := api.New(st, sync, api.Options{
		AdminSecret: adminSecret,
		RateLimit:   cfg.API.RateLimit,
		Burst:       cfg.API.Burst,
		MaxPageSize: cfg.API.MaxPageSize,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if adminSecret == "" {
		logger.Warn("replay endpoint disabled")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(groupCtx, cfg.API.Listen)
	})
	if loop != nil {
		group.Go(func() error {
			return loop.Run(groupCtx)
		})
	}
	logger.Info("indexer started",
		slog.String("store", cfg.Store.Driver),
		slog.String("journal", cfg.Journal.Path),
		slog.Bool("serve_only", serveOnly))

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer stopped", "error", err)
		return err
	}
	logger.Info("indexer stopped")
	return nil
}

// journalStatus reports the persisted cursor when no sync loop runs in this
// process. Rewinds cannot be queued from here.
type journalStatus struct {
	journal *storage.Journal
}

func (j journalStatus) Status() (syncer.Status, error) {
	cursor, started, err := j.journal.Cursor()
	if err != nil {
		return syncer.Status{}, err
	}
	return syncer.Status{Cursor: cursor, Started: started}, nil
}

func (journalStatus) RequestRewind(uint64) {}
