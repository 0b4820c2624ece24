package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/assess"
	"creditindexer/chain/evm"
	"creditindexer/cmd/internal/passphrase"
	"creditindexer/config"
	"creditindexer/observability/logging"
	telemetry "creditindexer/observability/otel"
)

const defaultPassEnv = "ASSESS_KEYSTORE_PASSPHRASE"

type operatorList []string

func (o *operatorList) String() string { return strings.Join(*o, ",") }

func (o *operatorList) Set(value string) error {
	*o = append(*o, value)
	return nil
}

func main() {
	configPath := flag.String("config", "./indexer.yaml", "path to indexer configuration")
	passEnv := flag.String("pass-env", defaultPassEnv, "environment variable containing the keystore passphrase")
	jsonOut := flag.Bool("json", false, "print the report as JSON")
	var extra operatorList
	flag.Var(&extra, "operator", "borrower operator address; repeatable, replaces assess.operators")
	flag.Parse()

	failed, err := run(*configPath, *passEnv, extra, *jsonOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(3)
	}
}

func run(configPath, passEnv string, override []string, jsonOut bool) (bool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireRPC(); err != nil {
		return false, err
	}
	if cfg.Contracts.CreditDesk == "" {
		return false, errors.New("contracts.credit_desk is required")
	}
	if cfg.Assess.Keystore == "" {
		return false, errors.New("assess.keystore is required")
	}
	operators, err := parseOperators(cfg.Assess.Operators, override)
	if err != nil {
		return false, err
	}
	logger := logging.SetupWithOptions("assessctl", cfg.Env, cfg.Logging.Options())

	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return false, err
	}
	key, err := assess.LoadKey(cfg.Assess.Keystore, pass, cfg.Assess.Account)
	if err != nil {
		return false, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.OTel("assessctl", cfg.Env, cfg.Chain.ChainID))
	if err != nil {
		return false, fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	client, err := evm.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", logging.RedactURL(cfg.Chain.RPCURL), err)
	}
	defer client.Close()

	runner, err := assess.NewRunner(client, key, common.HexToAddress(cfg.Contracts.CreditDesk),
		assess.WithGasLimit(cfg.Assess.GasLimit),
		assess.WithReceiptTimeout(cfg.Assess.Timeout()),
		assess.WithLogger(logger))
	if err != nil {
		return false, err
	}
	report, err := runner.Run(ctx, operators)
	if printErr := printReport(report, jsonOut); printErr != nil && err == nil {
		err = printErr
	}
	if err != nil {
		return false, err
	}
	return report.Failed(), nil
}

func parseOperators(configured, override []string) ([]common.Address, error) {
	raw := configured
	if len(override) > 0 {
		raw = override
	}
	if len(raw) == 0 {
		return nil, errors.New("no operators configured")
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if !common.IsHexAddress(entry) {
			return nil, fmt.Errorf("operator %q is not an address", entry)
		}
		out = append(out, common.HexToAddress(entry))
	}
	return out, nil
}

func printReport(report assess.Report, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s from %s\n", report.RunID, report.From.Hex())
	fmt.Fprintln(w, "FACILITY\tOPERATOR\tATTEMPTS\tSUCCESSES\tFAILURES\tLAST ERROR")
	for _, f := range report.Facilities {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", f.Facility.Hex(), f.Operator.Hex(), f.Attempts, f.Successes, f.Failures, f.LastError)
	}
	return w.Flush()
}
