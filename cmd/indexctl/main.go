package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"creditindexer/config"
	"creditindexer/exports"
	"creditindexer/observability/logging"
	"creditindexer/storage"
	"creditindexer/store"
	"creditindexer/syncer"
)

const (
	defaultConfig   = "./indexer.yaml"
	adminTokenEnv   = "INDEXER_ADMIN_TOKEN"
	defaultTokenTTL = time.Hour
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "rewind":
		err = runRewind(ctx, os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: indexctl <command> [flags]

commands:
  export   write the transaction audit log as parquet or jsonl
  rewind   rewind the store to a block, offline or through the admin API
  status   print the persisted sync cursor
  token    mint an admin bearer token from the configured secret`)
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(store.Options{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN, Debug: cfg.Store.Debug})
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to indexer configuration")
	format := fs.String("format", "jsonl", "output format: parquet or jsonl")
	out := fs.String("out", "-", "output file, - for stdout (jsonl only)")
	category := fs.String("category", "", "only this transaction category")
	user := fs.String("user", "", "only transactions of this address")
	from := fs.Uint64("from", 0, "first block, inclusive")
	to := fs.Uint64("to", 0, "last block, inclusive; 0 for no bound")
	_ = fs.Parse(args)

	f, err := exports.ParseFormat(*format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	filter := exports.Filter{Category: *category, User: *user, FromBlock: *from, ToBlock: *to}
	var n int
	if *out == "-" {
		if f == exports.FormatParquet {
			return errors.New("parquet export needs -out")
		}
		n, err = exports.Export(ctx, st, os.Stdout, f, filter)
	} else {
		n, err = exports.ExportFile(ctx, st, *out, f, filter)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d transactions\n", n)
	return nil
}

func runRewind(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rewind", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to indexer configuration")
	to := fs.Int64("to", -1, "block to rewind to")
	endpoint := fs.String("api", "", "queue the rewind on a running indexer at this base URL instead")
	_ = fs.Parse(args)

	if *to < 0 {
		return errors.New("-to is required")
	}
	if *endpoint != "" {
		return requestReplay(ctx, *endpoint, uint64(*to))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := logging.SetupWithOptions("indexctl", cfg.Env, cfg.Logging.Options())
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	db, err := storage.NewLevelDB(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal %s (is indexerd running?): %w", cfg.Journal.Path, err)
	}
	defer db.Close()

	s := syncer.New(nil, nil, st, storage.NewJournal(db),
		syncer.WithRetainBlocks(cfg.Journal.RetainBlocks),
		syncer.WithLogger(logger))
	if err := s.Rewind(ctx, uint64(*to)); err != nil {
		return err
	}
	fmt.Printf("rewound to block %d\n", *to)
	return nil
}

func requestReplay(ctx context.Context, endpoint string, to uint64) error {
	token := strings.TrimSpace(os.Getenv(adminTokenEnv))
	if token == "" {
		return fmt.Errorf("%s must hold an admin token; see indexctl token", adminTokenEnv)
	}
	body, err := json.Marshal(map[string]uint64{"toBlock": to})
	if err != nil {
		return err
	}
	url := strings.TrimRight(endpoint, "/") + "/admin/replay"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("replay rejected: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	fmt.Println(strings.TrimSpace(string(payload)))
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to indexer configuration")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	db, err := storage.NewLevelDB(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal %s (is indexerd running?): %w", cfg.Journal.Path, err)
	}
	defer db.Close()
	journal := storage.NewJournal(db)
	cursor, started, err := journal.Cursor()
	if err != nil {
		return err
	}
	blocks, err := journal.Blocks()
	if err != nil {
		return err
	}
	out := map[string]any{"cursor": cursor, "started": started, "journaledBlocks": len(blocks)}
	if len(blocks) > 0 {
		// Blocks is newest first.
		out["oldestJournaled"] = blocks[len(blocks)-1]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to indexer configuration")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	subject := fs.String("sub", "indexctl", "token subject")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.API.AdminSecret == "" {
		return fmt.Errorf("api.admin_secret is not configured (or set %s)", config.EnvAdminSecret)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   *subject,
		"scope": "admin",
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.API.AdminSecret))
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
