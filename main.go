// Command x402sync pulls x402 resource listings from the public facilitator
// discovery endpoints, filters and deduplicates them, and upserts the result
// into the marketplace database. It also tags resources, scrapes branding for
// newly seen origins, records one sync_history row per run, and reconciles
// on-chain traction per origin.
//
// Run once (default), or as a daemon with --daemon. Offline end-to-end runs
// use --store memory together with --mock.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"x402sync/facilitators"
)

// ───────── Config ─────────

type config struct {
	mode string // sync | init | retag | traction

	storeKind    string // postgres | memory
	pgDSN        string
	pgSchema     string
	pgMaxConns   int
	pgViaBouncer bool

	facilitatorsFile string
	mock             bool
	mockCount        int

	userAgent string

	basescanKey    string
	polygonscanKey string
	arbiscanKey    string
	heliusKey      string

	metricsAddr string
	jsonLogs    bool

	daemon       bool
	daemonMinSec int
	daemonMaxSec int
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.mode, "mode", envString("SYNC_MODE", "sync"),
		"run mode: sync | init | retag | traction (env SYNC_MODE)")

	flag.StringVar(&cfg.storeKind, "store", envString("STORE", "postgres"),
		"storage backend: postgres | memory (env STORE)")
	flag.StringVar(&cfg.pgDSN, "pg-dsn", envString("DATABASE_URL", ""),
		"Postgres DSN (env DATABASE_URL)")
	flag.StringVar(&cfg.pgSchema, "pg-schema", envString("PG_SCHEMA", "public"),
		"Postgres schema (env PG_SCHEMA)")
	flag.IntVar(&cfg.pgMaxConns, "pg-max-conns", envInt("PG_MAX_CONNS", 2),
		"pgx pool MaxConns (env PG_MAX_CONNS)")
	flag.BoolVar(&cfg.pgViaBouncer, "pg-via-bouncer", envBool("PG_VIA_BOUNCER", false),
		"use simple protocol for PgBouncer transaction pooling (env PG_VIA_BOUNCER)")

	flag.StringVar(&cfg.facilitatorsFile, "facilitators", envString("FACILITATORS_FILE", ""),
		"YAML file overriding the built-in facilitator endpoints (env FACILITATORS_FILE)")
	flag.BoolVar(&cfg.mock, "mock", envBool("MOCK_FACILITATORS", false),
		"use deterministic mock facilitators instead of the network (env MOCK_FACILITATORS)")
	flag.IntVar(&cfg.mockCount, "mock-count", envInt("MOCK_COUNT", 8),
		"listings per mock facilitator (env MOCK_COUNT)")

	flag.StringVar(&cfg.userAgent, "user-agent", envString("HTTP_USER_AGENT", "x402sync/1.0"),
		"outbound User-Agent (env HTTP_USER_AGENT)")

	flag.StringVar(&cfg.basescanKey, "basescan-key", envString("BASESCAN_API_KEY", ""),
		"Basescan API key; free tier used when empty (env BASESCAN_API_KEY)")
	flag.StringVar(&cfg.polygonscanKey, "polygonscan-key", envString("POLYGONSCAN_API_KEY", ""),
		"Polygonscan API key; polygon skipped when empty (env POLYGONSCAN_API_KEY)")
	flag.StringVar(&cfg.arbiscanKey, "arbiscan-key", envString("ARBISCAN_API_KEY", ""),
		"Arbiscan API key; arbitrum skipped when empty (env ARBISCAN_API_KEY)")
	flag.StringVar(&cfg.heliusKey, "helius-key", envString("HELIUS_API_KEY", ""),
		"Helius API key; solana skipped when empty (env HELIUS_API_KEY)")

	flag.StringVar(&cfg.metricsAddr, "metrics", envString("METRICS_ADDR", ""),
		"address for /metrics and pprof, empty disables (env METRICS_ADDR)")
	flag.BoolVar(&cfg.jsonLogs, "json-logs", envBool("JSON_LOGS", false),
		"emit a JSON summary object after each run (env JSON_LOGS)")

	flag.BoolVar(&cfg.daemon, "daemon", envBool("DAEMON", false),
		"loop forever with jittered sleep between runs (env DAEMON)")
	flag.IntVar(&cfg.daemonMinSec, "daemon-min-sec", envInt("DAEMON_MIN_SEC", 1800),
		"minimum seconds between daemon runs (env DAEMON_MIN_SEC)")
	flag.IntVar(&cfg.daemonMaxSec, "daemon-max-sec", envInt("DAEMON_MAX_SEC", 3600),
		"maximum seconds between daemon runs (env DAEMON_MAX_SEC)")

	flag.Parse()
	return cfg
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "x402sync: "+format+"\n", args...)
	os.Exit(2)
}

// ───────── Facilitator endpoints ─────────

type facilitatorEntry struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

// The six production discovery endpoints, queried in this order.
var defaultFacilitators = []facilitatorEntry{
	{Name: "cdp_coinbase", Endpoint: "https://api.cdp.coinbase.com/platform/v2/x402/discovery/resources"},
	{Name: "payai", Endpoint: "https://facilitator.payai.network/discovery/resources"},
	{Name: "questflow", Endpoint: "https://facilitator.questflow.ai/discovery/resources"},
	{Name: "anyspend", Endpoint: "https://mainnet.anyspend.com/x402/discovery/resources"},
	{Name: "aurracloud", Endpoint: "https://x402-facilitator.aurracloud.com/discovery/resources"},
	{Name: "thirdweb", Endpoint: "https://api.thirdweb.com/v1/payments/x402/discovery/resources"},
}

func loadFacilitators(path string) ([]facilitatorEntry, error) {
	if path == "" {
		return defaultFacilitators, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Facilitators []facilitatorEntry `yaml:"facilitators"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Facilitators) == 0 {
		return nil, fmt.Errorf("%s: no facilitators listed", path)
	}
	for _, f := range doc.Facilitators {
		if f.Name == "" || f.Endpoint == "" {
			return nil, fmt.Errorf("%s: facilitator entries need both name and endpoint", path)
		}
	}
	return doc.Facilitators, nil
}

func buildSources(cfg config, m *Metrics) ([]facilitators.Source, error) {
	entries, err := loadFacilitators(cfg.facilitatorsFile)
	if err != nil {
		return nil, err
	}
	out := make([]facilitators.Source, 0, len(entries))
	for _, e := range entries {
		if cfg.mock {
			out = append(out, facilitators.NewMockSource(facilitators.MockSourceOptions{
				Name:  e.Name,
				Count: cfg.mockCount,
			}))
			continue
		}
		src, err := facilitators.NewHTTPSource(facilitators.HTTPSourceOptions{
			Name:      e.Name,
			Endpoint:  e.Endpoint,
			UserAgent: cfg.userAgent,
			Observe:   m.RecordRequest,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func openStore(ctx context.Context, cfg config) (Store, error) {
	switch cfg.storeKind {
	case "memory":
		return NewMemStore(), nil
	case "postgres":
		if cfg.pgDSN == "" {
			return nil, fmt.Errorf("--pg-dsn (or DATABASE_URL) is required with --store postgres")
		}
		return NewPGStore(ctx, PGStoreOptions{
			DSN:        cfg.pgDSN,
			Schema:     cfg.pgSchema,
			MaxConns:   cfg.pgMaxConns,
			ViaBouncer: cfg.pgViaBouncer,
		})
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.storeKind)
	}
}

// ───────── Entry point ─────────

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		fatalf("store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fatalf("ensure schema: %v", err)
	}
	if cfg.mode == "init" {
		fmt.Println("schema ready")
		return
	}

	metrics := NewMetrics()
	startMetrics(cfg.metricsAddr, metrics)

	sources, err := buildSources(cfg, metrics)
	if err != nil {
		fatalf("facilitators: %v", err)
	}

	engine := NewEngine(store, sources, nil, buildProviders(cfg), metrics)
	engine.jsonLogs = cfg.jsonLogs

	switch cfg.mode {
	case "sync":
		// handled below
	case "retag":
		if err := engine.Retag(ctx); err != nil {
			fatalf("retag: %v", err)
		}
		return
	case "traction":
		engine.ReconcileTraction(ctx)
		return
	default:
		fatalf("unknown mode %q", cfg.mode)
	}

	if !cfg.daemon {
		engine.RunOnce(ctx)
		return
	}

	if cfg.daemonMinSec < 1 || cfg.daemonMaxSec < cfg.daemonMinSec {
		fatalf("daemon interval: need 1 <= min <= max, got %d..%d", cfg.daemonMinSec, cfg.daemonMaxSec)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		engine.RunOnce(ctx)
		if ctx.Err() != nil {
			fmt.Println("shutting down")
			return
		}
		sleep := time.Duration(cfg.daemonMinSec+rng.Intn(cfg.daemonMaxSec-cfg.daemonMinSec+1)) * time.Second
		fmt.Printf("next run in %s\n", sleep.Round(time.Second))
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return
		case <-time.After(sleep):
		}
	}
}
