// Command sentinel is the local-first supply-chain risk agent CLI.
//
// Verbs:
//
//	init          create the database, directories and a starter config
//	load-network  load facilities/lanes/shipments CSVs into the inventory
//	fetch         pull configured feeds into the raw item store
//	ingest        drain NEW raw items into correlated alerts
//	brief         render the daily digest of recent alerts
//
// Exit codes: 0 success, 1 configuration or database failure, 2 run finished
// with per-item errors (or bad usage).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/brief"
	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/fetch"
	"github.com/hardstop-labs/sentinel/pkg/ingest"
	"github.com/hardstop-labs/sentinel/pkg/inventory"
	"github.com/hardstop-labs/sentinel/pkg/observability"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a verb; split out from main for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "load-network":
		return runLoadNetworkCmd(args[2:], stdout, stderr)
	case "fetch":
		return runFetchCmd(args[2:], stdout, stderr)
	case "ingest":
		return runIngestCmd(args[2:], stdout, stderr)
	case "brief":
		return runBriefCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: sentinel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init          Create the database, directories and a starter config")
	fmt.Fprintln(w, "  load-network  Load facilities/lanes/shipments CSVs into the inventory")
	fmt.Fprintln(w, "  fetch         Pull configured feeds into the raw item store")
	fmt.Fprintln(w, "  ingest        Drain NEW raw items into correlated alerts")
	fmt.Fprintln(w, "  brief         Render the daily digest of recent alerts")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'sentinel <command> -h' for command flags.")
}

// commonFlags are shared across every verb.
type commonFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

func addCommon(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.configPath, "config", "sentinel.yaml", "application config file")
	fs.StringVar(&c.dbPath, "db", "", "override storage.sqlite_path")
	fs.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")
}

// pinFlags select pinned replay mode when any is set.
type pinFlags struct {
	seed      int64
	timestamp string
	runID     string
}

func addPin(fs *flag.FlagSet, p *pinFlags) {
	fs.Int64Var(&p.seed, "seed", 0, "pinned mode: id stream seed")
	fs.StringVar(&p.timestamp, "timestamp", "", "pinned mode: RFC3339 clock value")
	fs.StringVar(&p.runID, "run-id", "", "pinned mode: run identifier")
}

func (p pinFlags) scope(stderr io.Writer) (*determinism.Scope, bool) {
	if p.timestamp == "" && p.runID == "" && p.seed == 0 {
		return determinism.Live(), true
	}
	if p.timestamp == "" {
		fmt.Fprintln(stderr, "pinned mode needs --timestamp alongside --seed/--run-id")
		return nil, false
	}
	ts, err := time.Parse(time.RFC3339, p.timestamp)
	if err != nil {
		fmt.Fprintf(stderr, "bad --timestamp %q: %v\n", p.timestamp, err)
		return nil, false
	}
	return determinism.Pinned(determinism.Context{Seed: p.seed, Timestamp: ts, RunID: p.runID}), true
}

// env is the loaded runtime for one verb.
type env struct {
	app config.App
	db  *store.DB
}

func loadEnv(ctx context.Context, c commonFlags, stderr io.Writer) (*env, bool) {
	app, err := config.LoadApp(c.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, false
	}
	if c.dbPath != "" {
		app.Storage.SQLitePath = c.dbPath
	}
	db, err := store.Open(ctx, app.Storage.SQLitePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, false
	}
	return &env{app: app, db: db}, true
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runInitCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c commonFlags
	addCommon(fs, &c)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := config.LoadApp(c.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if c.dbPath != "" {
		app.Storage.SQLitePath = c.dbPath
	}

	for _, dir := range []string{
		filepath.Dir(app.Storage.SQLitePath),
		app.Storage.ArtifactDir,
		app.Storage.RunRecordDir,
		filepath.Dir(app.SourcesPath),
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	db, err := store.Open(ctx, app.Storage.SQLitePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(app.SourcesPath); os.IsNotExist(err) {
		if err := os.WriteFile(app.SourcesPath, []byte(starterSources), 0o644); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote starter source catalog to %s\n", app.SourcesPath)
	}
	fmt.Fprintf(stdout, "initialized database at %s\n", app.Storage.SQLitePath)
	return 0
}

const starterSources = `version: "1.0.0"
defaults:
  rate_limit:
    per_host_min_seconds: 10
    jitter_seconds: 3
  timeout_seconds: 20
  user_agent: "sentinel/1.0 (+local-first risk agent)"
  max_items_per_fetch: 50
tiers:
  global: []
  regional: []
  local: []
`

func runLoadNetworkCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("load-network", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c commonFlags
	addCommon(fs, &c)
	dir := fs.String("dir", "data/network", "directory holding facilities.csv, lanes.csv, shipments.csv")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	log := observability.NewLogger(c.logLevel, stderr)

	e, ok := loadEnv(ctx, c, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = e.db.Close() }()

	sum, err := inventory.LoadDir(ctx, e.db, *dir, log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "loaded %d facilities, %d lanes, %d shipments from %s\n",
		sum.Facilities, sum.Lanes, sum.Shipments, *dir)
	return 0
}

func runFetchCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c commonFlags
	addCommon(fs, &c)
	tier := fs.String("tier", "", "only this tier (global, regional, local)")
	source := fs.String("source", "", "only this source id")
	since := fs.String("since", "", "window like 24h, 72h or 7d")
	maxItems := fs.Int("max-items", 0, "override max items per source")
	failFast := fs.Bool("fail-fast", false, "abort on the first source failure")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	log := observability.NewLogger(c.logLevel, stderr)

	e, ok := loadEnv(ctx, c, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = e.db.Close() }()

	sources, err := config.LoadSources(e.app.SourcesPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	f := &fetch.Fetcher{Sources: sources, DB: e.db, Log: log}
	sum, err := f.Run(ctx, fetch.Options{
		Tier:     contracts.Tier(*tier),
		SourceID: *source,
		MaxItems: *maxItems,
		Since:    *since,
		FailFast: *failFast,
	}, determinism.Live())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "fetched %d items from %d sources (%d new, %d deduped)\n",
		sum.Fetched, sum.Sources, sum.Inserted, sum.Deduped)
	if len(sum.Errors) > 0 {
		for id, msg := range sum.Errors {
			fmt.Fprintf(stderr, "source %s failed: %s\n", id, msg)
		}
		return 2
	}
	return 0
}

func runIngestCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		c commonFlags
		p pinFlags
	)
	addCommon(fs, &c)
	addPin(fs, &p)
	limit := fs.Int("limit", 0, "max items this run")
	tier := fs.String("tier", "", "minimum tier (local admits all)")
	source := fs.String("source", "", "only this source id")
	since := fs.String("since", "", "window like 24h, 72h or 7d")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	log := observability.NewLogger(c.logLevel, stderr)

	scope, ok := p.scope(stderr)
	if !ok {
		return 2
	}

	e, ok := loadEnv(ctx, c, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = e.db.Close() }()

	// The source catalog enriches events with trust metadata but its absence
	// does not block ingest of already-staged items.
	var sources *config.SourcesConfig
	if loaded, err := config.LoadSources(e.app.SourcesPath); err == nil {
		sources = loaded
	} else if !errors.Is(err, config.ErrConfig) {
		fmt.Fprintln(stderr, err)
		return 1
	} else {
		log.Warn("continuing without source catalog", "path", e.app.SourcesPath, "err", err)
	}

	sinceHours := 0
	if *since != "" {
		h, err := fetch.ParseSince(*since)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		sinceHours = h
	}

	metrics, err := observability.NewMetrics(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()

	pipe := &ingest.Pipeline{
		DB:             e.db,
		Sources:        sources,
		Quality:        e.app.Quality,
		ArtifactDir:    e.app.Storage.ArtifactDir,
		RunRecordDir:   e.app.Storage.RunRecordDir,
		EmitRunRecords: e.app.Storage.EmitRunRecord,
		Log:            log,
		Metrics:        metrics,
	}
	sum, err := pipe.Ingest(ctx, ingest.Options{
		Limit:      *limit,
		MinTier:    contracts.Tier(*tier),
		SourceID:   *source,
		SinceHours: sinceHours,
	}, scope)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "processed %d items: %d events, %d alerts, %d errors\n",
		sum.Processed, sum.Events, sum.Alerts, sum.Errors)
	if sum.Errors > 0 {
		return 2
	}
	return 0
}

func runBriefCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("brief", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		c commonFlags
		p pinFlags
	)
	addCommon(fs, &c)
	addPin(fs, &p)
	since := fs.String("since", "24h", "window like 24h, 72h or 7d")
	format := fs.String("format", "md", "md or json")
	limit := fs.Int("limit", 20, "max alerts per section")
	includeClass0 := fs.Bool("include-class0", false, "include classification 0 alerts")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *format != "md" && *format != "json" {
		fmt.Fprintf(stderr, "bad --format %q: use md or json\n", *format)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	scope, ok := p.scope(stderr)
	if !ok {
		return 2
	}

	e, ok := loadEnv(ctx, c, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = e.db.Close() }()

	b, err := brief.Generate(ctx, e.db, brief.Options{
		Since:         *since,
		IncludeClass0: *includeClass0,
		Limit:         *limit,
	}, scope)
	if err != nil {
		fmt.Fprintln(stderr, err)
		if errors.Is(err, fetch.ErrBadSince) {
			return 2
		}
		return 1
	}

	if *format == "json" {
		out, err := brief.RenderJSON(b)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, out)
		return 0
	}
	fmt.Fprint(stdout, brief.RenderMarkdown(b))
	return 0
}
