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
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/config"
	"headless-sentinel/internal/ingest"
	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func collectCommand(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	hours := fs.Float64("hours", 0, "Override the lookback window in hours")
	continuous := fs.Bool("continuous", false, "Repeat collection every interval")
	interval := fs.Duration("interval", 0, "Interval between cycles (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	defer a.shutdown()

	ctx, stop := signalContext()
	defer stop()
	a.start(ctx)

	if *continuous {
		every := cfg.Collection.Interval
		if *interval > 0 {
			every = *interval
		}
		a.retention(ctx)
		if err := a.pipeline.Run(ctx, every); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Collection stopped")
		}
		return
	}

	var override *time.Duration
	if *hours > 0 {
		d := time.Duration(*hours * float64(time.Hour))
		override = &d
	}
	report := a.pipeline.RunOnce(ctx, override)
	printCycle(&report)
}

func watchCommand(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if !cfg.Alerts.Enabled {
		log.Warn().Msg("Alerts are disabled, watch will only collect")
	}
	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	defer a.shutdown()

	ctx, stop := signalContext()
	defer stop()
	a.start(ctx)
	a.serveAPI(ctx)
	a.retention(ctx)

	var wg sync.WaitGroup
	if cfg.Spool.Path != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSpool(ctx, a)
		}()
	}

	if err := a.pipeline.Run(ctx, cfg.Collection.Interval); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Collection stopped")
	}
	fmt.Println("\nShutting down...")
	wg.Wait()
}

func tailCommand(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	spoolPath := fs.String("spool", "", "Spool file to follow (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *spoolPath != "" {
		cfg.Spool.Path = *spoolPath
	}
	if cfg.Spool.Path == "" {
		log.Fatal().Msg("No spool file configured (spool.path or --spool)")
	}
	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	defer a.shutdown()

	ctx, stop := signalContext()
	defer stop()
	a.start(ctx)
	a.serveAPI(ctx)

	runSpool(ctx, a)
	fmt.Println("\nShutting down...")
}

func runSpool(ctx context.Context, a *app) {
	tailer := ingest.NewSpoolTailer(a.cfg.Spool.Path, a.cfg.Spool.Poll)
	items, err := tailer.Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start spool tailer")
		return
	}
	defer tailer.Stop()

	stats := a.pipeline.IngestSpool(ctx, items, a.store)
	log.Info().
		Int("lines", stats.Lines).
		Int("ingested", stats.Ingested).
		Int("duplicates", stats.Duplicates).
		Int("parse_errors", stats.ParseErrors).
		Msg("Spool ingestion stopped")
}

func queryCommand(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	host := fs.String("host", "", "Filter by host")
	category := fs.String("category", "", "Filter by log category")
	code := fs.Int("event-id", 0, "Filter by event ID")
	severity := fs.String("severity", "", "Filter by severity")
	since := fs.Duration("since", 24*time.Hour, "How far back to search")
	limit := fs.Int("limit", 50, "Maximum events to print")
	asJSON := fs.Bool("json", false, "Print JSON lines")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	st := openStore(cfg)
	defer st.Close()

	f := store.Filter{
		Host:      *host,
		Category:  *category,
		EventCode: *code,
		Since:     time.Now().Add(-*since),
		Limit:     *limit,
	}
	if *severity != "" {
		sev, err := types.ParseSeverity(*severity)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid severity")
		}
		f.Severity = sev
	}

	events, err := st.Query(context.Background(), f)
	if err != nil {
		log.Fatal().Err(err).Msg("Query failed")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range events {
			enc.Encode(e)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tHOST\tCATEGORY\tID\tSEVERITY\tUSER\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Host, e.Category, e.EventCode, e.Severity, e.User, sanitize(truncate(e.Message, 80)))
	}
	w.Flush()
	fmt.Printf("%d events\n", len(events))
}

func statsCommand(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	top := fs.Int("top", 10, "Number of top event IDs to show")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	st := openStore(cfg)
	defer st.Close()

	ctx := context.Background()
	stats, err := st.Stats(ctx, *top)
	if err != nil {
		log.Fatal().Err(err).Msg("Stats failed")
	}

	fmt.Printf("Total events:  %d\n", stats.TotalEvents)
	fmt.Printf("Unique hosts:  %d\n", stats.UniqueHosts)
	if stats.TotalEvents > 0 {
		fmt.Printf("Oldest event:  %s\n", stats.Oldest.Local().Format(time.RFC3339))
		fmt.Printf("Newest event:  %s\n", stats.Newest.Local().Format(time.RFC3339))
	}
	fmt.Println("By severity:")
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityError, types.SeverityWarning, types.SeverityInfo} {
		fmt.Printf("  %-9s %d\n", sev, stats.BySeverity[string(sev)])
	}
	fmt.Println("Top event IDs:")
	for _, c := range stats.TopEventCodes {
		fmt.Printf("  %-6d %d\n", c.EventCode, c.Count)
	}

	marks, err := st.Watermarks(ctx)
	if err == nil && len(marks) > 0 {
		fmt.Println("Watermarks:")
		for _, m := range marks {
			fmt.Printf("  %s/%s  %s\n", m.Host, m.Category, m.TS.Local().Format(time.RFC3339))
		}
	}
}

func purgeCommand(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	days := fs.Int("days", 0, "Delete events older than this many days (default retention_days)")
	vacuum := fs.Bool("vacuum", true, "Reclaim space afterwards")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	keep := cfg.Database.RetentionDays
	if *days > 0 {
		keep = *days
	}
	if keep <= 0 {
		log.Fatal().Msg("Retention must be at least one day")
	}

	st := openStore(cfg)
	defer st.Close()

	ctx := context.Background()
	n, err := st.Purge(ctx, time.Now().AddDate(0, 0, -keep))
	if err != nil {
		log.Fatal().Err(err).Msg("Purge failed")
	}
	if *vacuum {
		if err := st.Vacuum(ctx); err != nil {
			log.Error().Err(err).Msg("Vacuum failed")
		}
	}
	fmt.Printf("Deleted %d events older than %d days\n", n, keep)
}

func generateConfigCommand(args []string) {
	fs := flag.NewFlagSet("generate-config", flag.ExitOnError)
	out := fs.String("out", "config.yaml", "Where to write the sample")
	fs.Parse(args)

	if err := config.WriteSample(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sample configuration written to %s\n", *out)
	fmt.Println("Set credentials with SENTINEL_<REF>_USERNAME and SENTINEL_<REF>_PASSWORD.")
}

func printCycle(r *collect.CycleReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATUS\tATTEMPTS\tFETCHED\tNEW\tDUP\tPARSE_ERR\tERROR")
	for _, h := range r.Hosts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			h.Host, h.Status, h.Attempts, h.Fetched, h.Ingested, h.Duplicates, h.ParseErrors, sanitize(h.Error))
	}
	w.Flush()
	fmt.Printf("\n%d hosts, %d new events, %d duplicates, %d unreachable in %s\n",
		len(r.Hosts), r.Ingested, r.Duplicates, r.Unreachable, r.Duration().Round(time.Millisecond))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// sanitize strips control characters to prevent terminal injection
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
