// Command regland imports cleaned interval lists, runs the conservation and
// linking passes, and answers positional queries over the committed snapshot.
//
// Usage:
//
//	regland import -dir ./data
//	regland refresh [-export=false] [-trace]
//	regland export
//	regland query <kind> [flags]
//	regland runs
//
// Storage, artifact and tuning parameters come from REGLAND_* environment
// variables. Logs go to stderr; query results are JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"regland/internal/adapters/export"
	"regland/internal/blob"
	"regland/internal/core"
	"regland/internal/ingest"
	"regland/internal/window"
	"regland/pkg/genome"
)

// Logging environment variables.
const (
	EnvLogFormat = "REGLAND_LOG_FORMAT"
	EnvLogLevel  = "REGLAND_LOG_LEVEL"
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenPersistentStore
	openBlobs = blob.Open
)

const usage = `usage: regland <command> [flags]

commands:
  import   load TSV interval lists from a directory into the store
  refresh  classify and link the stored dataset, then export artifacts
  export   export the committed derived tables of the last refresh
  query    answer a query over the committed snapshot
  runs     list exported runs`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
	logger, err := newLogger(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "regland: %v\n", err)
		return 2
	}
	var run func(context.Context, []string, io.Writer, io.Writer, *slog.Logger) error
	switch args[0] {
	case "import":
		run = runImport
	case "refresh":
		run = runRefresh
	case "export":
		run = runExport
	case "query":
		run = runQuery
	case "runs":
		run = runRuns
	case "help", "-h", "--help":
		_, _ = fmt.Fprintln(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "regland: unknown command %q\n%s\n", args[0], usage)
		return 2
	}
	if err := run(ctx, args[1:], stdout, stderr, logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var usageErr usageError
		if errors.As(err, &usageErr) {
			_, _ = fmt.Fprintf(stderr, "regland %s: %v\n", args[0], err)
			return 2
		}
		logger.Error("command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	return nil
}

// newLogger builds the slog logger selected by REGLAND_LOG_FORMAT (text or
// json) and REGLAND_LOG_LEVEL.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%s: unknown format %q", EnvLogFormat, format)
	}
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", ".", "directory holding the TSV interval lists")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	dataset, err := ingest.LoadDir(*dir)
	if err != nil {
		return fmt.Errorf("load %s: %w", *dir, err)
	}
	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.ReplaceDataset(ctx, dataset); err != nil {
		return fmt.Errorf("store dataset: %w", err)
	}
	logger.Info("dataset imported",
		"dir", *dir,
		"genes", len(dataset.Genes),
		"elements", len(dataset.Elements),
		"sites", len(dataset.Sites),
		"domains", len(dataset.Domains),
		"variants", len(dataset.Variants),
		"evidence", len(dataset.Evidence),
	)
	return writeJSON(stdout, map[string]int{
		"genes":    len(dataset.Genes),
		"elements": len(dataset.Elements),
		"sites":    len(dataset.Sites),
		"domains":  len(dataset.Domains),
		"variants": len(dataset.Variants),
		"evidence": len(dataset.Evidence),
	})
}

func runRefresh(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	exportArtifacts := fs.Bool("export", true, "export the committed tables to the blob store")
	trace := fs.Bool("trace", false, "write operation spans as JSON lines to stderr")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := core.ConfigFromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	metrics := newMetrics(cfg.Metrics)
	opts := []core.ServiceOption{
		core.WithConfig(cfg),
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
	}
	if *trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	if *exportArtifacts && cfg.ExportOnRefresh {
		artifacts, err := openBlobs(ctx)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		opts = append(opts, core.WithArtifactExporter(export.NewExporter(artifacts)))
	}
	svc, err := core.NewServiceFromStore(ctx, store, opts...)
	if err != nil {
		return err
	}
	tables, err := svc.Refresh(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"run_id":   tables.RunID,
		"built_at": tables.BuiltAt,
		"labels":   len(tables.Labels),
		"regions":  len(tables.Regions),
		"links":    len(tables.Links),
		"overlaps": len(tables.Overlaps),
		"metrics":  metrics.Results(),
	})
}

// resultsRecorder is a MetricsRecorder that can read its counts back.
type resultsRecorder interface {
	core.MetricsRecorder
	Results() map[string]map[string]int64
}

func newMetrics(backend core.MetricsBackend) resultsRecorder {
	if backend == core.MetricsPrometheus {
		return core.NewPrometheusMetricsRecorder(prometheus.NewRegistry())
	}
	return core.NewExpvarMetricsRecorder("")
}

// exportAudit logs worker lifecycle transitions.
type exportAudit struct{ logger *slog.Logger }

func (a exportAudit) Record(_ context.Context, e export.AuditEntry) {
	a.logger.Debug("export transition", "run_id", e.RunID, "status", e.Status, "metadata", e.Metadata)
}

func runExport(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prefix := fs.String("prefix", export.DefaultPrefix, "artifact key prefix")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := core.ConfigFromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	svc, err := core.NewServiceFromStore(ctx, store, core.WithConfig(cfg), core.WithLogger(logger))
	if err != nil {
		return err
	}
	tables := svc.Tables()
	if tables.RunID == "" {
		return errors.New("no committed run to export")
	}
	artifacts, err := openBlobs(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	worker := export.NewWorker(export.NewExporter(artifacts, export.WithPrefix(*prefix)), exportAudit{logger}, 1)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()
	if _, err := worker.Enqueue(ctx, export.Run{Tables: tables, Report: svc.QualityReport()}); err != nil {
		return err
	}
	record, err := worker.Wait(ctx, tables.RunID)
	if err != nil {
		return err
	}
	if record.Status == export.StatusFailed {
		return fmt.Errorf("export run %s: %s", record.RunID, record.Error)
	}
	logger.Info("derived tables exported", "run_id", record.RunID, "artifacts", len(record.Manifest.Artifacts))
	return writeJSON(stdout, record)
}

func runRuns(ctx context.Context, args []string, stdout, stderr io.Writer, _ *slog.Logger) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prefix := fs.String("prefix", export.DefaultPrefix, "artifact key prefix")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	artifacts, err := openBlobs(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	runs, err := export.NewExporter(artifacts, export.WithPrefix(*prefix)).Runs(ctx)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []string{}
	}
	return writeJSON(stdout, runs)
}

type queryFlags struct {
	species   string
	gene      string
	chrom     string
	mode      string
	windowKb  int64
	snap      bool
	bins      int
	classes   string
	sites     string
	normalize bool
	tissue    string
	focus     string
	capKb     int64
	text      string
	category  string
	trait     string
	limit     int
	start     int64
	end       int64
}

func runQuery(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		return usageError{errors.New("query kind required: resolve|bin|enrich|nearest|search|variants|categories|traits|trait|domains|coverage|summary|report|scores|url")}
	}
	kind := args[0]
	fs := flag.NewFlagSet("query "+kind, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var q queryFlags
	fs.StringVar(&q.species, "species", "human_hg38", "species build identifier")
	fs.StringVar(&q.gene, "gene", "", "gene symbol")
	fs.StringVar(&q.chrom, "chrom", "", "chromosome")
	fs.StringVar(&q.mode, "mode", string(window.ModeTSS), "region mode: tss or domain")
	fs.Int64Var(&q.windowKb, "window-kb", window.DefaultWindowKb, "half width of the TSS window in kb")
	fs.BoolVar(&q.snap, "snap", true, "snap to the smallest enclosing domain in domain mode")
	fs.IntVar(&q.bins, "bins", 50, "number of bins")
	fs.StringVar(&q.classes, "classes", "", "comma separated element conservation classes (default all)")
	fs.StringVar(&q.sites, "site-classes", "", "comma separated chromatin site classes for nearest (default all)")
	fs.BoolVar(&q.normalize, "normalize", false, "scale each class row to a maximum of 1")
	fs.StringVar(&q.tissue, "tissue", "", "restrict bin and nearest to one tissue")
	fs.StringVar(&q.focus, "focus", "", "comma separated focus classes for enrichment (default conserved)")
	fs.Int64Var(&q.capKb, "cap-kb", 100, "display ceiling for site distances in kb")
	fs.StringVar(&q.text, "q", "", "search text")
	fs.StringVar(&q.category, "category", "", "trait category filter")
	fs.StringVar(&q.trait, "trait", "", "trait name")
	fs.IntVar(&q.limit, "limit", 0, "maximum rows (0 means all)")
	fs.Int64Var(&q.start, "start", 0, "start coordinate for url")
	fs.Int64Var(&q.end, "end", 0, "end coordinate for url")
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	cfg, err := core.ConfigFromEnv()
	if err != nil {
		return err
	}
	svc, err := core.NewServiceFromStore(ctx, store, core.WithConfig(cfg), core.WithLogger(logger))
	if err != nil {
		return err
	}
	result, err := answer(svc, kind, q)
	if err != nil {
		return err
	}
	return writeJSON(stdout, result)
}

func answer(svc *core.Service, kind string, q queryFlags) (any, error) {
	region := func() (window.Region, error) {
		if q.gene == "" {
			return window.Region{}, usageError{errors.New("-gene is required")}
		}
		return svc.ResolveDomain(window.GeneRef{Species: q.species, Symbol: q.gene}, window.ParseMode(q.mode), q.windowKb, q.snap), nil
	}
	switch kind {
	case "resolve":
		return region()
	case "bin":
		classes, err := parseClasses("classes", q.classes)
		if err != nil {
			return nil, err
		}
		r, err := region()
		if err != nil {
			return nil, err
		}
		return svc.BinTissue(r, q.bins, classes, q.normalize, q.tissue), nil
	case "enrich":
		focus, err := parseClasses("focus", q.focus)
		if err != nil {
			return nil, err
		}
		r, err := region()
		if err != nil {
			return nil, err
		}
		return svc.Enrich(r, focus), nil
	case "nearest":
		elements, err := parseClasses("classes", q.classes)
		if err != nil {
			return nil, err
		}
		sites, err := parseClasses("site-classes", q.sites)
		if err != nil {
			return nil, err
		}
		r, err := region()
		if err != nil {
			return nil, err
		}
		return svc.NearestDistanceFor(r, q.capKb, core.DistanceFilter{Tissue: q.tissue, ElementClasses: elements, SiteClasses: sites}), nil
	case "search":
		return svc.SearchGenes(q.species, q.text), nil
	case "variants":
		if q.gene == "" {
			return nil, usageError{errors.New("-gene is required")}
		}
		return svc.VariantsForGene(window.GeneRef{Species: q.species, Symbol: q.gene}), nil
	case "categories":
		return svc.VariantCategories(), nil
	case "traits":
		return svc.TraitSummaries(core.TraitFilter{Category: q.category, Search: q.text, Limit: q.limit}), nil
	case "trait":
		if q.trait == "" {
			return nil, usageError{errors.New("-trait is required")}
		}
		variants, total := svc.TraitVariants(q.trait, q.limit)
		return map[string]any{"trait": q.trait, "total": total, "variants": variants}, nil
	case "domains":
		return svc.ElementsPerDomain(q.species, q.chrom), nil
	case "coverage":
		return svc.TissueCoverage(q.species), nil
	case "summary":
		return svc.QualitySummary(), nil
	case "report":
		return svc.QualityReport(), nil
	case "scores":
		return svc.StandardizedScores(), nil
	case "url":
		if q.gene != "" {
			r, err := region()
			if err != nil {
				return nil, err
			}
			if !r.Found {
				return map[string]any{"found": false}, nil
			}
			q.chrom, q.start, q.end = r.Chrom, r.Start, r.End
		}
		url, ok := svc.BrowserURL(q.species, q.chrom, q.start, q.end)
		return map[string]any{"found": ok, "url": url}, nil
	default:
		return nil, usageError{fmt.Errorf("unknown query kind %q", kind)}
	}
}

func parseClasses(name, s string) ([]genome.ConservationClass, error) {
	var out []genome.ConservationClass
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		c, ok := genome.LookupClass(p)
		if !ok {
			return nil, usageError{fmt.Errorf("-%s: unknown class %q (want conserved, gained, lost or unlabeled)", name, p)}
		}
		out = append(out, c)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
