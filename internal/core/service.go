package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"regland/internal/adapters/export"
	"regland/internal/conservation"
	"regland/internal/intervals"
	"regland/internal/linker"
	"regland/internal/quality"
	"regland/pkg/genome"
)

// ErrRefreshInProgress is returned when a batch pass is already running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Batch operation names used for metrics, spans and audit entries.
const (
	OpClassify = "classify"
	OpLink     = "link"
	OpRefresh  = "refresh"
	OpExport   = "export"
)

// ArtifactExporter receives every committed refresh.
type ArtifactExporter interface {
	Export(ctx context.Context, run export.Run) (export.Manifest, error)
}

// Service owns the current snapshot and serializes batch passes. Queries are
// lock-free reads of the snapshot pointer.
type Service struct {
	cfg      Config
	store    genome.DerivedStore
	engine   *genome.RulesEngine
	exporter ArtifactExporter
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	clock    Clock
	newRunID func() string

	writer  sync.Mutex
	current atomic.Pointer[Snapshot]
}

type serviceOptions struct {
	cfg      Config
	store    genome.DerivedStore
	engine   *genome.RulesEngine
	exporter ArtifactExporter
	logger   Logger
	metrics  []MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	clock    Clock
	newRunID func() string
}

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		cfg:      DefaultConfig(),
		engine:   quality.DefaultRulesEngine(),
		logger:   noopLogger{},
		tracer:   noopTracer{},
		audit:    noopAudit{},
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		newRunID: func() string { return uuid.NewString() },
	}
}

// WithConfig replaces the default parameters.
func WithConfig(cfg Config) ServiceOption {
	return func(o *serviceOptions) { o.cfg = cfg }
}

// WithLogger sets the structured logger; nil keeps the no-op logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder adds a metrics recorder. Repeated options fan out.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = append(o.metrics, recorder)
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the recorder for batch operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithClock overrides the time source used for run timestamps and durations.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithStore persists every committed refresh before it becomes visible.
func WithStore(store genome.DerivedStore) ServiceOption {
	return func(o *serviceOptions) { o.store = store }
}

// WithRulesEngine replaces the derived-table guards. A nil engine disables
// them.
func WithRulesEngine(engine *genome.RulesEngine) ServiceOption {
	return func(o *serviceOptions) { o.engine = engine }
}

// WithArtifactExporter exports committed refreshes when
// Config.ExportOnRefresh is set.
func WithArtifactExporter(exporter ArtifactExporter) ServiceOption {
	return func(o *serviceOptions) { o.exporter = exporter }
}

// WithRunIDGenerator overrides the uuid run ids.
func WithRunIDGenerator(next func() string) ServiceOption {
	return func(o *serviceOptions) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// NewService validates the dataset and publishes a first snapshot without
// derived tables: every element is unlabeled and no links exist until a
// refresh commits.
func NewService(dataset genome.Dataset, opts ...ServiceOption) (*Service, error) {
	return newService(dataset, genome.DerivedTables{}, opts)
}

// NewServiceFromStore restores a service from a persistent store: the stored
// dataset plus the last committed derived tables, if any. The restored
// tables are re-checked by the rules engine.
func NewServiceFromStore(ctx context.Context, store genome.PersistentStore, opts ...ServiceOption) (*Service, error) {
	dataset, err := store.LoadDataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	tables, ok, err := store.LoadDerived(ctx)
	if err != nil {
		return nil, fmt.Errorf("load derived tables: %w", err)
	}
	if !ok {
		tables = genome.DerivedTables{}
	}
	opts = append([]ServiceOption{WithStore(store)}, opts...)
	svc, err := newService(dataset, tables, opts)
	if err != nil {
		return nil, err
	}
	if ok {
		res, err := svc.engine.Evaluate(ctx, svc.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("evaluate stored tables: %w", err)
		}
		if res.HasBlocking() {
			return nil, blockedBy(res)
		}
	}
	return svc, nil
}

func newService(dataset genome.Dataset, tables genome.DerivedTables, opts []ServiceOption) (*Service, error) {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	store, err := intervals.NewStore(dataset)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:      o.cfg,
		store:    o.store,
		engine:   o.engine,
		exporter: o.exporter,
		logger:   o.logger,
		tracer:   o.tracer,
		audit:    o.audit,
		clock:    o.clock,
		newRunID: o.newRunID,
	}
	switch len(o.metrics) {
	case 0:
		svc.metrics = noopMetrics{}
	case 1:
		svc.metrics = o.metrics[0]
	default:
		svc.metrics = multiMetrics(o.metrics)
	}
	builtAt := tables.BuiltAt
	if builtAt.IsZero() {
		builtAt = svc.clock.Now()
	}
	svc.current.Store(newSnapshot(store, tables, nil, builtAt))
	return svc, nil
}

func blockedBy(res genome.Result) error {
	return genome.RuleViolationError{Result: res}
}

// Config returns the active parameters.
func (s *Service) Config() Config { return s.cfg }

// Snapshot returns the current generation.
func (s *Service) Snapshot() *Snapshot { return s.current.Load() }

// Tables returns a copy of the committed derived tables.
func (s *Service) Tables() genome.DerivedTables { return s.Snapshot().Tables.Clone() }

// Classify recomputes conservation labels and canonical regions, keeping the
// committed links.
func (s *Service) Classify(ctx context.Context) (genome.DerivedTables, error) {
	return s.runBatch(ctx, OpClassify, true, false)
}

// Link recomputes gene/element links and variant overlaps, keeping the
// committed labels.
func (s *Service) Link(ctx context.Context) (genome.DerivedTables, error) {
	return s.runBatch(ctx, OpLink, false, true)
}

// Refresh runs classification and linking and commits both as one generation.
func (s *Service) Refresh(ctx context.Context) (genome.DerivedTables, error) {
	return s.runBatch(ctx, OpRefresh, true, true)
}

func (s *Service) runBatch(ctx context.Context, op string, classify, link bool) (genome.DerivedTables, error) {
	if !s.writer.TryLock() {
		return genome.DerivedTables{}, ErrRefreshInProgress
	}
	defer s.writer.Unlock()

	runID := s.newRunID()
	var committed genome.DerivedTables
	err := s.observe(ctx, op, runID, func(ctx context.Context) error {
		prev := s.Snapshot()
		tables := prev.Tables.Clone()
		tables.RunID = runID
		tables.BuiltAt = s.clock.Now()
		clusters := prev.Clusters
		if classify {
			out, err := conservation.Classify(ctx, prev.Store, conservation.Config{
				Species:     s.cfg.ClassifySpecies,
				Parallelism: s.cfg.Parallelism,
			})
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			tables.Labels, tables.Regions, clusters = out.Labels, out.Regions, out.Clusters
		}
		if link {
			out, err := linker.Link(ctx, prev.Store, s.cfg.linkerConfig())
			if err != nil {
				return fmt.Errorf("link: %w", err)
			}
			tables.Links, tables.Overlaps = out.Links, out.Overlaps
		}
		next := newSnapshot(prev.Store, tables, clusters, tables.BuiltAt)
		if err := s.commit(ctx, next); err != nil {
			return err
		}
		committed = tables.Clone()
		s.logger.Info("derived tables committed",
			"operation", op,
			"run_id", runID,
			"labels", len(tables.Labels),
			"regions", len(tables.Regions),
			"links", len(tables.Links),
			"overlaps", len(tables.Overlaps),
		)
		return nil
	})
	if err != nil {
		return genome.DerivedTables{}, err
	}
	s.exportRun(ctx, committed)
	return committed, nil
}

// commit evaluates the guards, persists and finally swaps the pointer. Any
// failure leaves the previous snapshot authoritative.
func (s *Service) commit(ctx context.Context, next *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.engine.Evaluate(ctx, next)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	for _, v := range res.Violations {
		if v.Severity != genome.SeverityBlock {
			s.logger.Warn("rule violation", "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		}
	}
	if res.HasBlocking() {
		return blockedBy(res)
	}
	if s.store != nil {
		if err := s.store.ReplaceDerived(ctx, next.Tables); err != nil {
			return fmt.Errorf("persist derived tables: %w", err)
		}
	}
	s.current.Store(next)
	return nil
}

// exportRun hands a committed generation to the exporter. Export failures are
// reported but never roll back the commit.
func (s *Service) exportRun(ctx context.Context, tables genome.DerivedTables) {
	if s.exporter == nil || !s.cfg.ExportOnRefresh {
		return
	}
	_ = s.observe(ctx, OpExport, tables.RunID, func(ctx context.Context) error {
		report := quality.BuildReport(s.Snapshot().Dataset(), tables, s.cfg.KnownTissues)
		manifest, err := s.exporter.Export(ctx, export.Run{Tables: tables, Report: report})
		if err != nil {
			return fmt.Errorf("export run %s: %w", tables.RunID, err)
		}
		s.logger.Info("derived tables exported", "run_id", manifest.RunID, "artifacts", len(manifest.Artifacts))
		return nil
	})
}

func (s *Service) observe(ctx context.Context, op, entityID string, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	elapsed := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	entry := AuditEntry{
		Operation: op,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "run_id", entityID, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "run_id", entityID, "duration", elapsed)
	}
	s.audit.Record(ctx, entry)
	return err
}
