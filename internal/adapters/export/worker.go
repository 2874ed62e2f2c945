package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes the lifecycle stage of a queued export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrQueueFull is returned when the worker cannot accept another job.
var ErrQueueFull = errors.New("export queue full")

// Record tracks one queued export.
type Record struct {
	RunID       string     `json:"run_id"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Manifest    *Manifest  `json:"manifest,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AuditLogger records export lifecycle transitions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry is one lifecycle transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	RunID      string         `json:"run_id"`
	Status     Status         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Worker runs exports in the background so a refresh does not wait on the
// artifact store.
type Worker struct {
	exporter *Exporter
	audit    AuditLogger

	queue chan Run
	mu    sync.RWMutex
	jobs  map[string]*Record
	done  map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker with a bounded queue.
func NewWorker(exporter *Exporter, audit AuditLogger, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		exporter: exporter,
		audit:    audit,
		queue:    make(chan Run, queueSize),
		jobs:     make(map[string]*Record),
		done:     make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing queued exports.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the in-flight export, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case run := <-w.queue:
			w.process(run)
		}
	}
}

// Enqueue schedules run for export and returns its queued record.
func (w *Worker) Enqueue(ctx context.Context, run Run) (Record, error) {
	runID := run.Tables.RunID
	if runID == "" {
		return Record{}, errors.New("export: run id required")
	}
	now := time.Now().UTC()
	w.mu.Lock()
	if _, dup := w.jobs[runID]; dup {
		w.mu.Unlock()
		return Record{}, fmt.Errorf("export: run %s already queued", runID)
	}
	record := &Record{RunID: runID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	select {
	case w.queue <- run:
	default:
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	w.jobs[runID] = record
	w.done[runID] = make(chan struct{})
	queued := record.copy()
	w.mu.Unlock()
	w.record(ctx, runID, StatusQueued, nil)
	return queued, nil
}

// Wait blocks until runID succeeds or fails, bounded by ctx.
func (w *Worker) Wait(ctx context.Context, runID string) (Record, error) {
	w.mu.RLock()
	done, ok := w.done[runID]
	w.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("export: run %s not queued", runID)
	}
	select {
	case <-done:
		record, _ := w.Get(runID)
		return record, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Get returns a snapshot of the record for runID.
func (w *Worker) Get(runID string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[runID]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(run Run) {
	runID := run.Tables.RunID
	w.transition(runID, StatusRunning, "", nil)
	manifest, err := w.exporter.Export(w.ctx, run)
	if err != nil {
		w.transition(runID, StatusFailed, err.Error(), nil)
		return
	}
	w.transition(runID, StatusSucceeded, "", &manifest)
}

func (w *Worker) transition(runID string, status Status, reason string, manifest *Manifest) {
	var meta map[string]any
	switch {
	case reason != "":
		meta = map[string]any{"error": reason}
	case manifest != nil:
		meta = map[string]any{"artifacts": len(manifest.Artifacts)}
	}
	// a published status implies its audit entry exists
	w.record(w.ctx, runID, status, meta)

	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[runID]
	if !ok {
		return
	}
	record.Status = status
	record.Error = reason
	record.UpdatedAt = now
	if manifest != nil {
		record.Manifest = manifest
	}
	if status == StatusSucceeded || status == StatusFailed {
		record.CompletedAt = &now
		close(w.done[runID])
	}
}

func (w *Worker) record(ctx context.Context, runID string, status Status, meta map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     "derived_export",
		RunID:      runID,
		Status:     status,
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	})
}

func (r *Record) copy() Record {
	out := *r
	if r.Manifest != nil {
		m := *r.Manifest
		m.Artifacts = append([]Artifact(nil), r.Manifest.Artifacts...)
		out.Manifest = &m
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
