package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
	s.tracer.mu.Unlock()
}

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureLogger) log(level, msg string) {
	c.mu.Lock()
	c.entries = append(c.entries, level+" "+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.log("debug", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.log("info", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.log("warn", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.log("error", msg) }

func (c *captureLogger) has(level, msg string) bool {
	for _, line := range c.lines() {
		if line == level+" "+msg {
			return true
		}
	}
	return false
}

func (c *captureLogger) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

func TestNoopObservabilityDefaults(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info", "key", "value")
	logger.Warn("warn", "key", "value")
	logger.Error("error", "key", "value")

	noopMetrics{}.Observe(context.Background(), "op", true, time.Millisecond)
	noopAudit{}.Record(context.Background(), AuditEntry{})
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
}

func TestDefaultServiceOptions(t *testing.T) {
	o := defaultServiceOptions()
	if o.engine == nil || len(o.engine.Rules()) != 4 {
		t.Fatalf("expected default guard rules")
	}
	if o.newRunID() == o.newRunID() {
		t.Fatalf("run ids must be unique")
	}
	if o.clock.Now().Location() != time.UTC {
		t.Fatalf("default clock should be UTC")
	}
	WithLogger(nil)(&o)
	WithTracer(nil)(&o)
	WithAuditRecorder(nil)(&o)
	WithClock(nil)(&o)
	WithMetricsRecorder(nil)(&o)
	if o.logger == nil || o.tracer == nil || o.audit == nil || o.clock == nil || len(o.metrics) != 0 {
		t.Fatalf("nil options must keep defaults")
	}
}

func TestMetricsFanOut(t *testing.T) {
	a, b := &captureMetricsRecorder{}, &captureMetricsRecorder{}
	refreshed(t, WithMetricsRecorder(a), WithMetricsRecorder(b))
	if !a.has(OpRefresh, true) || !b.has(OpRefresh, true) {
		t.Fatalf("every recorder should observe the refresh")
	}
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), OpRefresh, true, 3*time.Millisecond)
	rec.Observe(context.Background(), OpRefresh, false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	snap := rec.Snapshot()
	if snap.Results[OpRefresh]["success"] != 1 || snap.Results[OpRefresh]["error"] != 1 {
		t.Fatalf("unexpected counts %+v", snap.Results)
	}
	if snap.DurationsMS[OpRefresh] != 4 || len(snap.Results) != 1 {
		t.Fatalf("unexpected durations %+v", snap.DurationsMS)
	}
	v := expvar.Get(rec.Name())
	if v == nil || !strings.Contains(v.String(), `"results_total"`) {
		t.Fatalf("recorder not published under %s", rec.Name())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	svc := refreshed(t, WithMetricsRecorder(rec))
	if _, err := svc.Link(context.Background()); err != nil {
		t.Fatalf("link: %v", err)
	}
	rec.Observe(context.Background(), OpRefresh, false, time.Second)

	if got := testutil.ToFloat64(rec.total.WithLabelValues(OpRefresh, "success")); got != 1 {
		t.Fatalf("refresh successes = %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues(OpRefresh, "error")); got != 1 {
		t.Fatalf("refresh errors = %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 3 {
		t.Fatalf("expected three latency series, got %d", n)
	}
	families, err := reg.Gather()
	if err != nil || len(families) != 2 {
		t.Fatalf("gather: %d families %v", len(families), err)
	}
	results := rec.Results()
	if results[OpRefresh]["success"] != 1 || results[OpRefresh]["error"] != 1 || results[OpLink]["success"] != 1 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestJSONTracerRecordsNestedSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx, outer := tracer.Start(context.Background(), OpRefresh)
	_, inner := tracer.Start(ctx, "persist")
	inner.End(errors.New("boom"))
	inner.End(nil)
	outer.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("span ended twice should record once, got %d", len(entries))
	}
	if entries[0].Operation != "persist" || entries[0].Parent != OpRefresh || entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected inner span %+v", entries[0])
	}
	if entries[1].Parent != "" || entries[1].Status != "success" {
		t.Fatalf("unexpected outer span %+v", entries[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two json lines, got %q", buf.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Operation != OpRefresh {
		t.Fatalf("decode trace line: %+v %v", decoded, err)
	}
}

func TestJSONTracerRetentionIsBounded(t *testing.T) {
	tracer := NewJSONTracer(nil)
	tracer.limit = 3
	for i := 0; i < 5; i++ {
		_, span := tracer.Start(context.Background(), fmt.Sprintf("op-%d", i))
		span.End(nil)
	}
	entries := tracer.Entries()
	if len(entries) != 3 || entries[0].Operation != "op-2" || entries[2].Operation != "op-4" {
		t.Fatalf("unexpected retained spans %+v", entries)
	}
}

func TestServiceSpansThroughJSONTracer(t *testing.T) {
	tracer := NewJSONTracer(nil)
	refreshed(t, WithTracer(tracer))
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != OpRefresh || entries[0].Status != "success" {
		t.Fatalf("unexpected spans %+v", entries)
	}
}
