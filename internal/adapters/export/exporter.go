// Package export materializes derived tables and the quality report as
// artifacts in a blob store, one directory per refresh run.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"regland/internal/blob"
	"regland/internal/conservation"
	"regland/internal/linker"
	"regland/internal/quality"
	"regland/pkg/genome"
)

// DefaultPrefix is the key prefix under which run directories are written.
const DefaultPrefix = "runs"

// Artifact names inside a run directory.
const (
	LabelsArtifact   = "labels.tsv"
	RegionsArtifact  = "regions.tsv"
	LinksArtifact    = "links.tsv"
	OverlapsArtifact = "overlaps.tsv"
	ReportArtifact   = "quality_report.json"
	ManifestArtifact = "manifest.json"
)

const (
	contentTSV  = "text/tab-separated-values"
	contentJSON = "application/json"
)

// Run is the input of one export: the derived tables of a refresh and the
// quality report computed against them.
type Run struct {
	Tables genome.DerivedTables
	Report quality.Report
}

// Artifact describes one stored file.
type Artifact struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	Rows        int       `json:"rows"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manifest lists the artifacts of one run. It is written last, so a run
// directory without a manifest is incomplete.
type Manifest struct {
	RunID      string     `json:"run_id"`
	BuiltAt    time.Time  `json:"built_at"`
	ExportedAt time.Time  `json:"exported_at"`
	Artifacts  []Artifact `json:"artifacts"`
}

// Exporter writes run directories to a blob store.
type Exporter struct {
	store  blob.Store
	prefix string
	now    func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) {
		if p := strings.Trim(prefix, "/"); p != "" {
			e.prefix = p
		}
	}
}

// WithClock overrides the time source used for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExporter constructs an exporter over store.
func NewExporter(store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{store: store, prefix: DefaultPrefix, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing blob store.
func (e *Exporter) Store() blob.Store { return e.store }

func (e *Exporter) key(runID, name string) string {
	return path.Join(e.prefix, runID, name)
}

type rendered struct {
	name        string
	contentType string
	rows        int
	payload     []byte
}

func render(run Run) ([]rendered, error) {
	t := run.Tables
	var out []rendered
	add := func(name, contentType string, rows int, encode func(io.Writer) error) error {
		var buf bytes.Buffer
		if err := encode(&buf); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		out = append(out, rendered{name: name, contentType: contentType, rows: rows, payload: buf.Bytes()})
		return nil
	}
	steps := []error{
		add(LabelsArtifact, contentTSV, len(t.Labels), func(w io.Writer) error { return conservation.EncodeLabels(w, t.Labels) }),
		add(RegionsArtifact, contentTSV, len(t.Regions), func(w io.Writer) error { return conservation.EncodeRegions(w, t.Regions) }),
		add(LinksArtifact, contentTSV, len(t.Links), func(w io.Writer) error { return linker.EncodeLinks(w, t.Links) }),
		add(OverlapsArtifact, contentTSV, len(t.Overlaps), func(w io.Writer) error { return linker.EncodeOverlaps(w, t.Overlaps) }),
		add(ReportArtifact, contentJSON, len(run.Report.Summary), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(run.Report)
		}),
	}
	if err := errors.Join(steps...); err != nil {
		return nil, err
	}
	return out, nil
}

// Export writes every artifact of run followed by its manifest. Run ids are
// unique, so an existing run directory is an error.
func (e *Exporter) Export(ctx context.Context, run Run) (Manifest, error) {
	if e.store == nil {
		return Manifest{}, errors.New("export: blob store not configured")
	}
	runID := run.Tables.RunID
	if runID == "" || strings.ContainsAny(runID, "/\\") {
		return Manifest{}, fmt.Errorf("export: invalid run id %q", runID)
	}
	files, err := render(run)
	if err != nil {
		return Manifest{}, err
	}
	manifest := Manifest{RunID: runID, BuiltAt: run.Tables.BuiltAt}
	for _, f := range files {
		key := e.key(runID, f.name)
		info, err := e.store.Put(ctx, key, bytes.NewReader(f.payload), blob.PutOptions{
			ContentType: f.contentType,
			Metadata:    map[string]string{"run_id": runID, "artifact": f.name},
		})
		if err != nil {
			return Manifest{}, fmt.Errorf("store %s: %w", key, err)
		}
		manifest.Artifacts = append(manifest.Artifacts, Artifact{
			Name:        f.name,
			Key:         key,
			ContentType: f.contentType,
			SizeBytes:   int64(len(f.payload)),
			ETag:        info.ETag,
			Rows:        f.rows,
			CreatedAt:   e.now(),
		})
	}
	manifest.ExportedAt = e.now()
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	key := e.key(runID, ManifestArtifact)
	if _, err := e.store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{ContentType: contentJSON}); err != nil {
		return Manifest{}, fmt.Errorf("store %s: %w", key, err)
	}
	return manifest, nil
}

// Manifest loads the manifest of a completed run.
func (e *Exporter) Manifest(ctx context.Context, runID string) (Manifest, error) {
	_, rc, err := e.store.Get(ctx, e.key(runID, ManifestArtifact))
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = rc.Close() }()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return m, nil
}

// Runs lists the ids of completed runs, oldest manifest first.
func (e *Exporter) Runs(ctx context.Context) ([]string, error) {
	infos, err := e.store.List(ctx, e.prefix+"/")
	if err != nil {
		return nil, err
	}
	type entry struct {
		id string
		at time.Time
	}
	var runs []entry
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, e.prefix+"/")
		id, name, ok := strings.Cut(rest, "/")
		if !ok || name != ManifestArtifact {
			continue
		}
		runs = append(runs, entry{id: id, at: info.LastModified})
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].at.Equal(runs[j].at) {
			return runs[i].at.Before(runs[j].at)
		}
		return runs[i].id < runs[j].id
	})
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.id
	}
	return out, nil
}
