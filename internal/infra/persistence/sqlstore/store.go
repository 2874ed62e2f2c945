package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"regland/pkg/genome"
)

// Compile-time contract assertion.
var _ genome.PersistentStore = (*Store)(nil)

// Store persists the input dataset as JSON buckets and the derived tables as
// normalized rows. Every replace runs in a single transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := ApplySchema(ctx, db, d); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

var datasetBuckets = []string{"genes", "elements", "sites", "domains", "variants", "evidence"}

func datasetTarget(d *genome.Dataset, bucket string) any {
	switch bucket {
	case "genes":
		return &d.Genes
	case "elements":
		return &d.Elements
	case "sites":
		return &d.Sites
	case "domains":
		return &d.Domains
	case "variants":
		return &d.Variants
	case "evidence":
		return &d.Evidence
	}
	return nil
}

// ReplaceDataset stores every bucket of the dataset and clears the derived
// tables in one transaction, so a new batch starts unlabeled and unlinked.
func (s *Store) ReplaceDataset(ctx context.Context, dataset genome.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearDerived(ctx, tx); err != nil {
			return err
		}
		upsert := fmt.Sprintf(`INSERT INTO %s(bucket,payload) VALUES(%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
			TableDatasetState, s.dialect.placeholders(2))
		for _, bucket := range datasetBuckets {
			data, err := json.Marshal(datasetTarget(&dataset, bucket))
			if err != nil {
				return fmt.Errorf("encode %s: %w", bucket, err)
			}
			if _, err := tx.ExecContext(ctx, upsert, bucket, data); err != nil {
				return fmt.Errorf("upsert %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func clearDerived(ctx context.Context, tx *sql.Tx) error {
	for _, table := range derivedTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// LoadDataset reads the stored dataset; missing buckets stay empty.
func (s *Store) LoadDataset(ctx context.Context) (genome.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT bucket, payload FROM %s`, TableDatasetState))
	if err != nil {
		return genome.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var d genome.Dataset
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return genome.Dataset{}, fmt.Errorf("scan dataset: %w", err)
		}
		target := datasetTarget(&d, bucket)
		if target == nil || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return genome.Dataset{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return genome.Dataset{}, fmt.Errorf("iterate dataset: %w", err)
	}
	return d, nil
}

// ReplaceDerived drops every derived row and writes the new tables. On any
// error the transaction is rolled back and the previous tables remain.
func (s *Store) ReplaceDerived(ctx context.Context, t genome.DerivedTables) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearDerived(ctx, tx); err != nil {
			return err
		}
		d := s.dialect
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(slot,run_id,built_at) VALUES(%s)`, TableRefreshRuns, d.placeholders(3)),
			1, t.RunID, t.BuiltAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert refresh run: %w", err)
		}
		insertLabel := fmt.Sprintf(`INSERT INTO %s(element_id,class,support,region_id,cluster_id) VALUES(%s)`, TableLabels, d.placeholders(5))
		for _, l := range t.Labels {
			if _, err := tx.ExecContext(ctx, insertLabel, l.ElementID, string(l.Class), l.Support, l.RegionID, l.ClusterID); err != nil {
				return fmt.Errorf("insert label %d: %w", l.ElementID, err)
			}
		}
		insertRegion := fmt.Sprintf(`INSERT INTO %s(region_id,species,chrom,start_bp,end_bp,members) VALUES(%s)`, TableRegions, d.placeholders(6))
		for _, r := range t.Regions {
			members, err := json.Marshal(r.Members)
			if err != nil {
				return fmt.Errorf("encode members of %s: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx, insertRegion, r.ID, r.Species, r.Chrom, r.Start, r.End, string(members)); err != nil {
				return fmt.Errorf("insert region %s: %w", r.ID, err)
			}
		}
		insertLink := fmt.Sprintf(`INSERT INTO %s(gene_id,element_id,method,distance_bp) VALUES(%s)`, TableLinks, d.placeholders(4))
		for _, l := range t.Links {
			if _, err := tx.ExecContext(ctx, insertLink, l.GeneID, l.ElementID, string(l.Method), l.Distance); err != nil {
				return fmt.Errorf("insert link %d/%d: %w", l.GeneID, l.ElementID, err)
			}
		}
		insertOverlap := fmt.Sprintf(`INSERT INTO %s(variant_id,element_id) VALUES(%s)`, TableOverlaps, d.placeholders(2))
		for _, o := range t.Overlaps {
			if _, err := tx.ExecContext(ctx, insertOverlap, o.VariantID, o.ElementID); err != nil {
				return fmt.Errorf("insert overlap %d/%d: %w", o.VariantID, o.ElementID, err)
			}
		}
		return nil
	})
}

// LoadDerived reads the stored derived tables. The boolean is false when no
// refresh has been stored yet.
func (s *Store) LoadDerived(ctx context.Context) (genome.DerivedTables, bool, error) {
	var t genome.DerivedTables
	found := false
	err := s.query(ctx, fmt.Sprintf(`SELECT run_id, built_at FROM %s`, TableRefreshRuns), func(rows *sql.Rows) error {
		var builtAt string
		if err := rows.Scan(&t.RunID, &builtAt); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, builtAt)
		if err != nil {
			return fmt.Errorf("parse built_at: %w", err)
		}
		t.BuiltAt = ts
		found = true
		return nil
	})
	if err != nil || !found {
		return genome.DerivedTables{}, false, err
	}
	if err := s.query(ctx, fmt.Sprintf(`SELECT element_id, class, support, region_id, cluster_id FROM %s ORDER BY element_id`, TableLabels), func(rows *sql.Rows) error {
		var l genome.ConservationLabel
		var class string
		if err := rows.Scan(&l.ElementID, &class, &l.Support, &l.RegionID, &l.ClusterID); err != nil {
			return err
		}
		l.Class = genome.ParseClass(class)
		t.Labels = append(t.Labels, l)
		return nil
	}); err != nil {
		return genome.DerivedTables{}, false, err
	}
	if err := s.query(ctx, fmt.Sprintf(`SELECT region_id, species, chrom, start_bp, end_bp, members FROM %s ORDER BY species, chrom, start_bp, end_bp`, TableRegions), func(rows *sql.Rows) error {
		var r genome.CanonicalRegion
		var members string
		if err := rows.Scan(&r.ID, &r.Species, &r.Chrom, &r.Start, &r.End, &members); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(members), &r.Members); err != nil {
			return fmt.Errorf("decode members of %s: %w", r.ID, err)
		}
		t.Regions = append(t.Regions, r)
		return nil
	}); err != nil {
		return genome.DerivedTables{}, false, err
	}
	if err := s.query(ctx, fmt.Sprintf(`SELECT gene_id, element_id, method, distance_bp FROM %s ORDER BY gene_id, element_id`, TableLinks), func(rows *sql.Rows) error {
		var l genome.Link
		var method string
		if err := rows.Scan(&l.GeneID, &l.ElementID, &method, &l.Distance); err != nil {
			return err
		}
		l.Method = genome.LinkMethod(method)
		t.Links = append(t.Links, l)
		return nil
	}); err != nil {
		return genome.DerivedTables{}, false, err
	}
	if err := s.query(ctx, fmt.Sprintf(`SELECT variant_id, element_id FROM %s ORDER BY variant_id, element_id`, TableOverlaps), func(rows *sql.Rows) error {
		var o genome.VariantOverlap
		if err := rows.Scan(&o.VariantID, &o.ElementID); err != nil {
			return err
		}
		t.Overlaps = append(t.Overlaps, o)
		return nil
	}); err != nil {
		return genome.DerivedTables{}, false, err
	}
	return t, true, nil
}

func (s *Store) query(ctx context.Context, q string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query %q: %w", q, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %q: %w", q, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %q: %w", q, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
