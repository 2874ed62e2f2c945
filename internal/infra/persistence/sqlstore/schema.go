// Package sqlstore implements the durable dataset and derived-table store on
// top of database/sql. The sqlite and postgres packages only differ in the
// driver they open and the Dialect they pass in.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string
	// PayloadType is the column type used for JSON payloads.
	PayloadType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	Placeholder: func(int) string { return "?" },
}

// Postgres is the dialect of the pgx database/sql driver.
var Postgres = Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ",")
}

// Derived table names in the order they are cleared and refilled.
const (
	TableDatasetState = "dataset_state"
	TableRefreshRuns  = "refresh_runs"
	TableLabels       = "conservation_labels"
	TableRegions      = "canonical_regions"
	TableLinks        = "gene_element_links"
	TableOverlaps     = "variant_element_overlaps"
)

var derivedTables = []string{TableLabels, TableRegions, TableLinks, TableOverlaps, TableRefreshRuns}

// Schema returns the DDL statements for the dialect. The CHECK constraints
// repeat the link-table guards so the database refuses bad rows on its own.
func Schema(d Dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket TEXT PRIMARY KEY,
			payload %s NOT NULL
		)`, TableDatasetState, d.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			run_id TEXT NOT NULL,
			built_at TEXT NOT NULL
		)`, TableRefreshRuns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			element_id BIGINT PRIMARY KEY,
			class TEXT NOT NULL CHECK (class IN ('conserved','gained','lost','unlabeled')),
			support INTEGER NOT NULL CHECK (support >= 0),
			region_id TEXT NOT NULL,
			cluster_id INTEGER NOT NULL
		)`, TableLabels),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			region_id TEXT PRIMARY KEY,
			species TEXT NOT NULL,
			chrom TEXT NOT NULL,
			start_bp BIGINT NOT NULL CHECK (start_bp >= 0),
			end_bp BIGINT NOT NULL,
			members TEXT NOT NULL,
			CHECK (start_bp < end_bp)
		)`, TableRegions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			gene_id BIGINT NOT NULL,
			element_id BIGINT NOT NULL,
			method TEXT NOT NULL CHECK (method IN ('promoter','overlap','nearest','window-capped')),
			distance_bp BIGINT NOT NULL CHECK (distance_bp >= 0),
			PRIMARY KEY (gene_id, element_id)
		)`, TableLinks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			variant_id BIGINT NOT NULL,
			element_id BIGINT NOT NULL,
			PRIMARY KEY (variant_id, element_id)
		)`, TableOverlaps),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplySchema executes every DDL statement.
func ApplySchema(ctx context.Context, db execer, d Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}
