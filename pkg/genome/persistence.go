package genome

import "context"

// DerivedStore persists the derived tables of a refresh. ReplaceDerived must
// be all-or-nothing: on error the previously stored tables remain intact.
type DerivedStore interface {
	ReplaceDerived(ctx context.Context, tables DerivedTables) error
	LoadDerived(ctx context.Context) (DerivedTables, bool, error)
}

// DatasetStore persists the immutable input batch. Replacing the dataset also
// drops any stored derived tables.
type DatasetStore interface {
	ReplaceDataset(ctx context.Context, dataset Dataset) error
	LoadDataset(ctx context.Context) (Dataset, error)
}

// PersistentStore is implemented by every durable backend.
type PersistentStore interface {
	DerivedStore
	DatasetStore
	Close() error
}
