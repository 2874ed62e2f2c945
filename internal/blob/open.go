package blob

import (
	"context"
	"fmt"
	"os"

	"regland/internal/infra/blob/fs"
	"regland/internal/infra/blob/memory"
	"regland/internal/infra/blob/s3"
)

// Environment variables read by Open. S3 settings are documented on
// the s3 backend.
const (
	EnvDriver = "REGLAND_BLOB_DRIVER"
	EnvFSRoot = "REGLAND_BLOB_FS_ROOT"
)

// Open selects a backend from REGLAND_BLOB_DRIVER (fs|s3|memory, default fs).
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv(EnvFSRoot))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// NewFilesystem returns a store rooted at root (default ./artifacts).
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns a process-local store.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
