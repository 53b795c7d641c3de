package blob

import (
	"context"
	"fmt"

	fsstore "fleetcore/internal/infra/blob/fs"
	memstore "fleetcore/internal/infra/blob/memory"
	s3store "fleetcore/internal/infra/blob/s3"
)

// S3Config carries bucket, endpoint and credentials for the s3 driver.
type S3Config = s3store.Config

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open builds the Store named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem stores objects as files under root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory keeps objects in process memory.
func NewMemory() Store { return memstore.New() }

func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// NewMockS3ForTests runs the s3 driver against an in-process fake bucket.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
