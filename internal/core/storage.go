package core

import (
	"context"
	"fmt"

	"fleetcore/internal/blob"
	"fleetcore/internal/infra/persistence/blobkv"
	"fleetcore/internal/infra/persistence/memory"
	"fleetcore/internal/infra/persistence/postgres"
	"fleetcore/internal/infra/persistence/sqlite"
	"fleetcore/pkg/domain"
)

// StorageConfig selects and configures the record backend.
type StorageConfig struct {
	Driver      domain.StorageDriver
	SQLitePath  string
	PostgresDSN string
	// Blob and BlobPrefix apply to the blob driver.
	Blob       blob.Config
	BlobPrefix string
}

// OpenPersistentStore builds the backend named by cfg.Driver. An empty driver
// selects sqlite.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig) (domain.PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = domain.StorageSQLite
	}
	switch driver {
	case domain.StorageMemory:
		return memory.NewStore(), nil
	case domain.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case domain.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case domain.StorageBlob:
		blobs, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return blobkv.NewStore(blobs, cfg.BlobPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
