package domain

import "context"

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBlob     StorageDriver = "blob"     // objects in a blob store (fs / s3)
)

// KVReader provides read access to stored values.
type KVReader interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Keys returns every key with the prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// KVTransaction buffers writes. Reads observe the transaction's own writes;
// nothing is visible to other callers until the transaction commits.
type KVTransaction interface {
	KVReader
	Put(key string, value []byte)
	Delete(key string)
}

// PersistentStore is the minimal abstraction over durable backends used by
// the entity store. Backend failures are reported as ErrStorageUnavailable;
// errors returned by fn are passed through untouched and discard the writes.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(KVTransaction) error) error
	View(ctx context.Context, fn func(KVReader) error) error
	Driver() StorageDriver
	Close() error
}
