// Package core holds the object storage contract. It has no dependencies so
// both the backends under internal/infra/blob and the internal/blob facade can
// share it.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store keeps opaque objects under slash separated keys.
//
// Put replaces whatever the key held unless PutOptions.IfAbsent asks for a
// create-only write, which fails with ErrExists. Get, Head and Delete of an
// absent key fail with ErrNotFound, except Delete which reports false.
// List returns the objects whose key starts with prefix, ordered by key.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
}

// Driver names a backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	ErrNotFound    = errors.New("blob: object not found")
	ErrExists      = errors.New("blob: object already exists")
	ErrUnsupported = errors.New("blob: operation not supported by driver")
)

type PutOptions struct {
	ContentType string
	// Metadata is stored next to the object and returned in Info.
	Metadata map[string]string
	IfAbsent bool
}

// SignedURLOptions shapes a link from PresignURL. Only GET links are
// issued; Expiry defaults to 15 minutes where the backend honours it.
type SignedURLOptions struct {
	Method  string
	Expiry  time.Duration
	Headers map[string]string
}

// Info is the metadata view of a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}
