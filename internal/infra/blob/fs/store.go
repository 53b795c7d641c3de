// Package fs keeps blobs as plain files under a root directory. Each object
// has a JSON sidecar named <file>.meta holding its content type, metadata,
// etag and timestamps.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"fleetcore/internal/blob/core"
)

const (
	metaSuffix = ".meta"
	tmpPrefix  = ".tmp-"

	defaultRoot = "./fleetdata"
)

var errBadKey = errors.New("fs blob: invalid key")

type Store struct {
	root string
	// writes serializes Put and Delete so a sidecar always follows its data file.
	writes sync.Mutex
}

// New opens the store at root, creating the directory when missing.
func New(root string) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs blob: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root is the directory holding the objects.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func checkKey(key string) (string, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return "", fmt.Errorf("%w: empty", errBadKey)
	case strings.HasPrefix(key, "/"):
		return "", fmt.Errorf("%w: %q is absolute", errBadKey, key)
	case slices.Contains(strings.Split(key, "/"), ".."):
		return "", fmt.Errorf("%w: %q leaves the root", errBadKey, key)
	case strings.HasSuffix(key, metaSuffix), strings.HasPrefix(path.Base(key), tmpPrefix):
		return "", fmt.Errorf("%w: %q uses a reserved name", errBadKey, key)
	}
	return path.Clean(key), nil
}

func (s *Store) pathFor(key string) (data, meta string, err error) {
	clean, err := checkKey(key)
	if err != nil {
		return "", "", err
	}
	data = filepath.Join(s.root, filepath.FromSlash(clean))
	return data, data + metaSuffix, nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	data, meta, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	s.writes.Lock()
	defer s.writes.Unlock()

	now := time.Now().UTC()
	sc := sidecar{ContentType: opts.ContentType, Metadata: maps.Clone(opts.Metadata), CreatedAt: now, UpdatedAt: now}
	if prev, err := readMeta(meta); err == nil {
		sc.CreatedAt = prev.CreatedAt
		if opts.IfAbsent {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
		}
	} else if opts.IfAbsent && exists(data) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}

	sc.Size, sc.ETag, err = writeAtomically(data, r)
	if err != nil {
		return core.Info{}, err
	}
	if err := writeMeta(meta, sc); err != nil {
		return core.Info{}, err
	}
	return s.info(key, sc), nil
}

// writeAtomically copies r into a temp file beside dst and renames it into
// place, returning the size and sha256 etag of what was written.
func writeAtomically(dst string, r io.Reader) (int64, string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", err
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(sum.Sum(nil)), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	data, meta, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	sc, err := readMeta(meta)
	if err != nil {
		return core.Info{}, nil, missing(key, err)
	}
	f, err := os.Open(data)
	if err != nil {
		return core.Info{}, nil, missing(key, err)
	}
	return s.info(key, sc), f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	_, meta, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	sc, err := readMeta(meta)
	if err != nil {
		return core.Info{}, missing(key, err)
	}
	return s.info(key, sc), nil
}

// Delete removes the object and its sidecar and reports whether the object existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	data, meta, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	s.writes.Lock()
	defer s.writes.Unlock()
	err = os.Remove(data)
	_ = os.Remove(meta)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// List finds objects through their sidecars.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		sc, err := readMeta(p)
		if err != nil {
			return err
		}
		out = append(out, s.info(key, sc))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// PresignURL hands out a stable local link. There is no signature to expire.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	if _, err := checkKey(key); err != nil {
		return "", err
	}
	return localURL(key), nil
}

func localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}).String()
}

func (s *Store) info(key string, sc sidecar) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.ETag,
		Metadata:     maps.Clone(sc.Metadata),
		LastModified: sc.UpdatedAt,
		URL:          localURL(key),
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func missing(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

func writeMeta(p string, sc sidecar) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

func readMeta(p string) (sidecar, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode %s: %w", p, err)
	}
	return sc, nil
}
