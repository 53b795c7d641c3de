// Package config loads fleetcore settings from FLEETCORE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"fleetcore/internal/blob"
	"fleetcore/internal/core"
	"fleetcore/internal/entity"
	"fleetcore/pkg/domain"
)

const envPrefix = "FLEETCORE_"

const (
	defaultHTTPAddr  = ":8080"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Config is the validated runtime configuration.
type Config struct {
	Storage          core.StorageConfig
	Images           blob.Config
	ImagesEnabled    bool
	MaxImageBytes    int64
	HTTPAddr         string
	LogLevel         slog.Level
	LogFormat        string
	Seed             bool
	ReconcileOnStart bool
	PageLimit        int
}

// Load reads .env (when present) and then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, normally os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := reader{lookup: lookup}
	cfg := Config{
		HTTPAddr:  env.str("HTTP_ADDR", defaultHTTPAddr),
		LogFormat: strings.ToLower(env.str("LOG_FORMAT", defaultLogFormat)),
	}
	cfg.Storage = core.StorageConfig{
		Driver:      domain.StorageDriver(strings.ToLower(env.str("STORAGE_DRIVER", string(domain.StorageSQLite)))),
		SQLitePath:  env.str("SQLITE_PATH", ""),
		PostgresDSN: env.str("POSTGRES_DSN", ""),
		BlobPrefix:  env.str("BLOB_PREFIX", ""),
	}
	cfg.Storage.Blob = blob.Config{
		Driver: blob.Driver(strings.ToLower(env.str("BLOB_DRIVER", string(blob.DriverFilesystem)))),
		FSRoot: env.str("BLOB_FS_ROOT", ""),
		S3: blob.S3Config{
			Bucket:          env.str("BLOB_S3_BUCKET", ""),
			Region:          env.str("BLOB_S3_REGION", ""),
			Endpoint:        env.str("BLOB_S3_ENDPOINT", ""),
			AccessKeyID:     env.str("BLOB_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.str("BLOB_S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       env.boolean("BLOB_S3_PATH_STYLE", false),
		},
	}
	cfg.Images = cfg.Storage.Blob
	cfg.ImagesEnabled = env.boolean("IMAGES", true)
	cfg.MaxImageBytes = int64(env.integer("MAX_IMAGE_BYTES", int(core.DefaultMaxImageBytes)))
	cfg.Seed = env.boolean("SEED", true)
	cfg.ReconcileOnStart = env.boolean("RECONCILE_ON_START", false)
	cfg.PageLimit = env.integer("PAGE_LIMIT", entity.DefaultLimit)
	level := env.str("LOG_LEVEL", defaultLogLevel)
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		env.fail("LOG_LEVEL", level)
	}
	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations that cannot be served.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case domain.StorageMemory, domain.StorageSQLite, domain.StoragePostgres, domain.StorageBlob:
	default:
		return fmt.Errorf("%sSTORAGE_DRIVER: unknown driver %q", envPrefix, c.Storage.Driver)
	}
	switch c.Storage.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Storage.Blob.S3.Bucket == "" {
			return fmt.Errorf("%sBLOB_S3_BUCKET: required for the s3 blob driver", envPrefix)
		}
	default:
		return fmt.Errorf("%sBLOB_DRIVER: unknown driver %q", envPrefix, c.Storage.Blob.Driver)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%sLOG_FORMAT: must be text or json", envPrefix)
	}
	if c.PageLimit <= 0 || c.PageLimit > entity.MaxLimit {
		return fmt.Errorf("%sPAGE_LIMIT: must be between 1 and %d", envPrefix, entity.MaxLimit)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("%sMAX_IMAGE_BYTES: must be > 0", envPrefix)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type reader struct {
	lookup func(string) (string, bool)
	bad    []string
}

func (r *reader) str(name, def string) string {
	if v, ok := r.lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) boolean(name string, def bool) bool {
	raw := r.str(name, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(name, raw)
		return def
	}
	return v
}

func (r *reader) integer(name string, def int) int {
	raw := r.str(name, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(name, raw)
		return def
	}
	return v
}

func (r *reader) fail(name, value string) {
	r.bad = append(r.bad, fmt.Sprintf("%s%s=%q", envPrefix, name, value))
}

func (r *reader) err() error {
	if len(r.bad) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(r.bad, ", "))
}
