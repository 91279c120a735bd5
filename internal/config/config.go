// Package config resolves runtime settings from MEALCORE_* environment
// variables, optionally seeded from dotenv files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage driver identifiers.
const (
	StorageMemory   = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   = "sqlite"   // embedded sqlite file
	StoragePostgres = "postgres" // PostgreSQL server
	StorageMongo    = "mongo"    // MongoDB replica set (transactions need one)
)

// Blob driver identifiers.
const (
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
)

// Defaults applied when a variable is unset.
const (
	DefaultSQLitePath     = "mealcore.db"
	DefaultMongoDatabase  = "mealcore"
	DefaultBlobRoot       = "./blobdata"
	DefaultFoodAPIBaseURL = "https://world.openfoodfacts.org"
	DefaultUserAgent      = "mealcore/1.0"
	DefaultRateCapacity   = 10
	DefaultRateWindow     = time.Minute
	DefaultFoodAPITimeout = 10 * time.Second
	DefaultPageSize       = 20
	DefaultS3Region       = "us-east-1"
	DefaultS3URLExpiry    = 15 * time.Minute
	DefaultLogLevel       = "info"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Storage     StorageConfig
	Blob        BlobConfig
	FoodAPI     FoodAPIConfig
	LogLevel    string
	MetricsAddr string
}

// StorageConfig selects and parameterises the persistent store.
type StorageConfig struct {
	Driver        string
	SQLitePath    string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
}

// BlobConfig selects the ingredient image store.
type BlobConfig struct {
	Driver string
	FSRoot string
	S3     S3Config
}

// S3Config holds S3 / MinIO parameters. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	URLExpiry       time.Duration
	PublicBaseURL   string
}

// FoodAPIConfig configures the external ingredient lookup client and its
// token bucket.
type FoodAPIConfig struct {
	BaseURL      string
	UserAgent    string
	RateCapacity int
	RateWindow   time.Duration
	Timeout      time.Duration
	PageSize     int
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads the given dotenv files (missing files are skipped) and overlays
// the process environment on top. Process variables always win.
func Load(files ...string) (Config, error) {
	fileValues := make(map[string]string)
	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read env file %s: %w", f, err)
		}
		for k, v := range values {
			fileValues[k] = v
		}
	}
	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	})
}

// FromLookup resolves a Config using the supplied lookup.
//
//	MEALCORE_STORAGE_DRIVER: memory|sqlite|postgres|mongo (default sqlite)
//	MEALCORE_SQLITE_PATH: sqlite file (default mealcore.db)
//	MEALCORE_POSTGRES_DSN: DSN when driver=postgres
//	MEALCORE_MONGO_URI / MEALCORE_MONGO_DATABASE: when driver=mongo
//	MEALCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	MEALCORE_BLOB_FS_ROOT, MEALCORE_BLOB_S3_*: blob backend parameters
//	MEALCORE_FOODAPI_*: lookup client and rate limit
//	MEALCORE_LOG_LEVEL, MEALCORE_METRICS_ADDR
func FromLookup(lookup LookupFunc) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Storage: StorageConfig{
			Driver:        strings.ToLower(r.str("MEALCORE_STORAGE_DRIVER", StorageSQLite)),
			SQLitePath:    r.str("MEALCORE_SQLITE_PATH", DefaultSQLitePath),
			PostgresDSN:   r.str("MEALCORE_POSTGRES_DSN", ""),
			MongoURI:      r.str("MEALCORE_MONGO_URI", ""),
			MongoDatabase: r.str("MEALCORE_MONGO_DATABASE", DefaultMongoDatabase),
		},
		Blob: BlobConfig{
			Driver: strings.ToLower(r.str("MEALCORE_BLOB_DRIVER", BlobFilesystem)),
			FSRoot: r.str("MEALCORE_BLOB_FS_ROOT", DefaultBlobRoot),
			S3: S3Config{
				Bucket:          r.str("MEALCORE_BLOB_S3_BUCKET", ""),
				Region:          r.str("MEALCORE_BLOB_S3_REGION", DefaultS3Region),
				Endpoint:        r.str("MEALCORE_BLOB_S3_ENDPOINT", ""),
				AccessKeyID:     r.str("MEALCORE_BLOB_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: r.str("MEALCORE_BLOB_S3_SECRET_ACCESS_KEY", ""),
				SessionToken:    r.str("MEALCORE_BLOB_S3_SESSION_TOKEN", ""),
				PathStyle:       r.boolean("MEALCORE_BLOB_S3_PATH_STYLE", false),
				URLExpiry:       r.duration("MEALCORE_BLOB_S3_URL_EXPIRY", DefaultS3URLExpiry),
				PublicBaseURL:   r.str("MEALCORE_BLOB_S3_PUBLIC_BASE_URL", ""),
			},
		},
		FoodAPI: FoodAPIConfig{
			BaseURL:      strings.TrimRight(r.str("MEALCORE_FOODAPI_BASE_URL", DefaultFoodAPIBaseURL), "/"),
			UserAgent:    r.str("MEALCORE_FOODAPI_USER_AGENT", DefaultUserAgent),
			RateCapacity: r.integer("MEALCORE_FOODAPI_RATE_CAPACITY", DefaultRateCapacity),
			RateWindow:   r.duration("MEALCORE_FOODAPI_RATE_WINDOW", DefaultRateWindow),
			Timeout:      r.duration("MEALCORE_FOODAPI_TIMEOUT", DefaultFoodAPITimeout),
			PageSize:     r.integer("MEALCORE_FOODAPI_PAGE_SIZE", DefaultPageSize),
		},
		LogLevel:    strings.ToLower(r.str("MEALCORE_LOG_LEVEL", DefaultLogLevel)),
		MetricsAddr: r.str("MEALCORE_METRICS_ADDR", ""),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("MEALCORE_POSTGRES_DSN required for postgres driver"))
		}
	case StorageMongo:
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("MEALCORE_MONGO_URI required for mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %s", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case BlobFilesystem, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("MEALCORE_BLOB_S3_BUCKET required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %s", c.Blob.Driver))
	}
	if c.FoodAPI.RateCapacity <= 0 {
		errs = append(errs, errors.New("MEALCORE_FOODAPI_RATE_CAPACITY must be positive"))
	}
	if c.FoodAPI.RateWindow <= 0 {
		errs = append(errs, errors.New("MEALCORE_FOODAPI_RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup LookupFunc
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
