// Package blob is the entry point for ingredient image storage. Callers depend
// on blob.Store; only this package wires the infra backends.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"mealcore/internal/blob/core"
	"mealcore/internal/config"
	fsstore "mealcore/internal/infra/blob/fs"
	memorystore "mealcore/internal/infra/blob/memory"
	s3store "mealcore/internal/infra/blob/s3"
)

type (
	// Store aliases core.Store.
	Store = core.Store
	// Info aliases core.Info.
	Info = core.Info
	// PutOptions aliases core.PutOptions.
	PutOptions = core.PutOptions
	// Driver aliases core.Driver.
	Driver = core.Driver
)

// Driver identifiers re-exported for callers.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrExists aliases core.ErrExists.
	ErrExists = core.ErrExists
	// ErrNotFound aliases core.ErrNotFound.
	ErrNotFound = core.ErrNotFound
)

// Open selects a Store from configuration.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, s3store.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			PathStyle:       cfg.S3.PathStyle,
			URLExpiry:       cfg.S3.URLExpiry,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg s3store.Config) (Store, error) { return s3store.New(ctx, cfg) }

// ImageKey builds the storage key for an ingredient image. The file name is
// reduced to its base name so callers cannot escape the ingredient prefix.
func ImageKey(ingredientID, fileName string) (string, error) {
	if strings.TrimSpace(ingredientID) == "" {
		return "", fmt.Errorf("ingredient id required")
	}
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == ".." || strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("invalid image name %q", fileName)
	}
	return path.Join("ingredients", ingredientID, base), nil
}
