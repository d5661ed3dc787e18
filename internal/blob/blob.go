// Package blob is the entry point to the snapshot archive backends. Callers
// depend on Store and open a backend with Open; only this package imports the
// concrete implementations.
package blob

import (
	"context"

	"github.com/cockroachdb/errors"

	"periodcore/internal/blob/core"
	"periodcore/internal/infra/blob/fs"
	memorystore "periodcore/internal/infra/blob/memory"
	infraS3 "periodcore/internal/infra/blob/s3"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound      = core.ErrNotFound
	ErrAlreadyExists = core.ErrAlreadyExists
)

// Config selects and parameterizes a backend.
type Config struct {
	Driver      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Open constructs the backend named by cfg.Driver; empty means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memorystore.New(), nil
	case DriverS3:
		return infraS3.New(ctx, infraS3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, errors.Newf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewMockS3ForTests returns an S3 Store backed by an in-process fake bucket.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
