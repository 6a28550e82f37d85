package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendNone Backend = "none"
	BackendFS   Backend = "fs"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend  Backend
	DataDir  string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewStore builds the configured backend. BackendNone (or "") returns a nil
// Store, which disables archiving.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case BackendS3:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case BackendGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Backend)
	}
}
