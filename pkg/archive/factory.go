package archive

import (
	"context"
	"fmt"
	"path/filepath"
)

// Config selects and configures a Store.
type Config struct {
	// Type is "fs" (default), "s3" or "gcs".
	Type   string
	Dir    string
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint.
	Endpoint string
	Prefix   string
}

// NewStore builds the configured Store. ledgerDir is the default parent of
// the filesystem archive.
func NewStore(ctx context.Context, cfg Config, ledgerDir string) (Store, error) {
	switch cfg.Type {
	case "", "fs":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(ledgerDir, "_archive")
		}
		return NewFileStore(dir)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case "gcs":
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported store type %q", cfg.Type)
	}
}
