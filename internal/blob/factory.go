// Package blob opens the configured archive store for ledger exports.
package blob

import (
	"context"
	"fmt"

	"growpod/internal/blob/core"
	"growpod/internal/config"
	"growpod/internal/infra/blob/fs"
	"growpod/internal/infra/blob/memory"
	"growpod/internal/infra/blob/s3"
)

// Store is the archive store contract.
type Store = core.Store

// Open selects a Store implementation from cfg.Driver: fs (default), s3 or memory.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch core.Driver(cfg.Driver) {
	case "", core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
