// Package blob selects a concrete blob store backend for branch exports.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"geodraft/internal/blob/core"
	"geodraft/internal/config"
	"geodraft/internal/infra/blob/fs"
	"geodraft/internal/infra/blob/memory"
	"geodraft/internal/infra/blob/s3"
)

// Open constructs a blob store from a loaded configuration document. An empty
// driver defaults to the filesystem store.
func Open(ctx context.Context, cfg config.Blob) (core.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(core.DriverFilesystem)
	}
	switch core.Driver(driver) {
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// OpenFromEnv constructs a blob store from process environment.
//
//	GEODRAFT_BLOB_DRIVER: memory|fs|s3 (default fs)
//	GEODRAFT_BLOB_FS_ROOT: filesystem root for driver=fs
//	GEODRAFT_BLOB_S3_BUCKET / _REGION / _ENDPOINT / _PATH_STYLE: s3 settings
func OpenFromEnv(ctx context.Context) (core.Store, error) {
	return Open(ctx, config.Blob{
		Driver: os.Getenv("GEODRAFT_BLOB_DRIVER"),
		FSRoot: os.Getenv("GEODRAFT_BLOB_FS_ROOT"),
		S3: config.S3{
			Bucket:         os.Getenv("GEODRAFT_BLOB_S3_BUCKET"),
			Region:         os.Getenv("GEODRAFT_BLOB_S3_REGION"),
			Endpoint:       os.Getenv("GEODRAFT_BLOB_S3_ENDPOINT"),
			ForcePathStyle: strings.EqualFold(os.Getenv("GEODRAFT_BLOB_S3_PATH_STYLE"), "true"),
		},
	})
}
