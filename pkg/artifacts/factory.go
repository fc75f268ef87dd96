package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names an artifact storage backend.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendMemory Backend = "memory"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
)

// Options selects a backend. Fields for other backends are ignored.
type Options struct {
	Backend Backend
	DataDir string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	GCSBucket string
	GCSPrefix string
}

// Open builds the Store described by opts. The default is a FileStore
// under DataDir/artifacts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFS:
		dir := opts.DataDir
		if dir == "" {
			dir = "data"
		}
		fs, err := NewFileStore(filepath.Join(dir, "artifacts"))
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendS3:
		if opts.S3Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		region := opts.S3Region
		if region == "" {
			region = "us-east-1"
		}
		s3s, err := NewS3Store(ctx, S3Config{
			Bucket:   opts.S3Bucket,
			Region:   region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s3s, nil
	case BackendGCS:
		if opts.GCSBucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return openGCS(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Backend)
	}
}
