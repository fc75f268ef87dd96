//go:build gcp

package artifacts

import "context"

func openGCS(ctx context.Context, opts Options) (Store, error) {
	s, err := NewGCSStore(ctx, GCSConfig{Bucket: opts.GCSBucket, Prefix: opts.GCSPrefix})
	if err != nil {
		return nil, err
	}
	return s, nil
}
