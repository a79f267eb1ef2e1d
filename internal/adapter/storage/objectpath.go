package storage

import (
	"context"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// HourLayout names the per-hour directory objects are grouped under.
const HourLayout = "2006-01-02T15"

// ObjectPath builds [prefix/][target/]<UTC hour>/<basename of localPath>.
func ObjectPath(prefix string, scopeByTarget bool, target string, now time.Time, localPath string) string {
	var parts []string
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if scopeByTarget && target != "" {
		parts = append(parts, target)
	}
	parts = append(parts, now.UTC().Format(HourLayout), filepath.Base(localPath))
	return path.Join(parts...)
}

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// EnsureBucket creates bucket when it is not listed. Failures are logged and
// left for the upload itself to surface.
func EnsureBucket(ctx context.Context, store domain.ObjectStore, bucket, region string, log Logger) {
	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		log.Warnf("could not list buckets, assuming %s exists: %v", bucket, err)
		return
	}
	if slices.Contains(buckets, bucket) {
		return
	}

	if err := store.MakeBucket(ctx, bucket, region); err != nil {
		log.Warnf("could not create bucket %s: %v", bucket, err)
		return
	}
	log.Infof("created bucket %s in %s", bucket, region)
}
