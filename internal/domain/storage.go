package domain

import (
	"context"
	"time"
)

// ObjectStore is the object storage collaborator.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	MakeBucket(ctx context.Context, name, region string) error
	PutObject(ctx context.Context, bucket, objectPath, localPath string) error
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Path     string
	Size     int64
	Modified time.Time
}

// ObjectPruner is implemented by stores that can list and delete objects,
// which retention needs.
type ObjectPruner interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, objectPath string) error
}
