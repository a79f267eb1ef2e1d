package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// LocalStorage maps buckets to directories under basePath. Useful for NFS
// mounts and for running without object storage.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) ListBuckets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read directory: %w", domain.ErrUpload, err)
	}

	var buckets []string
	for _, entry := range entries {
		if entry.IsDir() {
			buckets = append(buckets, entry.Name())
		}
	}
	return buckets, nil
}

func (l *LocalStorage) MakeBucket(ctx context.Context, name, _ string) error {
	dir, err := l.resolve(name, "")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create bucket directory: %w", domain.ErrUpload, err)
	}
	return nil
}

func (l *LocalStorage) PutObject(ctx context.Context, bucket, objectPath, localPath string) error {
	destPath, err := l.resolve(bucket, objectPath)
	if err != nil {
		return err
	}

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open source: %w", domain.ErrIO, err)
	}
	defer source.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create object directory: %w", domain.ErrUpload, err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create dest: %w", domain.ErrUpload, err)
	}

	if _, err := dest.ReadFrom(source); err != nil {
		dest.Close()
		return fmt.Errorf("%w: failed to copy: %w", domain.ErrUpload, err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("%w: failed to close dest: %w", domain.ErrUpload, err)
	}

	return nil
}

func (l *LocalStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]domain.ObjectInfo, error) {
	root, err := l.resolve(bucket, "")
	if err != nil {
		return nil, err
	}

	var objects []domain.ObjectInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", rel, err)
		}
		objects = append(objects, domain.ObjectInfo{Path: rel, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to walk bucket: %w", domain.ErrUpload, err)
	}
	return objects, nil
}

func (l *LocalStorage) RemoveObject(ctx context.Context, bucket, objectPath string) error {
	path, err := l.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete file: %w", domain.ErrUpload, err)
	}
	return nil
}

func (l *LocalStorage) GetPath(bucket, objectPath string) string {
	return filepath.Join(l.basePath, bucket, filepath.FromSlash(objectPath))
}

// resolve maps a bucket and object path to a file under basePath, refusing
// paths that climb out of the bucket.
func (l *LocalStorage) resolve(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("%w: invalid bucket name %q", domain.ErrUpload, bucket)
	}
	root := filepath.Join(l.basePath, bucket)
	path := l.GetPath(bucket, objectPath)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object path %q escapes bucket", domain.ErrUpload, objectPath)
	}
	return path, nil
}
