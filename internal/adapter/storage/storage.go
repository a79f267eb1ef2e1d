package storage

import (
	"context"
	"fmt"

	appconfig "github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
)

// New picks the backend named by cfg.Type.
func New(ctx context.Context, cfg *appconfig.StorageConfig) (domain.ObjectStore, error) {
	switch cfg.Type {
	case "s3":
		return NewS3(ctx, cfg)
	case "gdrive":
		return NewGDrive(ctx, cfg)
	case "local":
		return NewLocal(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", domain.ErrConfiguration, cfg.Type)
	}
}
