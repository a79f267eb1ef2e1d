package usecase

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// Retention deletes uploaded backups older than the retention window.
type Retention struct {
	store         domain.ObjectStore
	bucket        string
	prefix        string
	retentionDays int
	clock         clock.Clock
	logger        Logger
}

func NewRetention(
	store domain.ObjectStore,
	bucket string,
	prefix string,
	retentionDays int,
	clk clock.Clock,
	logger Logger,
) *Retention {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Retention{
		store:         store,
		bucket:        bucket,
		prefix:        prefix,
		retentionDays: retentionDays,
		clock:         clk,
		logger:        logger,
	}
}

// Execute removes expired objects. Only objects under an hour directory are
// considered; anything else in the bucket is left alone.
func (uc *Retention) Execute(ctx context.Context) error {
	if uc.retentionDays <= 0 {
		return nil
	}
	pruner, ok := uc.store.(domain.ObjectPruner)
	if !ok {
		uc.logger.Warnf("Storage backend cannot list objects, skipping retention")
		return nil
	}

	cutoff := uc.clock.Now().AddDate(0, 0, -uc.retentionDays)
	uc.logger.Infof("Starting cleanup, retention: %d days (before %s)", uc.retentionDays, cutoff.UTC().Format(hourFormat))

	objects, err := pruner.ListObjects(ctx, uc.bucket, uc.prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", uc.bucket, err)
	}

	deleted, failed := 0, 0
	for _, obj := range objects {
		created, ok := backupTime(obj.Path)
		if !ok || !created.Before(cutoff) {
			continue
		}
		uc.logger.Infof("Deleting old backup from %s: %s", uc.bucket, obj.Path)
		if err := pruner.RemoveObject(ctx, uc.bucket, obj.Path); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", obj.Path, uc.bucket, err)
			failed++
			continue
		}
		deleted++
	}

	uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, uc.bucket)
	if failed > 0 {
		return fmt.Errorf("%w: %d object(s) could not be deleted", domain.ErrUpload, failed)
	}
	return nil
}

const hourFormat = "2006-01-02 15:00 MST"
