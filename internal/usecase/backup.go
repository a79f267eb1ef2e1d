package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"

	"github.com/semmidev/vaultkeeper/internal/adapter/storage"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/process"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/stats"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/streammerge"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/taskrunner"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Dumper writes a target's cluster dump to target.DumpPath().
type Dumper interface {
	Dump(ctx context.Context, target domain.BackupTarget) (process.Result, error)
}

// CatalogSource returns the catalog that lists a target's databases.
type CatalogSource interface {
	For(target domain.BackupTarget) domain.Catalog
}

type Merger interface {
	Prepend(targetPath string, header []byte) (string, error)
}

type BackupOptions struct {
	Bucket             string
	Region             string
	Prefix             string
	ScopeByTarget      bool
	Blacklist          []string
	UploadUncompressed bool
	KeepCompressed     bool
	AllowPartialDump   bool
	Concurrency        int
}

// Backup runs the dump, merge, compress, upload and cleanup stages for each
// target, one stage after another.
type Backup struct {
	targets    []domain.BackupTarget
	dumper     Dumper
	catalogs   CatalogSource
	merger     Merger
	compressor domain.Compressor
	store      domain.ObjectStore
	stats      *stats.Recorder
	clock      clock.Clock
	logger     Logger
	opts       BackupOptions
}

func NewBackup(
	targets []domain.BackupTarget,
	dumper Dumper,
	catalogs CatalogSource,
	merger Merger,
	compressor domain.Compressor,
	store domain.ObjectStore,
	recorder *stats.Recorder,
	clk clock.Clock,
	logger Logger,
	opts BackupOptions,
) *Backup {
	if clk == nil {
		clk = clock.WallClock
	}
	if recorder == nil {
		recorder = stats.New(0)
	}
	return &Backup{
		targets:    targets,
		dumper:     dumper,
		catalogs:   catalogs,
		merger:     merger,
		compressor: compressor,
		store:      store,
		stats:      recorder,
		clock:      clk,
		logger:     logger,
		opts:       opts,
	}
}

func (uc *Backup) Targets() []domain.BackupTarget {
	return uc.targets
}

// RunAll backs up every target with at most Concurrency pipelines in flight.
// It waits for all of them and returns the first failure. Reports are in
// target order; a target that never started has a nil report.
func (uc *Backup) RunAll(ctx context.Context) ([]*domain.RunReport, error) {
	reports := make([]*domain.RunReport, len(uc.targets))
	tasks := make([]taskrunner.Task, len(uc.targets))
	for i, target := range uc.targets {
		tasks[i] = taskrunner.Task{
			Label: target.Name,
			Run: func(ctx context.Context) error {
				report, err := uc.Execute(ctx, target)
				reports[i] = report
				return err
			},
		}
	}

	err := taskrunner.RunAll(ctx, tasks, uc.opts.Concurrency)
	return reports, err
}

type stageFunc func(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error

// Execute runs the pipeline for one target. The returned error is a
// *domain.StageError naming the failed stage. Artifacts of a failed run are
// left on disk.
func (uc *Backup) Execute(ctx context.Context, target domain.BackupTarget) (*domain.RunReport, error) {
	report := &domain.RunReport{Target: target.Name, StartedAt: uc.clock.Now()}
	uc.logger.Infof("[%s] Starting backup...", target.Name)

	stages := map[domain.Stage]stageFunc{
		domain.StageDump:     uc.dump,
		domain.StageMerge:    uc.merge,
		domain.StageCompress: uc.compress,
		domain.StageUpload:   uc.upload,
		domain.StageCleanup:  uc.cleanup,
	}

	for _, stage := range domain.Stages {
		started := uc.clock.Now()
		err := stages[stage](ctx, target, report)
		finished := uc.clock.Now()

		report.Timings = append(report.Timings, domain.StageTiming{Stage: stage, Started: started, Finished: finished})
		uc.stats.Record(string(stage), finished.Sub(started))

		if err != nil {
			report.Err = domain.NewStageError(target.Name, stage, nil, err)
			uc.logger.Errorf("[%s] %v", target.Name, report.Err)
			return report, report.Err
		}
		uc.logger.Infof("[%s] %s finished in %s", target.Name, stage, finished.Sub(started))
	}

	uc.logger.Infof("[%s] Backup completed in %s: %.2f MB dump, %.2f MB compressed",
		target.Name, report.Total(), domain.MB(report.DumpSize), domain.MB(report.CompressedSize))
	return report, nil
}

func (uc *Backup) dump(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error {
	if err := ensureDir(target.WorkDir); err != nil {
		return err
	}

	res, err := uc.dumper.Dump(ctx, target)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(target.DumpPath())
	valid := statErr == nil && info.Mode().IsRegular() && (res.ExitCode == 0 || info.Size() > 0)
	if !valid {
		msg := fmt.Sprintf("dump file %s was not produced", target.DumpPath())
		if res.ExitCode != 0 {
			msg += fmt.Sprintf(" (exit code %d)", res.ExitCode)
		}
		return fmt.Errorf("%w: %s", domain.ErrProcessFailure, msg)
	}
	if res.ExitCode != 0 {
		// a non-zero exit means some database is missing from the output
		if !uc.opts.AllowPartialDump {
			return fmt.Errorf("%w: dump exited with code %d, %s may be incomplete",
				domain.ErrProcessFailure, res.ExitCode, target.DumpPath())
		}
		uc.logger.Warnf("[%s] dump exited with code %d but produced %s", target.Name, res.ExitCode, target.DumpPath())
	}

	report.DumpSize = info.Size()
	uc.logger.Infof("[%s] Backup created, size: %.2f MB", target.Name, domain.MB(info.Size()))
	return nil
}

func (uc *Backup) merge(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error {
	names, err := uc.catalogs.For(target).DatabaseNames(ctx)
	if err != nil {
		return err
	}
	names = streammerge.Exclude(names, uc.opts.Blacklist)

	merged, err := uc.merger.Prepend(target.DumpPath(), streammerge.CreateDatabaseHeader(names))
	if err != nil {
		return err
	}

	info, err := os.Stat(merged)
	if err != nil {
		return fmt.Errorf("%w: stat merged dump: %w", domain.ErrIO, err)
	}
	report.DumpSize = info.Size()
	uc.logger.Infof("[%s] Prepended CREATE DATABASE for %d database(s)", target.Name, len(names))
	return nil
}

func (uc *Backup) compress(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error {
	if err := uc.compressor.Compress(target.DumpPath(), target.CompressedPath()); err != nil {
		return err
	}

	info, err := os.Stat(target.CompressedPath())
	if err != nil {
		return fmt.Errorf("%w: stat compressed dump: %w", domain.ErrIO, err)
	}
	report.CompressedSize = info.Size()
	if report.DumpSize > 0 {
		uc.logger.Infof("[%s] Compression complete, size: %.2f MB (%.1f%% of original)",
			target.Name, domain.MB(info.Size()), float64(info.Size())/float64(report.DumpSize)*100)
	}
	return nil
}

func (uc *Backup) upload(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error {
	for _, path := range []string{target.DumpPath(), target.CompressedPath()} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: artifact %s is missing: %w", domain.ErrProcessFailure, path, err)
		}
	}

	artifacts := []string{target.CompressedPath()}
	if uc.opts.UploadUncompressed {
		artifacts = []string{target.DumpPath(), target.CompressedPath()}
	}

	storage.EnsureBucket(ctx, uc.store, uc.opts.Bucket, uc.opts.Region, uc.logger)

	now := uc.clock.Now()
	for _, path := range artifacts {
		objectPath, err := uc.put(ctx, target.Name, path, now)
		if err != nil {
			return err
		}
		report.Objects = append(report.Objects, objectPath)
	}
	return nil
}

// UploadFile pushes one local file to the bucket under the current hour
// directory, as the upload stage would for targetName.
func (uc *Backup) UploadFile(ctx context.Context, targetName, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", domain.ErrIO, localPath)
	}

	storage.EnsureBucket(ctx, uc.store, uc.opts.Bucket, uc.opts.Region, uc.logger)
	return uc.put(ctx, targetName, localPath, uc.clock.Now())
}

func (uc *Backup) put(ctx context.Context, targetName, localPath string, now time.Time) (string, error) {
	objectPath := storage.ObjectPath(uc.opts.Prefix, uc.opts.ScopeByTarget, targetName, now, localPath)
	uc.logger.Infof("[%s] Uploading %s to %s/%s", targetName, localPath, uc.opts.Bucket, objectPath)
	if err := uc.store.PutObject(ctx, uc.opts.Bucket, objectPath, localPath); err != nil {
		if !errors.Is(err, domain.ErrUpload) && !errors.Is(err, domain.ErrIO) {
			err = fmt.Errorf("%w: %w", domain.ErrUpload, err)
		}
		return "", err
	}
	return objectPath, nil
}

func (uc *Backup) cleanup(ctx context.Context, target domain.BackupTarget, report *domain.RunReport) error {
	paths := []string{
		target.DumpPath(),
		target.DumpPath() + streammerge.OrigSuffix,
		target.DumpPath() + streammerge.TempSuffix,
	}
	if !uc.opts.KeepCompressed {
		paths = append(paths, target.CompressedPath())
	}

	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s is not a directory", domain.ErrIO, dir)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: stat work dir: %w", domain.ErrIO, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create work dir: %w", domain.ErrIO, err)
	}
	return nil
}
