package app

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/semmidev/vaultkeeper/internal/adapter/compressor"
	"github.com/semmidev/vaultkeeper/internal/adapter/database"
	"github.com/semmidev/vaultkeeper/internal/adapter/notifier"
	"github.com/semmidev/vaultkeeper/internal/adapter/storage"
	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/logger"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/process"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/queue"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/scheduler"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/stats"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/streammerge"
	"github.com/semmidev/vaultkeeper/internal/usecase"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	passfile  *database.Passfile
	pool      *database.PostgresCatalog
	store     domain.ObjectStore
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	stats     *stats.Recorder
	backup    *usecase.Backup
	job       *usecase.Job
	retention *usecase.Retention
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	clock    clock.Clock
	spawner  process.Spawner
	notifier domain.Notifier
	logger   *logger.Logger
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

func WithSpawner(spawner process.Spawner) Option {
	return func(o *options) { o.spawner = spawner }
}

func WithNotifier(n domain.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.WallClock}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		log, err = logger.New(logger.Config{Level: cfg.App.LogLevel, File: cfg.App.LogFile, JSON: cfg.App.LogJSON})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	targets := cfg.Targets()
	log.Infof("Starting %s for %s with %d target(s)", cfg.App.Name, cfg.App.ServerName, len(targets))

	launcher := process.New(o.spawner, log.Named("process"))
	pool := connectCatalog(ctx, cfg, targets, log)

	// a nil *PostgresCatalog must not become a non-nil interface
	var hostCatalog domain.Catalog
	if pool != nil {
		hostCatalog = pool
	}
	catalogs := database.NewCatalogs(hostCatalog, &cfg.Database, launcher)

	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		closePool(pool)
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Type, err)
	}
	log.Infof("✓ %s storage ready (bucket: %s)", cfg.Storage.Type, cfg.Storage.Bucket)

	notify := o.notifier
	if notify == nil {
		notify, err = notifier.New(&cfg.Notify, log.Named("notify"))
		if err != nil {
			closePool(pool)
			return nil, fmt.Errorf("failed to initialize notifier: %w", err)
		}
	}

	recorder := stats.New(0)
	q := queue.New(o.clock, log.Named("queue"))

	backup := usecase.NewBackup(
		targets,
		database.NewPostgreSQL(&cfg.Database, &cfg.Backup, launcher),
		catalogs,
		streammerge.New(nil),
		compressor.NewGzipLevel(cfg.Backup.CompressionLevel),
		store,
		recorder,
		o.clock,
		log,
		usecase.BackupOptions{
			Bucket:             cfg.Storage.Bucket,
			Region:             cfg.Storage.Region,
			Prefix:             cfg.Storage.Prefix,
			ScopeByTarget:      cfg.Storage.ScopeByTarget,
			Blacklist:          cfg.Backup.Blacklist,
			UploadUncompressed: cfg.Backup.UploadUncompressed,
			KeepCompressed:     cfg.Backup.KeepCompressed,
			AllowPartialDump:   cfg.Backup.AllowPartialDump,
			Concurrency:        cfg.Backup.Concurrency,
		},
	)

	job := usecase.NewJob(backup, q, notify, recorder, log, usecase.JobOptions{
		Queue:       cfg.Schedule.Queue,
		Cron:        cfg.Schedule.Cron,
		Schedule:    cfg.ScheduleOptions(),
		NotifyBelow: cfg.Schedule.NotifyBelow,
		ServerName:  cfg.App.ServerName,
	})

	retention := usecase.NewRetention(store, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Backup.RetentionDays, o.clock, log)

	return &App{
		config:    cfg,
		logger:    log,
		passfile:  database.NewPassfile(&cfg.Database),
		pool:      pool,
		store:     store,
		queue:     q,
		scheduler: scheduler.New(),
		stats:     recorder,
		backup:    backup,
		job:       job,
		retention: retention,
	}, nil
}

// connectCatalog opens the pgx pool when some target dumps from the host.
// An unreachable server is not fatal: psql takes over the catalog lookup.
func connectCatalog(ctx context.Context, cfg *config.Config, targets []domain.BackupTarget, log *logger.Logger) *database.PostgresCatalog {
	needsHost := false
	for _, t := range targets {
		if t.Container == "" {
			needsHost = true
		}
	}
	if !needsHost {
		return nil
	}

	pool, err := database.NewPostgresCatalog(ctx, &cfg.Database)
	if err != nil {
		log.Warnf("Catalog pool unavailable, using %s: %v", cfg.Database.QueryTool, err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		log.Warnf("Could not reach %s:%d, using %s for the catalog: %v",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.QueryTool, err)
		pool.Close()
		return nil
	}
	log.Infof("✓ Connected to %s:%d", cfg.Database.Host, cfg.Database.Port)
	return pool
}

func closePool(pool *database.PostgresCatalog) {
	if pool != nil {
		pool.Close()
	}
}

// prepare writes the password file for host targets and makes sure the
// bucket exists.
func (a *App) prepare(ctx context.Context) error {
	if a.config.Database.Password != "" {
		if err := a.passfile.Create(); err != nil {
			return err
		}
		a.logger.Infof("✓ Credentials written to %s", a.passfile.Path())
	} else if a.pool != nil {
		if err := a.passfile.Check(); err != nil {
			a.logger.Warnf("No usable password file: %v", err)
		}
	}
	a.EnsureBucket(ctx)
	return nil
}

func (a *App) EnsureBucket(ctx context.Context) {
	storage.EnsureBucket(ctx, a.store, a.config.Storage.Bucket, a.config.Storage.Region, a.logger)
}

// Run schedules the backup and housekeeping jobs and blocks until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.prepare(ctx); err != nil {
		return err
	}
	if err := a.job.Register(); err != nil {
		return err
	}

	tz := a.config.Schedule.Timezone
	if spec := a.config.Schedule.StatsResetCron; spec != "" {
		if _, err := a.scheduler.AddJob(spec, tz, func(context.Context) error {
			a.stats.LogAll(a.logger)
			a.stats.Reset()
			return nil
		}); err != nil {
			return fmt.Errorf("failed to schedule stats reset: %w", err)
		}
	}
	if spec := a.config.Backup.RetentionCron; spec != "" && a.config.Backup.RetentionDays > 0 {
		if _, err := a.scheduler.AddJob(spec, tz, func(ctx context.Context) error {
			if err := a.retention.Execute(ctx); err != nil {
				a.logger.Errorf("Retention failed: %v", err)
				return err
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to schedule retention: %w", err)
		}
		a.logger.Infof("Scheduled retention: %s (%d days)", spec, a.config.Backup.RetentionDays)
	}

	a.queue.Start()
	a.scheduler.Start()
	a.logger.Infof("Scheduler started successfully")

	if a.config.Schedule.RunOnStart {
		id, err := a.job.RunNow()
		if err != nil {
			return err
		}
		a.logger.Infof("Run on start enqueued as job %s", id)
	}

	<-ctx.Done()
	return nil
}

// RunOnce enqueues a single backup and waits for it to settle, retries
// included.
func (a *App) RunOnce(ctx context.Context) (domain.Job, error) {
	if err := a.prepare(ctx); err != nil {
		return domain.Job{}, err
	}
	if err := a.job.Register(); err != nil {
		return domain.Job{}, err
	}

	id, err := a.job.RunNow()
	if err != nil {
		return domain.Job{}, err
	}
	a.logger.Infof("Backup job %s enqueued", id)

	job, err := a.queue.Wait(ctx, id)
	if err != nil {
		return job, err
	}
	if job.State != domain.JobCompleted {
		return job, fmt.Errorf("backup job %s %s: %s", job.ID, job.State, job.LastError)
	}
	return job, nil
}

// Upload pushes one local file to the bucket, scoped like target's backups.
func (a *App) Upload(ctx context.Context, target, path string) (string, error) {
	return a.backup.UploadFile(ctx, target, path)
}

// Prune runs retention once.
func (a *App) Prune(ctx context.Context) error {
	return a.retention.Execute(ctx)
}

func (a *App) Shutdown(ctx context.Context) {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	if err := a.queue.Stop(ctx); err != nil {
		a.logger.Warnf("Queue did not drain: %v", err)
	}
	closePool(a.pool)
	a.logger.Close()
}
