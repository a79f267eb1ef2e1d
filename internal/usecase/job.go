package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/stats"
)

const (
	colorSuccess = 0x2ecc71
	colorWarning = 0xe67e22

	notifyTimeout = 30 * time.Second
)

// BackupRunner runs one backup of every target.
type BackupRunner interface {
	RunAll(ctx context.Context) ([]*domain.RunReport, error)
}

type JobOptions struct {
	Queue       string
	Cron        string
	Schedule    domain.ScheduleOptions
	NotifyBelow int
	ServerName  string
}

// Job ties backups to queue deliveries: it notifies on the outcome and hands
// the completion signal back to the queue.
type Job struct {
	backup   BackupRunner
	queue    domain.Queue
	notifier domain.Notifier
	stats    *stats.Recorder
	logger   Logger
	opts     JobOptions
}

func NewJob(
	backup BackupRunner,
	queue domain.Queue,
	notifier domain.Notifier,
	recorder *stats.Recorder,
	logger Logger,
	opts JobOptions,
) *Job {
	return &Job{
		backup:   backup,
		queue:    queue,
		notifier: notifier,
		stats:    recorder,
		logger:   logger,
		opts:     opts,
	}
}

// Register schedules the recurring backup and attaches the handler. Call it
// once at startup.
func (uc *Job) Register() error {
	if err := uc.queue.Schedule(uc.opts.Queue, uc.opts.Cron, uc.opts.Schedule); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", uc.opts.Queue, err)
	}
	if err := uc.queue.Work(uc.opts.Queue, uc.Handle); err != nil {
		return fmt.Errorf("failed to attach worker to %s: %w", uc.opts.Queue, err)
	}
	uc.logger.Infof("Scheduled %s: %s (%s)", uc.opts.Queue, uc.opts.Cron, uc.opts.Schedule.TZ)
	return nil
}

// RunNow enqueues an immediate backup and returns the job id.
func (uc *Job) RunNow() (string, error) {
	id, err := uc.queue.Send(uc.opts.Queue)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", uc.opts.Queue, err)
	}
	return id, nil
}

// Handle processes one delivery. A nil return completes the job; an error
// fails the attempt and leaves retrying to the queue.
func (uc *Job) Handle(ctx context.Context, delivered domain.Job) error {
	job, err := uc.queue.GetJobByID(delivered.ID)
	if err != nil {
		uc.logger.Warnf("could not refresh job %s, using delivered state: %v", delivered.ID, err)
		job = delivered
	}

	uc.logger.Infof("=== Running backup job %s (retry %d/%d) ===", job.ID, job.RetryCount, job.RetryLimit)
	reports, err := uc.backup.RunAll(ctx)
	if uc.stats != nil {
		uc.stats.LogAll(uc.logger)
	}

	if err == nil {
		uc.notify(ctx, uc.successText(reports), reportEmbeds(reports))
		return nil
	}

	uc.logger.Errorf("backup job %s failed: %v", job.ID, err)
	if job.RetryCount < uc.opts.NotifyBelow {
		uc.notify(ctx, uc.failureText(job, err), reportEmbeds(reports))
	}
	return err
}

// notify detaches from the delivery context: the queue cancels it when the
// job expires, and that is exactly when a warning must still go out.
func (uc *Job) notify(ctx context.Context, text string, embeds []domain.Embed) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	uc.notifier.Notify(ctx, text, embeds)
}

func (uc *Job) successText(reports []*domain.RunReport) string {
	var total time.Duration
	for _, r := range reports {
		if r != nil && r.Total() > total {
			total = r.Total()
		}
	}
	return fmt.Sprintf("✅ Backup of %s completed in %s", uc.opts.ServerName, total.Round(time.Millisecond))
}

func (uc *Job) failureText(job domain.Job, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Backup of %s failed (attempt %d of %d)", uc.opts.ServerName, job.RetryCount+1, job.RetryLimit+1)

	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		fmt.Fprintf(&b, " during %s", stageErr.Stage)
	}
	fmt.Fprintf(&b, ": %v", err)
	return b.String()
}

// reportEmbeds renders one embed per target that ran.
func reportEmbeds(reports []*domain.RunReport) []domain.Embed {
	var embeds []domain.Embed
	for _, r := range reports {
		if r == nil {
			continue
		}
		embed := domain.Embed{Title: r.Target, Color: colorSuccess}
		if !r.Succeeded() {
			embed.Color = colorWarning
		}
		for _, t := range r.Timings {
			embed.Fields = append(embed.Fields, domain.EmbedField{
				Name:   string(t.Stage),
				Value:  t.Duration().Round(time.Millisecond).String(),
				Inline: true,
			})
		}
		embed.Fields = append(embed.Fields, domain.EmbedField{
			Name: "Total", Value: r.Total().Round(time.Millisecond).String(), Inline: true,
		})
		if r.DumpSize > 0 {
			embed.Fields = append(embed.Fields, domain.EmbedField{
				Name: "Dump size", Value: humanize.IBytes(uint64(r.DumpSize)), Inline: true,
			})
		}
		if r.CompressedSize > 0 {
			embed.Fields = append(embed.Fields, domain.EmbedField{
				Name: "Compressed size", Value: humanize.IBytes(uint64(r.CompressedSize)), Inline: true,
			})
		}
		if len(r.Objects) > 0 {
			embed.Fields = append(embed.Fields, domain.EmbedField{
				Name: "Objects", Value: strings.Join(r.Objects, "\n"),
			})
		}
		embeds = append(embeds, embed)
	}
	return embeds
}
