package usecase

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/semmidev/vaultkeeper/internal/adapter/compressor"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/logger"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/process"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/stats"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/streammerge"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// events is a shared, ordered log of what the fakes observed.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type fakeDumper struct {
	clk      *testclock.Clock
	took     time.Duration
	exitCode int
	skipFile bool
	skipFor  string
	err      error
	events   *events
	onStart  func(target domain.BackupTarget)
}

func (f *fakeDumper) Dump(ctx context.Context, target domain.BackupTarget) (process.Result, error) {
	f.events.add("dump %s", target.Name)
	if f.onStart != nil {
		f.onStart(target)
	}
	if f.err != nil {
		return process.Result{}, f.err
	}
	if !f.skipFile && f.skipFor != target.Name {
		body := "-- PostgreSQL database cluster dump\n" + strings.Repeat("INSERT INTO t VALUES (1);\n", 500)
		if err := os.WriteFile(target.DumpPath(), []byte(body), 0o644); err != nil {
			return process.Result{}, err
		}
	}
	if f.clk != nil && f.took > 0 {
		f.clk.Advance(f.took)
	}
	return process.Result{ExitCode: f.exitCode, Event: process.EventExit}, nil
}

type fakeCatalogs struct {
	names []string
	err   error
}

func (f fakeCatalogs) For(domain.BackupTarget) domain.Catalog { return f }

func (f fakeCatalogs) DatabaseNames(context.Context) ([]string, error) { return f.names, f.err }

type fakeStore struct {
	mu       sync.Mutex
	buckets  []string
	made     []string
	puts     []string
	contents map[string]string
	putErr   error
	events   *events
}

func (f *fakeStore) ListBuckets(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.buckets...), nil
}

func (f *fakeStore) MakeBucket(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.made = append(f.made, name)
	f.buckets = append(f.buckets, name)
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, objectPath, localPath string) error {
	if f.events != nil {
		f.events.add("put %s", objectPath)
	}
	if f.putErr != nil {
		return f.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, bucket+"/"+objectPath)
	if f.contents == nil {
		f.contents = make(map[string]string)
	}
	f.contents[objectPath] = string(data)
	return nil
}

type sentNotification struct {
	text   string
	embeds []domain.Embed
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(_ context.Context, text string, embeds []domain.Embed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{text: text, embeds: embeds})
}

func (f *fakeNotifier) all() []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotification(nil), f.sent...)
}

type fixture struct {
	clk        *testclock.Clock
	ev         *events
	dumper     *fakeDumper
	catalogs   fakeCatalogs
	compressor domain.Compressor
	store      *fakeStore
	stats      *stats.Recorder
	opts       BackupOptions
	targets    []domain.BackupTarget
}

func newFixture(t *testing.T, names ...string) *fixture {
	clk := testclock.NewClock(epoch)
	ev := &events{}
	base := t.TempDir()

	var targets []domain.BackupTarget
	for _, name := range names {
		targets = append(targets, domain.BackupTarget{Name: name, WorkDir: base + "/" + name})
	}

	return &fixture{
		clk:        clk,
		ev:         ev,
		dumper:     &fakeDumper{clk: clk, took: 2 * time.Second, events: ev},
		catalogs:   fakeCatalogs{names: []string{"app", "postgres", "tmp_db"}},
		compressor: compressor.NewGzip(),
		store:      &fakeStore{events: ev},
		stats:      stats.New(0),
		opts: BackupOptions{
			Bucket:        "db-backups",
			Region:        "us-east-1",
			Prefix:        "pg",
			ScopeByTarget: true,
			Blacklist:     []string{"tmp_db", "scratch_db"},
			Concurrency:   1,
		},
		targets:    targets,
	}
}

func (f *fixture) backup() *Backup {
	return NewBackup(
		f.targets,
		f.dumper,
		f.catalogs,
		streammerge.New(nil),
		f.compressor,
		f.store,
		f.stats,
		f.clk,
		logger.Nop(),
		f.opts,
	)
}
