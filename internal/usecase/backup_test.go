package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// consumingCompressor removes the dump once it has been compressed.
type consumingCompressor struct {
	domain.Compressor
}

func (c consumingCompressor) Compress(sourcePath, destPath string) error {
	if err := c.Compressor.Compress(sourcePath, destPath); err != nil {
		return err
	}
	return os.Remove(sourcePath)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestBackupExecute(t *testing.T) {
	Convey("Given a pipeline for one target", t, func() {
		f := newFixture(t, "main")
		target := f.targets[0]
		ctx := context.Background()

		Convey("When every stage succeeds", func() {
			f.opts.UploadUncompressed = true
			report, err := f.backup().Execute(ctx, target)

			Convey("It reports every stage with durations and sizes", func() {
				So(err, ShouldBeNil)
				So(report.Succeeded(), ShouldBeTrue)
				So(len(report.Timings), ShouldEqual, len(domain.Stages))
				for i, timing := range report.Timings {
					So(timing.Stage, ShouldEqual, domain.Stages[i])
					So(timing.Duration(), ShouldBeGreaterThanOrEqualTo, 0)
				}
				So(report.StageDuration(domain.StageDump), ShouldEqual, 2*time.Second)
				So(report.Total(), ShouldEqual, 2*time.Second)
				So(report.DumpSize, ShouldBeGreaterThan, 0)
				So(report.CompressedSize, ShouldBeGreaterThan, 0)
				So(report.CompressedSize, ShouldBeLessThan, report.DumpSize)
			})

			Convey("It uploads both artifacts under the hour directory", func() {
				So(f.store.puts, ShouldResemble, []string{
					"db-backups/pg/main/2026-01-02T03/main.sql",
					"db-backups/pg/main/2026-01-02T03/main.sql.gz",
				})
				So(report.Objects, ShouldHaveLength, 2)
				So(f.store.made, ShouldResemble, []string{"db-backups"})
			})

			Convey("The uploaded dump starts with the non-blacklisted databases", func() {
				dump := f.store.contents["pg/main/2026-01-02T03/main.sql"]
				So(dump, ShouldStartWith, "CREATE DATABASE \"app\";\nCREATE DATABASE \"postgres\";\n\n-- PostgreSQL")
				So(dump, ShouldNotContainSubstring, "tmp_db")
			})

			Convey("It removes every local artifact", func() {
				So(exists(target.DumpPath()), ShouldBeFalse)
				So(exists(target.DumpPath()+".orig"), ShouldBeFalse)
				So(exists(target.DumpPath()+".tmp"), ShouldBeFalse)
				So(exists(target.CompressedPath()), ShouldBeFalse)
			})

			Convey("It records stage latencies", func() {
				s, ok := f.stats.Summary("dump")
				So(ok, ShouldBeTrue)
				So(s.Count, ShouldEqual, 1)
				So(s.P50, ShouldEqual, 2*time.Second)
			})
		})

		Convey("When the compressed artifact should be kept", func() {
			f.opts.KeepCompressed = true
			_, err := f.backup().Execute(ctx, target)

			So(err, ShouldBeNil)
			So(exists(target.CompressedPath()), ShouldBeTrue)
			So(exists(target.DumpPath()), ShouldBeFalse)
			So(f.store.puts, ShouldHaveLength, 1)
		})

		Convey("When the dump exits without producing its file", func() {
			f.dumper.skipFile = true
			f.dumper.exitCode = 1
			report, err := f.backup().Execute(ctx, target)

			Convey("It fails the dump stage with a process failure", func() {
				So(errors.Is(err, domain.ErrProcessFailure), ShouldBeTrue)
				var stageErr *domain.StageError
				So(errors.As(err, &stageErr), ShouldBeTrue)
				So(stageErr.Stage, ShouldEqual, domain.StageDump)
				So(err.Error(), ShouldContainSubstring, "exit code 1")
				So(report.Timings, ShouldHaveLength, 1)
				So(f.store.puts, ShouldBeEmpty)
			})
		})

		Convey("When the dump exits non-zero but wrote its file", func() {
			f.dumper.exitCode = 1

			Convey("It fails the dump stage by default", func() {
				report, err := f.backup().Execute(ctx, target)

				So(errors.Is(err, domain.ErrProcessFailure), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "exited with code 1")
				So(report.Timings, ShouldHaveLength, 1)
				So(f.store.puts, ShouldBeEmpty)
			})

			Convey("It carries on when partial dumps are allowed", func() {
				f.opts.AllowPartialDump = true
				_, err := f.backup().Execute(ctx, target)

				So(err, ShouldBeNil)
				So(f.store.puts, ShouldHaveLength, 1)
			})
		})

		Convey("When the dump disappears before upload", func() {
			f.compressor = consumingCompressor{f.compressor}
			report, err := f.backup().Execute(ctx, target)

			Convey("It fails the upload stage without uploading the archive", func() {
				So(errors.Is(err, domain.ErrProcessFailure), ShouldBeTrue)
				var stageErr *domain.StageError
				So(errors.As(err, &stageErr), ShouldBeTrue)
				So(stageErr.Stage, ShouldEqual, domain.StageUpload)
				So(err.Error(), ShouldContainSubstring, target.DumpPath())
				So(report.Timings, ShouldHaveLength, 4)
				So(f.store.puts, ShouldBeEmpty)
				So(exists(target.CompressedPath()), ShouldBeTrue)
			})
		})

		Convey("When the dump tool cannot be started", func() {
			f.dumper.err = fmt.Errorf("main dump: %w: exec: \"pg_dumpall\": executable file not found", domain.ErrSpawn)
			_, err := f.backup().Execute(ctx, target)

			So(errors.Is(err, domain.ErrSpawn), ShouldBeTrue)
			So(err.Error(), ShouldStartWith, "dump stage: main dump: spawn error")
		})

		Convey("When the work dir is a file", func() {
			So(os.WriteFile(target.WorkDir, []byte("x"), 0o644), ShouldBeNil)
			_, err := f.backup().Execute(ctx, target)

			So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
		})

		Convey("When the catalog cannot be read", func() {
			f.catalogs.err = fmt.Errorf("%w: connection refused", domain.ErrProcessFailure)
			_, err := f.backup().Execute(ctx, target)

			var stageErr *domain.StageError
			So(errors.As(err, &stageErr), ShouldBeTrue)
			So(stageErr.Stage, ShouldEqual, domain.StageMerge)
		})

		Convey("When the upload transport fails", func() {
			f.store.putErr = errors.New("connection reset by peer")
			report, err := f.backup().Execute(ctx, target)

			Convey("It fails the upload stage and keeps the artifacts", func() {
				So(errors.Is(err, domain.ErrUpload), ShouldBeTrue)
				So(report.Err, ShouldEqual, err)
				So(exists(target.CompressedPath()), ShouldBeTrue)
				So(exists(target.DumpPath()), ShouldBeTrue)
			})
		})
	})
}

func TestBackupRunAll(t *testing.T) {
	Convey("Given two targets", t, func() {
		f := newFixture(t, "alpha", "beta")
		ctx := context.Background()

		Convey("When the concurrency limit is 1", func() {
			var alphaCleanedBeforeBeta bool
			f.dumper.onStart = func(target domain.BackupTarget) {
				if target.Name == "beta" {
					alpha := f.targets[0]
					alphaCleanedBeforeBeta = !exists(alpha.DumpPath()) && !exists(alpha.CompressedPath())
				}
			}

			reports, err := f.backup().RunAll(ctx)

			Convey("The second pipeline starts only after the first one finished", func() {
				So(err, ShouldBeNil)
				So(f.ev.all(), ShouldResemble, []string{
					"dump alpha",
					"put pg/alpha/2026-01-02T03/alpha.sql.gz",
					"dump beta",
					"put pg/beta/2026-01-02T03/beta.sql.gz",
				})
				So(alphaCleanedBeforeBeta, ShouldBeTrue)
				So(reports, ShouldHaveLength, 2)
				So(reports[1].Target, ShouldEqual, "beta")
			})
		})

		Convey("When the concurrency limit is 2", func() {
			f.opts.Concurrency = 2
			f.dumper.took = 0
			var (
				mu      sync.Mutex
				started int
				once    sync.Once
			)
			both := make(chan struct{})
			f.dumper.onStart = func(domain.BackupTarget) {
				mu.Lock()
				started++
				if started == 2 {
					once.Do(func() { close(both) })
				}
				mu.Unlock()
				select {
				case <-both:
				case <-time.After(2 * time.Second):
				}
			}

			_, err := f.backup().RunAll(ctx)

			Convey("Both dumps run at the same time", func() {
				So(err, ShouldBeNil)
				overlapped := false
				select {
				case <-both:
					overlapped = true
				default:
				}
				So(overlapped, ShouldBeTrue)
			})
		})

		Convey("When the first target fails", func() {
			f.dumper.skipFor = "alpha"
			reports, err := f.backup().RunAll(ctx)

			Convey("The second still runs and the failure is labelled", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldStartWith, "alpha: ")
				So(reports[0].Succeeded(), ShouldBeFalse)
				So(reports[1].Succeeded(), ShouldBeTrue)
			})
		})
	})
}

func TestBackupUploadFile(t *testing.T) {
	Convey("Given a pipeline and a local artifact", t, func() {
		f := newFixture(t, "main")
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "manual.sql.gz")
		So(os.WriteFile(path, []byte("gz"), 0o644), ShouldBeNil)

		Convey("When the file is uploaded", func() {
			objectPath, err := f.backup().UploadFile(ctx, "main", path)

			So(err, ShouldBeNil)
			So(objectPath, ShouldEqual, "pg/main/2026-01-02T03/manual.sql.gz")
			So(f.store.contents[objectPath], ShouldEqual, "gz")
			So(f.store.made, ShouldResemble, []string{"db-backups"})
		})

		Convey("When the file is missing", func() {
			_, err := f.backup().UploadFile(ctx, "main", path+".missing")

			So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
			So(f.store.puts, ShouldBeEmpty)
		})

		Convey("When the path is a directory", func() {
			_, err := f.backup().UploadFile(ctx, "main", filepath.Dir(path))

			So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
		})
	})
}
