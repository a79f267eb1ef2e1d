package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/juju/clock/testclock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vaultkeeper/internal/adapter/storage"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/logger"
)

type failingPruner struct {
	*storage.LocalStorage
}

func (f failingPruner) RemoveObject(context.Context, string, string) error {
	return errors.New("permission denied")
}

func listPaths(store *storage.LocalStorage, bucket string) []string {
	objects, err := store.ListObjects(context.Background(), bucket, "")
	if err != nil {
		return nil
	}
	var paths []string
	for _, obj := range objects {
		paths = append(paths, obj.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestRetention(t *testing.T) {
	Convey("Given a bucket with backups of different ages", t, func() {
		ctx := context.Background()
		clk := testclock.NewClock(epoch)
		store, err := storage.NewLocal(t.TempDir())
		So(err, ShouldBeNil)

		src := filepath.Join(t.TempDir(), "main.sql.gz")
		So(os.WriteFile(src, []byte("gz"), 0o644), ShouldBeNil)
		for _, path := range []string{
			"pg/main/2025-12-20T02/main.sql.gz",
			"pg/main/2025-12-27T02/main.sql.gz",
			"pg/main/2026-01-01T02/main.sql.gz",
			"pg/main/README.txt",
			"pg/main/manual/main.sql.gz",
		} {
			So(store.PutObject(ctx, "db-backups", path, src), ShouldBeNil)
		}

		Convey("When retention is seven days", func() {
			err := NewRetention(store, "db-backups", "pg", 7, clk, logger.Nop()).Execute(ctx)

			Convey("Only hourly backups past the cutoff are removed", func() {
				So(err, ShouldBeNil)
				So(listPaths(store, "db-backups"), ShouldResemble, []string{
					"pg/main/2025-12-27T02/main.sql.gz",
					"pg/main/2026-01-01T02/main.sql.gz",
					"pg/main/README.txt",
					"pg/main/manual/main.sql.gz",
				})
			})
		})

		Convey("When the prefix does not match", func() {
			err := NewRetention(store, "db-backups", "other", 1, clk, logger.Nop()).Execute(ctx)

			So(err, ShouldBeNil)
			So(listPaths(store, "db-backups"), ShouldHaveLength, 5)
		})

		Convey("When retention is disabled", func() {
			err := NewRetention(store, "db-backups", "pg", 0, clk, logger.Nop()).Execute(ctx)

			So(err, ShouldBeNil)
			So(listPaths(store, "db-backups"), ShouldHaveLength, 5)
		})

		Convey("When deletes fail", func() {
			err := NewRetention(failingPruner{store}, "db-backups", "pg", 7, clk, logger.Nop()).Execute(ctx)

			So(errors.Is(err, domain.ErrUpload), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "1 object(s)")
		})

		Convey("When the store cannot list objects", func() {
			err := NewRetention(&fakeStore{}, "db-backups", "pg", 7, clk, logger.Nop()).Execute(ctx)

			So(err, ShouldBeNil)
		})
	})
}

func TestBackupTime(t *testing.T) {
	Convey("backupTime reads the hour directory", t, func() {
		ts, ok := backupTime("pg/main/2026-01-02T03/main.sql.gz")
		So(ok, ShouldBeTrue)
		So(ts.Format("2006-01-02 15"), ShouldEqual, "2026-01-02 03")

		_, ok = backupTime("main.sql.gz")
		So(ok, ShouldBeFalse)

		_, ok = backupTime("pg/latest/main.sql.gz")
		So(ok, ShouldBeFalse)
	})
}
