package streammerge

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

func TestPrepend(t *testing.T) {
	Convey("Given a Merger on the OS filesystem", t, func() {
		dir := t.TempDir()
		merger := New(nil)
		header := []byte("CREATE DATABASE \"app\";\n\n")

		write := func(name string, content []byte) string {
			path := filepath.Join(dir, name)
			So(os.WriteFile(path, content, 0640), ShouldBeNil)
			return path
		}

		Convey("When the target is empty", func() {
			path := write("empty.sql", nil)
			merged, err := merger.Prepend(path, header)

			Convey("The result is exactly the header", func() {
				So(err, ShouldBeNil)
				So(merged, ShouldEqual, path)
				got, _ := os.ReadFile(path)
				So(got, ShouldResemble, header)
			})
		})

		Convey("When the target holds several megabytes of binary data", func() {
			content := make([]byte, 5*1024*1024+17)
			rand.New(rand.NewSource(7)).Read(content)
			content[0], content[len(content)-1] = '\n', 0
			path := write("big.sql", content)

			_, err := merger.Prepend(path, header)

			Convey("The result is header followed by the original bytes", func() {
				So(err, ShouldBeNil)
				got, _ := os.ReadFile(path)
				So(bytes.Equal(got, append(append([]byte{}, header...), content...)), ShouldBeTrue)
			})

			Convey("The original is kept as a side file and the temp file is gone", func() {
				orig, err := os.ReadFile(path + OrigSuffix)
				So(err, ShouldBeNil)
				So(bytes.Equal(orig, content), ShouldBeTrue)
				_, err = os.Stat(path + TempSuffix)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("File permissions are preserved", func() {
				info, _ := os.Stat(path)
				So(info.Mode().Perm(), ShouldEqual, os.FileMode(0640))
			})
		})

		Convey("When the copy fails part way", func() {
			content := []byte("-- dump\nSELECT 1;\n")
			path := write("dump.sql", content)
			merger.copy = func(dst io.Writer, src io.Reader) (int64, error) {
				n, _ := io.CopyN(dst, src, 4)
				return n, errors.New("disk full")
			}

			_, err := merger.Prepend(path, header)

			Convey("It fails with an IO error and leaves the original untouched", func() {
				So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
				got, _ := os.ReadFile(path)
				So(got, ShouldResemble, content)
				_, err = os.Stat(path + TempSuffix)
				So(os.IsNotExist(err), ShouldBeTrue)
				_, err = os.Stat(path + OrigSuffix)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("When the target does not exist", func() {
			_, err := merger.Prepend(filepath.Join(dir, "missing.sql"), header)

			Convey("It fails with an IO error", func() {
				So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
			})
		})

		Convey("When merging twice", func() {
			path := write("twice.sql", []byte("body"))
			_, err := merger.Prepend(path, []byte("a;"))
			So(err, ShouldBeNil)
			_, err = merger.Prepend(path, []byte("b;"))
			So(err, ShouldBeNil)

			Convey("Headers stack and the side file holds the previous version", func() {
				got, _ := os.ReadFile(path)
				So(string(got), ShouldEqual, "b;a;body")
				orig, _ := os.ReadFile(path + OrigSuffix)
				So(string(orig), ShouldEqual, "a;body")
			})
		})
	})

	Convey("Given a Merger on an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		So(afero.WriteFile(fs, "/work/main.sql", []byte("\x00\x01line\n"), 0644), ShouldBeNil)

		_, err := New(fs).Prepend("/work/main.sql", []byte("H\n"))

		Convey("It swaps through the provided filesystem", func() {
			So(err, ShouldBeNil)
			got, _ := afero.ReadFile(fs, "/work/main.sql")
			So(string(got), ShouldEqual, "H\n\x00\x01line\n")
			ok, _ := afero.Exists(fs, "/work/main.sql.orig")
			So(ok, ShouldBeTrue)
		})
	})
}

func TestHeader(t *testing.T) {
	Convey("CreateDatabaseHeader", t, func() {
		Convey("It renders one quoted statement per name", func() {
			got := string(CreateDatabaseHeader([]string{"app", "Weird-Name"}))
			So(got, ShouldEqual, "CREATE DATABASE \"app\";\nCREATE DATABASE \"Weird-Name\";\n\n")
		})

		Convey("It renders nothing for no names", func() {
			So(CreateDatabaseHeader(nil), ShouldBeNil)
		})
	})

	Convey("ParseNameTable", t, func() {
		Convey("It skips the title, separator and row count", func() {
			out := "  datname  \n-----------\n postgres\n app\n whites_link\n(3 rows)\n\n"
			So(ParseNameTable(out), ShouldResemble, []string{"postgres", "app", "whites_link"})
		})

		Convey("It handles a single row footer", func() {
			So(ParseNameTable(" datname\n---------\n app\n(1 row)\n"), ShouldResemble, []string{"app"})
		})

		Convey("It returns nothing for an empty result", func() {
			So(ParseNameTable(" datname\n---------\n(0 rows)\n"), ShouldBeEmpty)
			So(ParseNameTable(""), ShouldBeEmpty)
		})
	})

	Convey("Exclude", t, func() {
		So(Exclude([]string{"a", "tmp_db", "b", "scratch_db"}, []string{"tmp_db", "scratch_db"}), ShouldResemble, []string{"a", "b"})
	})
}
