package compressor

import (
	"bytes"
	stdgzip "compress/gzip"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

func writeFile(dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	So(os.WriteFile(path, data, 0o644), ShouldBeNil)
	return path
}

func gunzip(path string) []byte {
	f, err := os.Open(path)
	So(err, ShouldBeNil)
	defer f.Close()

	r, err := stdgzip.NewReader(f)
	So(err, ShouldBeNil)
	defer r.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	So(err, ShouldBeNil)
	return out.Bytes()
}

func TestGzipCompressor(t *testing.T) {
	Convey("Given a GzipCompressor", t, func() {
		compressor := NewGzip()
		dir := t.TempDir()

		Convey("Compress method", func() {
			Convey("When compressing a dump", func() {
				inputContent := []byte("CREATE DATABASE \"app\";\n\n-- PostgreSQL database cluster dump\n")
				input := writeFile(dir, "main.sql", inputContent)
				output := input + ".gz"

				err := compressor.Compress(input, output)

				Convey("It should produce a standard gzip stream", func() {
					So(err, ShouldBeNil)

					gzipFile, err := os.Open(output)
					So(err, ShouldBeNil)
					defer gzipFile.Close()

					gzipReader, err := stdgzip.NewReader(gzipFile)
					So(err, ShouldBeNil)
					defer gzipReader.Close()

					var decompressed bytes.Buffer
					_, err = decompressed.ReadFrom(gzipReader)
					So(err, ShouldBeNil)
					So(decompressed.Bytes(), ShouldResemble, inputContent)
				})
			})

			Convey("When the source file does not exist", func() {
				err := compressor.Compress(filepath.Join(dir, "missing.sql"), filepath.Join(dir, "out.gz"))

				Convey("It should return an io error", func() {
					So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
					So(err.Error(), ShouldContainSubstring, "failed to open source file")
				})
			})

			Convey("When the destination cannot be created", func() {
				input := writeFile(dir, "main.sql", []byte("x"))
				blocker := writeFile(dir, "blocker", nil)

				err := compressor.Compress(input, filepath.Join(blocker, "out.gz"))

				Convey("It should return an io error", func() {
					So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
					So(err.Error(), ShouldContainSubstring, "failed to create dest file")
				})
			})
		})

		Convey("Compression levels", func() {
			data := make([]byte, 3<<20)
			rand.New(rand.NewSource(7)).Read(data[:1<<20])
			input := writeFile(dir, "big.sql", data)

			Convey("A fast level still produces a readable stream", func() {
				So(NewGzipLevel(gzip.BestSpeed).Compress(input, input+".gz"), ShouldBeNil)
				So(bytes.Equal(gunzip(input+".gz"), data), ShouldBeTrue)
			})

			Convey("Huffman-only output is readable and smaller than the input", func() {
				So(NewGzipLevel(gzip.HuffmanOnly).Compress(input, input+".gz"), ShouldBeNil)

				info, err := os.Stat(input + ".gz")
				So(err, ShouldBeNil)
				So(info.Size(), ShouldBeLessThan, int64(len(data)))
				So(bytes.Equal(gunzip(input+".gz"), data), ShouldBeTrue)
			})

			Convey("An unknown level is reported as an io error", func() {
				err := NewGzipLevel(42).Compress(input, input+".gz")

				So(errors.Is(err, domain.ErrIO), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "failed to create gzip writer")
			})
		})
	})
}
