package compressor

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

type GzipCompressor struct {
	level int
}

func NewGzip() *GzipCompressor {
	return &GzipCompressor{level: gzip.BestCompression}
}

// NewGzipLevel uses a specific compression level, from gzip.HuffmanOnly (-2)
// to gzip.BestCompression (9).
func NewGzipLevel(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

// Compress streams sourcePath into a gzip file at destPath. Write errors that
// only show up when the gzip stream or the file is closed are returned too.
func (g *GzipCompressor) Compress(sourcePath, destPath string) (err error) {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: failed to open source file: %w", domain.ErrIO, err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create dest file: %w", domain.ErrIO, err)
	}
	defer func() {
		if cerr := destFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: failed to close dest file: %w", domain.ErrIO, cerr)
		}
	}()

	gzipWriter, err := gzip.NewWriterLevel(destFile, g.level)
	if err != nil {
		return fmt.Errorf("%w: failed to create gzip writer: %w", domain.ErrIO, err)
	}

	if _, err := io.Copy(gzipWriter, sourceFile); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("%w: failed to compress: %w", domain.ErrIO, err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish gzip stream: %w", domain.ErrIO, err)
	}

	return nil
}
