// Package streammerge prepends generated content to large files without
// loading them into memory.
package streammerge

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

const (
	TempSuffix = ".tmp"
	OrigSuffix = ".orig"
)

type Merger struct {
	fs   afero.Fs
	copy func(dst io.Writer, src io.Reader) (int64, error)
}

func New(fs afero.Fs) *Merger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Merger{fs: fs, copy: io.Copy}
}

// Prepend rewrites targetPath so that it holds header followed by its former
// content. The new file is fully written to <target>.tmp before the swap;
// the previous content is kept at <target>.orig. If anything fails before
// the swap, targetPath is left untouched.
func (m *Merger) Prepend(targetPath string, header []byte) (string, error) {
	src, err := m.fs.Open(targetPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", domain.ErrIO, targetPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", domain.ErrIO, targetPath, err)
	}

	tmpPath := targetPath + TempSuffix
	if err := m.writeMerged(tmpPath, header, src, info.Mode().Perm()); err != nil {
		_ = m.fs.Remove(tmpPath)
		return "", err
	}
	src.Close()

	origPath := targetPath + OrigSuffix
	if err := m.fs.Rename(targetPath, origPath); err != nil {
		_ = m.fs.Remove(tmpPath)
		return "", fmt.Errorf("%w: move original aside: %w", domain.ErrIO, err)
	}
	if err := m.fs.Rename(tmpPath, targetPath); err != nil {
		// put the original back so the canonical path stays valid
		if rerr := m.fs.Rename(origPath, targetPath); rerr != nil {
			return "", fmt.Errorf("%w: swap failed (%v) and restore failed: %w", domain.ErrIO, err, rerr)
		}
		return "", fmt.Errorf("%w: swap merged file: %w", domain.ErrIO, err)
	}

	return targetPath, nil
}

func (m *Merger) writeMerged(tmpPath string, header []byte, src io.Reader, perm os.FileMode) error {
	dst, err := m.fs.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrIO, tmpPath, err)
	}

	if _, err := dst.Write(header); err != nil {
		dst.Close()
		return fmt.Errorf("%w: write header: %w", domain.ErrIO, err)
	}
	if _, err := m.copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: stream original: %w", domain.ErrIO, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("%w: sync %s: %w", domain.ErrIO, tmpPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrIO, tmpPath, err)
	}
	return nil
}
