package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
)

// Passfile manages the libpq password file the dump tools read through
// PGPASSFILE, so the password never appears on a command line.
type Passfile struct {
	cfg *config.DatabaseConfig
}

func NewPassfile(cfg *config.DatabaseConfig) *Passfile {
	return &Passfile{cfg: cfg}
}

func (p *Passfile) Path() string {
	return p.cfg.Passfile
}

// Line renders the host:port:*:user:password entry.
func (p *Passfile) Line() string {
	return strings.Join([]string{
		escapePassfield(p.cfg.Host),
		strconv.Itoa(p.cfg.Port),
		"*",
		escapePassfield(p.cfg.Username),
		escapePassfield(p.cfg.Password),
	}, ":") + "\n"
}

// Create writes the file with mode 0600, replacing any previous content.
func (p *Passfile) Create() error {
	if p.cfg.Passfile == "" {
		return fmt.Errorf("%w: passfile path is empty", domain.ErrConfiguration)
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.Passfile), 0o700); err != nil {
		return fmt.Errorf("%w: create passfile directory: %w", domain.ErrIO, err)
	}
	if err := os.WriteFile(p.cfg.Passfile, []byte(p.Line()), 0o600); err != nil {
		return fmt.Errorf("%w: write passfile: %w", domain.ErrIO, err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(p.cfg.Passfile, 0o600); err != nil {
		return fmt.Errorf("%w: chmod passfile: %w", domain.ErrIO, err)
	}
	return nil
}

// Check verifies the file exists and is not readable by group or others,
// which libpq would otherwise ignore.
func (p *Passfile) Check() error {
	info, err := os.Stat(p.cfg.Passfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: passfile %s does not exist", domain.ErrConfiguration, p.cfg.Passfile)
		}
		return fmt.Errorf("%w: stat passfile: %w", domain.ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: passfile %s is not a regular file", domain.ErrConfiguration, p.cfg.Passfile)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("%w: passfile %s has mode %#o, want 0600", domain.ErrConfiguration, p.cfg.Passfile, perm)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (p *Passfile) Remove() error {
	if err := os.Remove(p.cfg.Passfile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove passfile: %w", domain.ErrIO, err)
	}
	return nil
}

func escapePassfield(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `:`, `\:`)
}
