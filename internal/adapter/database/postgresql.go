package database

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/process"
)

// PostgreSQL dumps whole clusters with pg_dumpall.
type PostgreSQL struct {
	db       *config.DatabaseConfig
	backup   *config.BackupConfig
	launcher *process.Launcher
}

func NewPostgreSQL(db *config.DatabaseConfig, backup *config.BackupConfig, launcher *process.Launcher) *PostgreSQL {
	return &PostgreSQL{db: db, backup: backup, launcher: launcher}
}

// DumpCommand builds the argv that dumps target. Host targets write the dump
// with --file; container targets run inside the container and write to stdout.
func DumpCommand(db *config.DatabaseConfig, backup *config.BackupConfig, target domain.BackupTarget) []string {
	var argv []string
	if target.Container != "" {
		argv = append(argv, db.ContainerTool, "exec", target.Container, db.DumpTool,
			"--username="+db.Username,
		)
	} else {
		argv = append(argv, db.DumpTool,
			"--host="+db.Host,
			"--port="+strconv.Itoa(db.Port),
			"--username="+db.Username,
			"--no-password",
		)
	}

	if backup.Verbose {
		argv = append(argv, "--verbose")
	}
	if backup.StructureOnly {
		argv = append(argv, "--schema-only")
	}
	for _, name := range backup.Blacklist {
		argv = append(argv, "--exclude-database="+name)
	}

	if target.Container == "" {
		argv = append(argv, "--file="+target.DumpPath())
	}
	return argv
}

// Dump runs the dump for target and returns once the command has finished.
// The exit code is returned for the caller to judge alongside the dump file.
func (p *PostgreSQL) Dump(ctx context.Context, target domain.BackupTarget) (process.Result, error) {
	opts := process.Options{Dir: target.WorkDir}

	if target.Container != "" {
		out, err := os.Create(target.DumpPath())
		if err != nil {
			return process.Result{}, fmt.Errorf("%w: create dump file: %w", domain.ErrIO, err)
		}
		defer out.Close()
		opts.Stdout = out
	} else {
		opts.Env = []string{"PGPASSFILE=" + p.db.Passfile}
	}

	return p.launcher.Launch(ctx, target.Name+" dump", DumpCommand(p.db, p.backup, target), opts)
}
