package database

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/process"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/streammerge"
)

const listDatabases = `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`

// PostgresCatalog lists databases over a pgx connection pool.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates the pool. Connections are opened lazily, so an
// unreachable server is only noticed on Ping or the first query.
func NewPostgresCatalog(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

func (c *PostgresCatalog) DatabaseNames(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, listDatabases)
	if err != nil {
		return nil, fmt.Errorf("%w: list databases: %w", domain.ErrProcessFailure, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: list databases: %w", domain.ErrProcessFailure, err)
	}
	return names, nil
}

func (c *PostgresCatalog) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) Close() {
	c.pool.Close()
}

// ConnString renders cfg as a keyword/value connection string.
func ConnString(cfg *config.DatabaseConfig) string {
	pairs := []struct{ key, value string }{
		{"host", cfg.Host},
		{"port", strconv.Itoa(cfg.Port)},
		{"user", cfg.Username},
		{"password", cfg.Password},
		{"dbname", cfg.Database},
		{"sslmode", cfg.SSLMode},
	}
	var parts []string
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteConnValue(p.value))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PsqlCatalog lists databases by running psql, inside a container when one
// is set, and parsing its table output.
type PsqlCatalog struct {
	db        *config.DatabaseConfig
	container string
	launcher  *process.Launcher
}

func NewPsqlCatalog(db *config.DatabaseConfig, container string, launcher *process.Launcher) *PsqlCatalog {
	return &PsqlCatalog{db: db, container: container, launcher: launcher}
}

// QueryCommand builds the psql argv running query.
func QueryCommand(db *config.DatabaseConfig, container, query string) []string {
	var argv []string
	if container != "" {
		argv = append(argv, db.ContainerTool, "exec", container, db.QueryTool)
	} else {
		argv = append(argv, db.QueryTool,
			"--host="+db.Host,
			"--port="+strconv.Itoa(db.Port),
			"--no-password",
		)
	}
	return append(argv, "--username="+db.Username, "--dbname="+db.Database, "-c", query)
}

func (c *PsqlCatalog) DatabaseNames(ctx context.Context) ([]string, error) {
	var out bytes.Buffer
	opts := process.Options{Stdout: &out}
	if c.container == "" {
		opts.Env = []string{"PGPASSFILE=" + c.db.Passfile}
	}

	res, err := c.launcher.Launch(ctx, "list databases", QueryCommand(c.db, c.container, listDatabases), opts)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: %s exited with code %d", domain.ErrProcessFailure, c.db.QueryTool, res.ExitCode)
	}
	return streammerge.ParseNameTable(out.String()), nil
}

// Catalogs picks the catalog serving a target: psql inside the container for
// container targets, the pool (or psql when there is none) otherwise.
type Catalogs struct {
	host     domain.Catalog
	db       *config.DatabaseConfig
	launcher *process.Launcher
}

func NewCatalogs(host domain.Catalog, db *config.DatabaseConfig, launcher *process.Launcher) *Catalogs {
	return &Catalogs{host: host, db: db, launcher: launcher}
}

func (c *Catalogs) For(target domain.BackupTarget) domain.Catalog {
	if target.Container != "" {
		return NewPsqlCatalog(c.db, target.Container, c.launcher)
	}
	if c.host != nil {
		return c.host
	}
	return NewPsqlCatalog(c.db, "", c.launcher)
}
