package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresBackend is a PersistenceBackend backed by a Postgres key/value
// table. It is the durable option for Fleet Manager model registry state,
// used in place of MemoryBackend whenever a
// SYNAPSE_STATE_DSN is configured.
type PostgresBackend struct {
	db    *sqlx.DB
	table string
}

type postgresRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// NewPostgresBackend opens a connection to dsn and runs pending migrations
// from the embedded migrations directory before returning.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresBackend{db: db, table: "synapse_state"}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *PostgresBackend) Save(ctx context.Context, key string, data []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, p.table)
	_, err := p.db.ExecContext(ctx, query, key, data)
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) Load(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE key = $1`, p.table)
	var row postgresRow
	err := p.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	return row.Value, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table)
	_, err := p.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE key LIKE $1 ORDER BY key`, p.table)
	var rows []postgresRow
	if err := p.db.SelectContext(ctx, &rows, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

func (p *PostgresBackend) Close(ctx context.Context) error {
	return p.db.Close()
}
