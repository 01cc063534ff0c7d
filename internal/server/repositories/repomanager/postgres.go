package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/P-T-/OpenCoins/internal/dbx"
	"github.com/P-T-/OpenCoins/internal/server/migrations"
	"github.com/P-T-/OpenCoins/internal/server/repositories/tokens"
	"github.com/P-T-/OpenCoins/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories and runs
// transactions with serializable isolation.
type PostgresRepositoryManager struct {
	db      *sql.DB
	retries int
}

// NewPostgresRepositoryManager wraps an open database handle. retries bounds
// how many times a transaction is re-run after a serialization failure.
func NewPostgresRepositoryManager(db *sql.DB, retries int) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db, retries: retries}
}

// OpenPostgres opens a pgx-backed handle for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, retries int) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return NewPostgresRepositoryManager(db, retries), nil
}

// Users returns a users.Repository bound to the pool.
func (m *PostgresRepositoryManager) Users() users.Repository {
	return users.NewPostgresRepository(m.db)
}

// Tokens returns a tokens.Repository bound to the pool.
func (m *PostgresRepositoryManager) Tokens() tokens.Repository {
	return tokens.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return dbx.WithRetryTx(ctx, m.db, dbx.Serializable, m.retries, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, postgresRepositories{db: tx})
	})
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

type postgresRepositories struct {
	db dbx.DBTX
}

func (r postgresRepositories) Users() users.Repository {
	return users.NewPostgresRepository(r.db)
}

func (r postgresRepositories) Tokens() tokens.Repository {
	return tokens.NewPostgresRepository(r.db)
}
