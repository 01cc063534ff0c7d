// Package repomanager vends the ledger repositories and the transactional
// boundary they run in. Services depend on RepositoryManager only, so the
// same code runs against PostgreSQL or the in-memory store.
package repomanager

import (
	"context"

	"github.com/P-T-/OpenCoins/internal/server/repositories/tokens"
	"github.com/P-T-/OpenCoins/internal/server/repositories/users"
)

// Repositories is the pair of tables the ledger works with.
type Repositories interface {
	Users() users.Repository
	Tokens() tokens.Repository
}

// RepositoryManager exposes autocommit repositories plus a transaction
// helper. Inside WithTx only the Repositories handed to fn may be used.
type RepositoryManager interface {
	Repositories
	RunMigrations(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	Close() error
}
