// Package users declares the account table contract and its PostgreSQL and
// in-memory implementations.
package users

import (
	"context"

	"github.com/P-T-/OpenCoins/internal/server/models"
)

// Repository stores accounts keyed by username.
type Repository interface {
	// Create inserts a new account and fills its ID and CreatedAt. A username
	// or display name collision returns common.ErrUsernameTaken or
	// common.ErrDisplayNameTaken.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// Find returns the account matching every non-empty filter field, or
	// common.ErrorNotFound.
	Find(ctx context.Context, filter models.AccountFilter) (*models.Account, error)

	// FindForUpdate reads the account by username and holds its row until the
	// surrounding transaction ends.
	FindForUpdate(ctx context.Context, username string) (*models.Account, error)

	// Update writes exactly the named fields of account, matched by username.
	Update(ctx context.Context, account *models.Account, fields []models.AccountField) error

	// Delete removes the account row.
	Delete(ctx context.Context, username string) error
}
