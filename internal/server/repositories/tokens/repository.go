// Package tokens declares the token table contract and its PostgreSQL and
// in-memory implementations.
package tokens

import (
	"context"

	"github.com/P-T-/OpenCoins/internal/server/models"
)

// Repository stores outstanding tokens keyed by id.
type Repository interface {
	// Create inserts a token. A duplicate id returns common.ErrorAlreadyExists.
	Create(ctx context.Context, token *models.Token) error

	// Find returns the token with the given id or common.ErrorNotFound.
	Find(ctx context.Context, id string) (*models.Token, error)

	// Delete removes the token and returns the removed row, or
	// common.ErrorNotFound when no row matched.
	Delete(ctx context.Context, id string) (*models.Token, error)

	// ListByRevertTag returns every token carrying tag in insertion order.
	ListByRevertTag(ctx context.Context, tag string) ([]*models.Token, error)
}
