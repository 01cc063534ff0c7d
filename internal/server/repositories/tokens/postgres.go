package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/dbx"
	"github.com/P-T-/OpenCoins/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO tokens (id, worth, revert_tag, creator_username)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, token.ID, token.Worth, token.RevertTag, token.CreatorUsername).Scan(&token.CreatedAt)
	if err != nil {
		if _, ok := dbx.IsUniqueViolation(err); ok {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.Token, error) {
	query := `
		SELECT id, worth, revert_tag, creator_username, created_at
		FROM tokens
		WHERE id = $1
	`
	return scanToken(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (*models.Token, error) {
	query := `
		DELETE FROM tokens
		WHERE id = $1
		RETURNING id, worth, revert_tag, creator_username, created_at
	`
	return scanToken(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ListByRevertTag(ctx context.Context, tag string) ([]*models.Token, error) {
	query := `
		SELECT id, worth, revert_tag, creator_username, created_at
		FROM tokens
		WHERE revert_tag = $1
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, tag)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Token
	for rows.Next() {
		t := &models.Token{}
		if err := rows.Scan(&t.ID, &t.Worth, &t.RevertTag, &t.CreatorUsername, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func scanToken(row *sql.Row) (*models.Token, error) {
	t := &models.Token{}
	if err := row.Scan(&t.ID, &t.Worth, &t.RevertTag, &t.CreatorUsername, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}
