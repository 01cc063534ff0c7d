package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/dbx"
	"github.com/P-T-/OpenCoins/internal/server/models"
)

const selectColumns = `id, username, display_name, password_record, ip_address, balance, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO users (username, display_name, password_record, ip_address, balance)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		account.Username, account.DisplayName, account.PasswordRecord, account.IPAddress, account.Balance,
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		if constraint, ok := dbx.IsUniqueViolation(err); ok {
			switch constraint {
			case "users_username_key":
				return nil, common.ErrUsernameTaken
			case "users_display_name_key":
				return nil, common.ErrDisplayNameTaken
			}
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) Find(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	if filter.IsEmpty() {
		return nil, common.ErrInvalidArgument
	}

	var conds []string
	var args []any
	if filter.Username != "" {
		args = append(args, filter.Username)
		conds = append(conds, fmt.Sprintf("username = $%d", len(args)))
	}
	if filter.DisplayName != "" {
		args = append(args, filter.DisplayName)
		conds = append(conds, fmt.Sprintf("display_name = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM users WHERE ` + strings.Join(conds, " AND ")
	return r.scanOne(r.db.QueryRowContext(ctx, query, args...))
}

func (r *PostgresRepository) FindForUpdate(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE username = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *PostgresRepository) Update(ctx context.Context, account *models.Account, fields []models.AccountField) error {
	var sets []string
	var args []any
	seen := make(map[models.AccountField]bool, len(fields))

	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true

		var v any
		switch f {
		case models.FieldDisplayName:
			v = account.DisplayName
		case models.FieldPasswordRecord:
			v = account.PasswordRecord
		case models.FieldIPAddress:
			v = account.IPAddress
		case models.FieldBalance:
			v = account.Balance
		default:
			return fmt.Errorf("%w: unknown field %q", common.ErrInvalidArgument, f)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, account.Username)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE username = $%d`, strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if constraint, ok := dbx.IsUniqueViolation(err); ok && constraint == "users_display_name_key" {
			return common.ErrDisplayNameTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.PasswordRecord, &a.IPAddress, &a.Balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
