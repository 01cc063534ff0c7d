package users

import (
	"context"
	"fmt"
	"time"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/google/uuid"
)

// MemoryTable holds account rows keyed by username. It is not synchronized;
// the owning repository manager serializes access.
type MemoryTable struct {
	rows map[string]models.Account
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[string]models.Account)}
}

// Clone returns an independent copy of the table.
func (t *MemoryTable) Clone() *MemoryTable {
	c := &MemoryTable{rows: make(map[string]models.Account, len(t.rows))}
	for k, v := range t.rows {
		c.rows[k] = v
	}
	return c
}

// MemoryRepository implements Repository over a MemoryTable.
type MemoryRepository struct {
	t *MemoryTable
}

func NewMemoryRepository(t *MemoryTable) *MemoryRepository {
	return &MemoryRepository{t: t}
}

func (r *MemoryRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if _, ok := r.t.rows[account.Username]; ok {
		return nil, common.ErrUsernameTaken
	}
	for _, row := range r.t.rows {
		if row.DisplayName == account.DisplayName {
			return nil, common.ErrDisplayNameTaken
		}
	}

	account.ID = uuid.NewString()
	account.CreatedAt = time.Now().UTC()
	r.t.rows[account.Username] = *account
	return account, nil
}

func (r *MemoryRepository) Find(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	if filter.IsEmpty() {
		return nil, common.ErrInvalidArgument
	}
	if filter.Username != "" {
		row, ok := r.t.rows[filter.Username]
		if !ok || !filter.Matches(&row) {
			return nil, common.ErrorNotFound
		}
		return &row, nil
	}
	for _, row := range r.t.rows {
		if filter.Matches(&row) {
			return &row, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) FindForUpdate(ctx context.Context, username string) (*models.Account, error) {
	row, ok := r.t.rows[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &row, nil
}

func (r *MemoryRepository) Update(ctx context.Context, account *models.Account, fields []models.AccountField) error {
	row, ok := r.t.rows[account.Username]
	if !ok {
		return common.ErrorNotFound
	}

	for _, f := range fields {
		switch f {
		case models.FieldDisplayName:
			for name, other := range r.t.rows {
				if name != account.Username && other.DisplayName == account.DisplayName {
					return common.ErrDisplayNameTaken
				}
			}
			row.DisplayName = account.DisplayName
		case models.FieldPasswordRecord:
			row.PasswordRecord = account.PasswordRecord
		case models.FieldIPAddress:
			row.IPAddress = account.IPAddress
		case models.FieldBalance:
			row.Balance = account.Balance
		default:
			return fmt.Errorf("%w: unknown field %q", common.ErrInvalidArgument, f)
		}
	}

	r.t.rows[account.Username] = row
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, username string) error {
	if _, ok := r.t.rows[username]; !ok {
		return common.ErrorNotFound
	}
	delete(r.t.rows, username)
	return nil
}
