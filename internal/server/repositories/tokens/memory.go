package tokens

import (
	"context"
	"sort"
	"time"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/server/models"
)

type memoryRow struct {
	seq   int64
	token models.Token
}

// MemoryTable holds token rows. It is not synchronized; the owning
// repository manager serializes access.
type MemoryTable struct {
	rows    map[string]memoryRow
	nextSeq int64
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[string]memoryRow)}
}

// Clone returns an independent copy of the table.
func (t *MemoryTable) Clone() *MemoryTable {
	c := &MemoryTable{rows: make(map[string]memoryRow, len(t.rows)), nextSeq: t.nextSeq}
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

func (r *MemoryRepository) Create(ctx context.Context, token *models.Token) error {
	if _, ok := r.t.rows[token.ID]; ok {
		return common.ErrorAlreadyExists
	}
	token.CreatedAt = time.Now().UTC()
	r.t.nextSeq++
	r.t.rows[token.ID] = memoryRow{seq: r.t.nextSeq, token: *token}
	return nil
}

func (r *MemoryRepository) Find(ctx context.Context, id string) (*models.Token, error) {
	row, ok := r.t.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	t := row.token
	return &t, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) (*models.Token, error) {
	row, ok := r.t.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(r.t.rows, id)
	t := row.token
	return &t, nil
}

func (r *MemoryRepository) ListByRevertTag(ctx context.Context, tag string) ([]*models.Token, error) {
	var matched []memoryRow
	for _, row := range r.t.rows {
		if row.token.RevertTag == tag {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	result := make([]*models.Token, 0, len(matched))
	for _, row := range matched {
		t := row.token
		result = append(result, &t)
	}
	return result, nil
}
