package repomanager

import (
	"context"
	"sync"

	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/tokens"
	"github.com/P-T-/OpenCoins/internal/server/repositories/users"
)

// MemoryRepositoryManager keeps both tables in process memory. Transactions
// are serialized and work on copies that replace the live tables only when
// fn succeeds.
type MemoryRepositoryManager struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	users  *users.MemoryTable
	tokens *tokens.MemoryTable
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:  users.NewMemoryTable(),
		tokens: tokens.NewMemoryTable(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *MemoryRepositoryManager) Close() error { return nil }

func (m *MemoryRepositoryManager) Users() users.Repository { return memoryUsers{m: m} }

func (m *MemoryRepositoryManager) Tokens() tokens.Repository { return memoryTokens{m: m} }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	u, t := m.users.Clone(), m.tokens.Clone()
	m.mu.RUnlock()

	if err := fn(ctx, memoryRepositories{users: u, tokens: t}); err != nil {
		return err
	}

	m.mu.Lock()
	m.users, m.tokens = u, t
	m.mu.Unlock()
	return nil
}

// autocommit runs a single repository call against the live tables. Each
// memory repository call validates before it mutates, so no copy is needed.
func (m *MemoryRepositoryManager) autocommit(fn func(r Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryRepositories{users: m.users, tokens: m.tokens})
}

type memoryRepositories struct {
	users  *users.MemoryTable
	tokens *tokens.MemoryTable
}

func (r memoryRepositories) Users() users.Repository {
	return users.NewMemoryRepository(r.users)
}

func (r memoryRepositories) Tokens() tokens.Repository {
	return tokens.NewMemoryRepository(r.tokens)
}

type memoryUsers struct {
	m *MemoryRepositoryManager
}

func (u memoryUsers) Create(ctx context.Context, account *models.Account) (out *models.Account, err error) {
	err = u.m.autocommit(func(r Repositories) error {
		out, err = r.Users().Create(ctx, account)
		return err
	})
	return out, err
}

func (u memoryUsers) Find(ctx context.Context, filter models.AccountFilter) (out *models.Account, err error) {
	err = u.m.autocommit(func(r Repositories) error {
		out, err = r.Users().Find(ctx, filter)
		return err
	})
	return out, err
}

func (u memoryUsers) FindForUpdate(ctx context.Context, username string) (out *models.Account, err error) {
	err = u.m.autocommit(func(r Repositories) error {
		out, err = r.Users().FindForUpdate(ctx, username)
		return err
	})
	return out, err
}

func (u memoryUsers) Update(ctx context.Context, account *models.Account, fields []models.AccountField) error {
	return u.m.autocommit(func(r Repositories) error {
		return r.Users().Update(ctx, account, fields)
	})
}

func (u memoryUsers) Delete(ctx context.Context, username string) error {
	return u.m.autocommit(func(r Repositories) error {
		return r.Users().Delete(ctx, username)
	})
}

type memoryTokens struct {
	m *MemoryRepositoryManager
}

func (t memoryTokens) Create(ctx context.Context, token *models.Token) error {
	return t.m.autocommit(func(r Repositories) error {
		return r.Tokens().Create(ctx, token)
	})
}

func (t memoryTokens) Find(ctx context.Context, id string) (out *models.Token, err error) {
	err = t.m.autocommit(func(r Repositories) error {
		out, err = r.Tokens().Find(ctx, id)
		return err
	})
	return out, err
}

func (t memoryTokens) Delete(ctx context.Context, id string) (out *models.Token, err error) {
	err = t.m.autocommit(func(r Repositories) error {
		out, err = r.Tokens().Delete(ctx, id)
		return err
	})
	return out, err
}

func (t memoryTokens) ListByRevertTag(ctx context.Context, tag string) (out []*models.Token, err error) {
	err = t.m.autocommit(func(r Repositories) error {
		out, err = r.Tokens().ListByRevertTag(ctx, tag)
		return err
	})
	return out, err
}
