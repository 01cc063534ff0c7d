package services

import (
	"context"
	"errors"
	"testing"

	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
	"github.com/P-T-/OpenCoins/internal/server/repositories/tokens"
	"github.com/P-T-/OpenCoins/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

func newTestLedger(t *testing.T) (*Ledger, *repomanager.MemoryRepositoryManager) {
	t.Helper()
	store := repomanager.NewMemoryRepositoryManager()
	return NewLedger(store, cryptox.SystemProvider{}, logging.Discard()), store
}

func mustRegister(t *testing.T, l *Ledger, username, displayName, password string) *models.Account {
	t.Helper()
	a, err := l.Register(context.Background(), RegisterParams{
		Username:    username,
		DisplayName: displayName,
		Password:    password,
	})
	require.NoError(t, err)
	return a
}

func mustFund(t *testing.T, l *Ledger, a *models.Account, amount int64) {
	t.Helper()
	require.NoError(t, l.AddCoins(context.Background(), a, amount))
}

func storedBalance(t *testing.T, store repomanager.RepositoryManager, username string) int64 {
	t.Helper()
	row, err := store.Users().Find(context.Background(), models.AccountFilter{Username: username})
	require.NoError(t, err)
	return row.Balance
}

// faultyStore wraps a manager and makes selected repository calls fail
// inside transactions.
type faultyStore struct {
	repomanager.RepositoryManager

	failTokenCreate bool
	failTokenDelete bool
	failBalanceFor  string
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ctx context.Context, r repomanager.Repositories) error) error {
	return f.RepositoryManager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		return fn(ctx, faultyRepos{Repositories: r, f: f})
	})
}

type faultyRepos struct {
	repomanager.Repositories
	f *faultyStore
}

func (r faultyRepos) Users() users.Repository {
	return faultyUsers{Repository: r.Repositories.Users(), f: r.f}
}

func (r faultyRepos) Tokens() tokens.Repository {
	return faultyTokens{Repository: r.Repositories.Tokens(), f: r.f}
}

type faultyUsers struct {
	users.Repository
	f *faultyStore
}

func (u faultyUsers) Update(ctx context.Context, a *models.Account, fields []models.AccountField) error {
	if u.f.failBalanceFor == a.Username {
		return errInjected
	}
	return u.Repository.Update(ctx, a, fields)
}

type faultyTokens struct {
	tokens.Repository
	f *faultyStore
}

func (t faultyTokens) Create(ctx context.Context, tok *models.Token) error {
	if t.f.failTokenCreate {
		return errInjected
	}
	return t.Repository.Create(ctx, tok)
}

func (t faultyTokens) Delete(ctx context.Context, id string) (*models.Token, error) {
	if t.f.failTokenDelete {
		return nil, errInjected
	}
	return t.Repository.Delete(ctx, id)
}
