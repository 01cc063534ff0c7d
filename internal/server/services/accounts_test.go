package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  RegisterParams
		wantErr error
	}{
		{"ok", RegisterParams{"alice", "Alice Liddell", "secret", ""}, nil},
		{"username symbols", RegisterParams{"a_b-c~1", "Abc", "secret", ""}, nil},
		{"empty username", RegisterParams{"", "Alice", "secret", ""}, common.ErrInvalidUsername},
		{"username starts with digit", RegisterParams{"1alice", "Alice", "secret", ""}, common.ErrInvalidUsername},
		{"username with space", RegisterParams{"al ice", "Alice", "secret", ""}, common.ErrInvalidUsername},
		{"empty display name", RegisterParams{"alice", "", "secret", ""}, common.ErrInvalidDisplayName},
		{"display name trailing space", RegisterParams{"alice", "Alice ", "secret", ""}, common.ErrInvalidDisplayName},
		{"display name starts with digit", RegisterParams{"alice", "9Alice", "secret", ""}, common.ErrInvalidDisplayName},
		{"display name punctuation", RegisterParams{"alice", "Alice!", "secret", ""}, common.ErrInvalidDisplayName},
		{"single letter display name", RegisterParams{"alice", "A", "secret", ""}, nil},
		{"short password", RegisterParams{"alice", "Alice", "12345", ""}, common.ErrPasswordTooShort},
		{"empty password", RegisterParams{"alice", "Alice", "", ""}, common.ErrPasswordTooShort},
		{"six char password", RegisterParams{"alice", "Alice", "123456", ""}, nil},
		{"bad username wins over short password", RegisterParams{"-x", "Alice", "1", ""}, common.ErrInvalidUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t)
			a, err := l.Register(context.Background(), tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params.Username, a.Username)
			assert.Equal(t, int64(0), a.Balance)
			assert.NotEmpty(t, a.ID)
		})
	}
}

func TestRegister_Conflicts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustRegister(t, l, "alice", "Alice", "secret")

	_, err := l.Register(ctx, RegisterParams{Username: "alice", DisplayName: "Other", Password: "secret"})
	assert.ErrorIs(t, err, common.ErrUsernameTaken)

	_, err = l.Register(ctx, RegisterParams{Username: "bob", DisplayName: "Alice", Password: "secret"})
	assert.ErrorIs(t, err, common.ErrDisplayNameTaken)

	// taken checks run before the password length check
	_, err = l.Register(ctx, RegisterParams{Username: "alice", DisplayName: "Other", Password: "x"})
	assert.ErrorIs(t, err, common.ErrUsernameTaken)

	// display names are case sensitive
	_, err = l.Register(ctx, RegisterParams{Username: "carol", DisplayName: "alice", Password: "secret"})
	assert.NoError(t, err)
}

func TestRegister_StoresIPAddress(t *testing.T) {
	l, store := newTestLedger(t)
	_, err := l.Register(context.Background(), RegisterParams{Username: "alice", DisplayName: "Alice", Password: "secret", IPAddress: "10.0.0.7"})
	require.NoError(t, err)

	row, err := store.Users().Find(context.Background(), models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", row.IPAddress)
}

func TestAuthenticate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "correct horse")
	b := mustRegister(t, l, "bob", "Bob", "correct horse")

	assert.True(t, l.Authenticate(ctx, a, "correct horse"))
	assert.False(t, l.Authenticate(ctx, a, "correct horsE"))
	assert.False(t, l.Authenticate(ctx, a, ""))
	assert.False(t, l.Authenticate(ctx, nil, "correct horse"))

	// fresh salt per registration
	assert.NotEqual(t, a.PasswordRecord, b.PasswordRecord)
	assert.NotEqual(t, a.PasswordRecord[:64], b.PasswordRecord[:64])

	broken := &models.Account{Username: "x", PasswordRecord: "zz"}
	assert.False(t, l.Authenticate(ctx, broken, "anything"))
}

func TestRegister_RandomFailure(t *testing.T) {
	store := repomanager.NewMemoryRepositoryManager()
	l := NewLedger(store, brokenRandom{}, logging.Discard())

	_, err := l.Register(context.Background(), RegisterParams{Username: "alice", DisplayName: "Alice", Password: "secret"})
	require.Error(t, err)
	assert.False(t, common.IsDomainError(err))

	_, err = store.Users().Find(context.Background(), models.AccountFilter{Username: "alice"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

type brokenRandom struct{ cryptox.SystemProvider }

func (brokenRandom) RandomBytes(int) ([]byte, error) { return nil, errors.New("entropy exhausted") }

func TestLookup(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")
	mustRegister(t, l, "bob", "Bob", "secret")

	got, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = l.LookupAccount(ctx, models.AccountFilter{DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = l.LookupAccount(ctx, models.AccountFilter{Username: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = l.LookupAccount(ctx, models.AccountFilter{Username: "alice", DisplayName: "Bob"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = l.LookupAccount(ctx, models.AccountFilter{Username: "nobody"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = l.LookupAccount(ctx, models.AccountFilter{})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestLookup_SharedInstanceSeesBalanceChanges(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustRegister(t, l, "alice", "Alice", "secret")

	first, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	second, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	require.Same(t, first, second)

	mustFund(t, l, first, 42)
	assert.Equal(t, int64(42), l.Balance(second))
}

func TestSave_WritesOnlyNamedFields(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")

	a.DisplayName = "Alice Renamed"
	a.IPAddress = "192.0.2.1"
	require.NoError(t, l.Save(ctx, a, models.FieldIPAddress))

	row, err := store.Users().Find(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", row.IPAddress)
	assert.Equal(t, "Alice", row.DisplayName)

	require.NoError(t, l.Save(ctx, a, models.FieldDisplayName))
	row, err = store.Users().Find(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", row.DisplayName)

	require.NoError(t, l.Save(ctx, a))
	assert.ErrorIs(t, l.Save(ctx, nil, models.FieldBalance), common.ErrInvalidArgument)
}

func TestSave_DisplayNameConflict(t *testing.T) {
	l, _ := newTestLedger(t)
	a := mustRegister(t, l, "alice", "Alice", "secret")
	mustRegister(t, l, "bob", "Bob", "secret")

	a.DisplayName = "Bob"
	assert.ErrorIs(t, l.Save(context.Background(), a, models.FieldDisplayName), common.ErrDisplayNameTaken)
}

func TestAddCoins(t *testing.T) {
	l, store := newTestLedger(t)
	a := mustRegister(t, l, "alice", "Alice", "secret")

	mustFund(t, l, a, 100)
	mustFund(t, l, a, -130)

	assert.Equal(t, int64(-30), l.Balance(a))
	assert.Equal(t, int64(-30), storedBalance(t, store, "alice"))
	assert.ErrorIs(t, l.AddCoins(context.Background(), nil, 1), common.ErrInvalidArgument)
}

func TestAddCoins_FailedWriteLeavesBalance(t *testing.T) {
	mem := repomanager.NewMemoryRepositoryManager()
	store := &faultyStore{RepositoryManager: mem}
	l := NewLedger(store, cryptox.SystemProvider{}, logging.Discard())
	a := mustRegister(t, l, "alice", "Alice", "secret")
	mustFund(t, l, a, 10)

	store.failBalanceFor = "alice"
	err := l.AddCoins(context.Background(), a, 5)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, int64(10), l.Balance(a))
	assert.Equal(t, int64(10), storedBalance(t, mem, "alice"))
}

func TestDeleteAccount(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")
	b := mustRegister(t, l, "bob", "Bob", "secret")
	mustFund(t, l, a, 70)
	mustFund(t, l, b, 5)

	require.NoError(t, l.DeleteAccount(ctx, a, b))

	_, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, int64(75), l.Balance(b))
	assert.Equal(t, int64(75), storedBalance(t, store, "bob"))

	// the name is free again
	c := mustRegister(t, l, "alice", "Alice", "secret")
	assert.NotSame(t, a, c)
	assert.Equal(t, int64(0), c.Balance)
}

func TestDeleteAccount_WithoutTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")
	mustFund(t, l, a, 70)

	require.NoError(t, l.DeleteAccount(ctx, a, nil))
	_, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.ErrorIs(t, l.DeleteAccount(ctx, a, nil), common.ErrorNotFound)
}

func TestDeleteAccount_InvalidArguments(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")

	assert.ErrorIs(t, l.DeleteAccount(ctx, nil, a), common.ErrInvalidArgument)
	assert.ErrorIs(t, l.DeleteAccount(ctx, a, a), common.ErrInvalidArgument)

	_, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	assert.NoError(t, err)
}

func TestDeleteAccount_FailedCreditKeepsAccount(t *testing.T) {
	mem := repomanager.NewMemoryRepositoryManager()
	store := &faultyStore{RepositoryManager: mem}
	l := NewLedger(store, cryptox.SystemProvider{}, logging.Discard())
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")
	b := mustRegister(t, l, "bob", "Bob", "secret")
	mustFund(t, l, a, 30)

	store.failBalanceFor = "bob"
	require.ErrorIs(t, l.DeleteAccount(ctx, a, b), errInjected)

	assert.Equal(t, int64(30), storedBalance(t, mem, "alice"))
	assert.Equal(t, int64(0), l.Balance(b))
}

func TestLookup_RefreshesHeldInstanceFromStore(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a := mustRegister(t, l, "alice", "Alice", "secret")
	mustFund(t, l, a, 100)

	// another process sharing the store rewrites the row
	row, err := store.Users().Find(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	row.Balance = 30
	row.DisplayName = "Alice L"
	require.NoError(t, store.Users().Update(ctx, row, []models.AccountField{models.FieldBalance, models.FieldDisplayName}))

	got, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, int64(30), got.Balance)
	assert.Equal(t, "Alice L", got.DisplayName)
	assert.Equal(t, int64(30), l.Balance(a))

	// writing the refreshed balance back is a no-op
	require.NoError(t, l.Save(ctx, got, models.FieldBalance))
	assert.Equal(t, int64(30), storedBalance(t, store, "alice"))
}

func TestLookup_ReplacesHandleOfReusedUsername(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	old := mustRegister(t, l, "alice", "Alice", "secret")
	mustFund(t, l, old, 40)

	// deleted and re-registered behind this process's back
	require.NoError(t, store.Users().Delete(ctx, "alice"))
	_, err := store.Users().Create(ctx, &models.Account{Username: "alice", DisplayName: "New Alice"})
	require.NoError(t, err)

	got, err := l.LookupAccount(ctx, models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.NotSame(t, old, got)
	assert.NotEqual(t, old.ID, got.ID)
	assert.Equal(t, int64(0), got.Balance)
	assert.Equal(t, int64(40), old.Balance)
}

func TestStaleHandle_DoesNotReachReusedUsername(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	old := mustRegister(t, l, "alice", "Alice", "secret")
	bob := mustRegister(t, l, "bob", "Bob", "secret")
	mustFund(t, l, bob, 10)

	require.NoError(t, l.DeleteAccount(ctx, old, nil))
	fresh := mustRegister(t, l, "alice", "Alice", "secret")
	require.NotSame(t, old, fresh)

	assert.ErrorIs(t, l.AddCoins(ctx, old, 500), common.ErrorNotFound)

	_, err := l.Mint(ctx, MintParams{Worth: 1, Account: old, Force: true})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	token, err := l.Mint(ctx, MintParams{Worth: 10, Account: bob})
	require.NoError(t, err)
	_, err = l.Redeem(ctx, token, old)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.ErrorIs(t, l.DeleteAccount(ctx, bob, old), common.ErrorNotFound)

	assert.Equal(t, int64(0), storedBalance(t, store, "alice"))
	assert.Equal(t, int64(0), fresh.Balance)

	// the token survived the failed redeem
	worth, err := l.Redeem(ctx, token, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(10), worth)
	assert.Equal(t, int64(10), storedBalance(t, store, "alice"))
}

type ctxKey struct{}

// ctxRecorder is a slog.Handler keeping the context of every record.
type ctxRecorder struct {
	mu   *sync.Mutex
	ctxs *[]context.Context
}

func (h ctxRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h ctxRecorder) Handle(ctx context.Context, _ slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.ctxs = append(*h.ctxs, ctx)
	return nil
}

func (h ctxRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h ctxRecorder) WithGroup(string) slog.Handler      { return h }

func TestAuthenticate_LogsWithCallerContext(t *testing.T) {
	var ctxs []context.Context
	rec := ctxRecorder{mu: &sync.Mutex{}, ctxs: &ctxs}
	l := NewLedger(repomanager.NewMemoryRepositoryManager(), cryptox.SystemProvider{}, logging.NewSlogLogger(slog.New(rec)))

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-7")
	broken := &models.Account{Username: "x", PasswordRecord: "zz"}
	require.False(t, l.Authenticate(ctx, broken, "anything"))

	require.Len(t, ctxs, 1)
	assert.Equal(t, "req-7", ctxs[0].Value(ctxKey{}))
}
