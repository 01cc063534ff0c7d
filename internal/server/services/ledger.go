package services

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
)

// Ledger is the operation set transports call. It checks that required
// arguments are present and delegates to the account and token services.
type Ledger struct {
	accounts *AccountService
	tokens   *TokenService
	logger   logging.Logger
}

func NewLedger(store repomanager.RepositoryManager, crypto cryptox.Provider, logger logging.Logger) *Ledger {
	accounts := NewAccountService(store, crypto, logger)
	return &Ledger{
		accounts: accounts,
		tokens:   NewTokenService(accounts, store, crypto, logger),
		logger:   logger.With("module", "ledger"),
	}
}

func (l *Ledger) Register(ctx context.Context, p RegisterParams) (*models.Account, error) {
	account, err := l.accounts.Register(ctx, p)
	if err != nil {
		return nil, err
	}
	l.logger.Info(ctx, "account registered", "username", account.Username)
	return account, nil
}

func (l *Ledger) LookupAccount(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	return l.accounts.Lookup(ctx, filter)
}

func (l *Ledger) Authenticate(ctx context.Context, account *models.Account, password string) bool {
	return l.accounts.Authenticate(ctx, account, password)
}

func (l *Ledger) Save(ctx context.Context, account *models.Account, fields ...models.AccountField) error {
	if account == nil {
		return common.ErrInvalidArgument
	}
	return l.accounts.Save(ctx, account, fields...)
}

// Balance returns the current balance of a shared account instance.
func (l *Ledger) Balance(account *models.Account) int64 {
	return l.accounts.Balance(account)
}

func (l *Ledger) AddCoins(ctx context.Context, account *models.Account, delta int64) error {
	if account == nil {
		return common.ErrInvalidArgument
	}
	if err := l.accounts.AddCoins(ctx, account, delta); err != nil {
		return err
	}
	l.logger.Info(ctx, "coins added", "username", account.Username, "delta", delta)
	return nil
}

func (l *Ledger) Mint(ctx context.Context, p MintParams) (string, error) {
	id, err := l.tokens.Mint(ctx, p)
	if err != nil {
		return "", err
	}

	var creator string
	if p.Account != nil {
		creator = p.Account.Username
	}
	l.logger.Info(ctx, "token minted", "worth", p.Worth, "creator", creator, "revert_tag", p.RevertTag, "force", p.Force)
	return id, nil
}

func (l *Ledger) Redeem(ctx context.Context, tokenID string, account *models.Account) (int64, error) {
	if tokenID == "" || account == nil {
		return 0, common.ErrInvalidArgument
	}
	worth, err := l.tokens.Redeem(ctx, tokenID, account)
	if err != nil {
		return 0, err
	}
	l.logger.Info(ctx, "token redeemed", "username", account.Username, "worth", worth)
	return worth, nil
}

func (l *Ledger) RevertGroup(ctx context.Context, tag string, fallback *models.Account) ([]string, error) {
	if tag == "" || fallback == nil {
		return nil, common.ErrInvalidArgument
	}
	ids, err := l.tokens.RevertGroup(ctx, tag, fallback)
	l.logger.Info(ctx, "revert group processed", "revert_tag", tag, "fallback", fallback.Username, "reverted", len(ids))
	return ids, err
}

func (l *Ledger) DeleteAccount(ctx context.Context, account, transferTo *models.Account) error {
	if account == nil {
		return common.ErrInvalidArgument
	}
	return l.accounts.Delete(ctx, account, transferTo)
}

// CoerceWorth parses a decimal worth. Integral floats such as "10.0" are
// accepted; fractions, non-numbers and out-of-range values are not.
func CoerceWorth(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, common.ErrInvalidWorth
	}
	return WorthFromFloat(f)
}

// WorthFromFloat converts a JSON-style number to a worth.
func WorthFromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, common.ErrInvalidWorth
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, common.ErrInvalidWorth
	}
	return int64(f), nil
}
