// Package services holds the ledger's business logic: the account directory,
// the token ledger and the Ledger facade composing them.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const MinPasswordLength = 6

var (
	usernamePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_~-]*$`)
	displayNamePattern = regexp.MustCompile(`^[A-Za-z]([A-Za-z0-9\s_~-]*[A-Za-z0-9_~-])?$`)
)

type RegisterParams struct {
	Username    string
	DisplayName string
	Password    string
	IPAddress   string
}

// AccountService owns account identity: registration, lookup with instance
// de-duplication, authentication and balance writes.
type AccountService struct {
	store  repomanager.RepositoryManager
	crypto cryptox.Provider
	logger logging.Logger

	locks *accountLocks
	cache *accountCache
}

func NewAccountService(store repomanager.RepositoryManager, crypto cryptox.Provider, logger logging.Logger) *AccountService {
	return &AccountService{
		store:  store,
		crypto: crypto,
		logger: logger.With("module", "accounts"),
		locks:  newAccountLocks(),
		cache:  newAccountCache(),
	}
}

func validateUsername(username string) error {
	if err := validation.Validate(username, validation.Required, validation.Match(usernamePattern)); err != nil {
		return common.ErrInvalidUsername
	}
	return nil
}

func validateDisplayName(name string) error {
	if err := validation.Validate(name, validation.Required, validation.Match(displayNamePattern)); err != nil {
		return common.ErrInvalidDisplayName
	}
	return nil
}

func validatePassword(password string) error {
	if err := validation.Validate(password, validation.Required, validation.RuneLength(MinPasswordLength, 0)); err != nil {
		return common.ErrPasswordTooShort
	}
	return nil
}

// Register creates an account with a zero balance.
func (s *AccountService) Register(ctx context.Context, p RegisterParams) (*models.Account, error) {
	if err := validateUsername(p.Username); err != nil {
		return nil, err
	}
	if err := validateDisplayName(p.DisplayName); err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, models.AccountFilter{Username: p.Username}, common.ErrUsernameTaken); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, models.AccountFilter{DisplayName: p.DisplayName}, common.ErrDisplayNameTaken); err != nil {
		return nil, err
	}

	if err := validatePassword(p.Password); err != nil {
		return nil, err
	}

	record, err := cryptox.MakePasswordRecord(s.crypto, p.Password)
	if err != nil {
		return nil, fmt.Errorf("error generating password record: %w", err)
	}

	account, err := s.store.Users().Create(ctx, &models.Account{
		Username:       p.Username,
		DisplayName:    p.DisplayName,
		PasswordRecord: record,
		IPAddress:      p.IPAddress,
	})
	if err != nil {
		if common.IsDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	return s.cache.Intern(account), nil
}

func (s *AccountService) ensureFree(ctx context.Context, filter models.AccountFilter, taken error) error {
	_, err := s.store.Users().Find(ctx, filter)
	switch {
	case err == nil:
		return taken
	case errors.Is(err, common.ErrorNotFound):
		return nil
	default:
		return fmt.Errorf("error checking account: %w", err)
	}
}

// Lookup returns the account matching every non-empty filter field. If a live
// instance for that username is already held in the process, that instance
// is returned, refreshed from the store.
func (s *AccountService) Lookup(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	if filter.IsEmpty() {
		return nil, common.ErrInvalidArgument
	}

	row, err := s.store.Users().Find(ctx, filter)
	if err != nil {
		return nil, lookupError(err)
	}

	account := s.cache.Intern(row)
	if account == row {
		return account, nil
	}

	unlock := s.locks.Lock(row.Username)
	defer unlock()

	// re-read under the lock so a balance published meanwhile is not rolled back
	fresh, err := s.store.Users().Find(ctx, models.AccountFilter{Username: row.Username})
	if err != nil {
		return nil, lookupError(err)
	}
	if fresh.ID != account.ID {
		return s.cache.Intern(fresh), nil
	}

	account.DisplayName = fresh.DisplayName
	account.PasswordRecord = fresh.PasswordRecord
	account.IPAddress = fresh.IPAddress
	account.Balance = fresh.Balance
	return account, nil
}

func lookupError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return fmt.Errorf("error looking up account: %w", err)
}

// Authenticate reports whether password matches the account's record.
func (s *AccountService) Authenticate(ctx context.Context, account *models.Account, password string) bool {
	if account == nil {
		return false
	}
	ok, err := cryptox.VerifyPassword(s.crypto, account.PasswordRecord, password)
	if err != nil {
		s.logger.Warn(ctx, "unreadable password record", "username", account.Username, "error", err)
		return false
	}
	return ok
}

// Save writes exactly the named fields of account to the store.
func (s *AccountService) Save(ctx context.Context, account *models.Account, fields ...models.AccountField) error {
	if len(fields) == 0 {
		return nil
	}

	unlock := s.locks.Lock(account.Username)
	defer unlock()

	if err := s.store.Users().Update(ctx, account, fields); err != nil {
		if common.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("error saving account: %w", err)
	}
	return nil
}

// Balance reads the balance of a shared account instance.
func (s *AccountService) Balance(account *models.Account) int64 {
	unlock := s.locks.Lock(account.Username)
	defer unlock()
	return account.Balance
}

// AddCoins applies a signed delta to the account balance and persists it.
func (s *AccountService) AddCoins(ctx context.Context, account *models.Account, delta int64) error {
	unlock := s.locks.Lock(account.Username)
	defer unlock()

	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		var err error
		balance, err = adjustBalance(ctx, r, account.Username, account.ID, delta)
		return err
	})
	if err != nil {
		return err
	}

	s.publishBalance(account.Username, balance, account)
	return nil
}

// Delete removes account, first moving its whole balance to transferTo when
// one is given.
func (s *AccountService) Delete(ctx context.Context, account, transferTo *models.Account) error {
	var target string
	if transferTo != nil {
		if transferTo.Username == account.Username {
			return fmt.Errorf("%w: cannot transfer to the deleted account", common.ErrInvalidArgument)
		}
		target = transferTo.Username
	}

	unlock := s.locks.Lock(account.Username, target)
	defer unlock()

	var moved, credited int64
	err := s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		row, err := lockAccount(ctx, r, account.Username, account.ID)
		if err != nil {
			return err
		}
		moved = row.Balance

		if target != "" {
			if credited, err = adjustBalance(ctx, r, target, transferTo.ID, moved); err != nil {
				return err
			}
		}

		if err := r.Users().Delete(ctx, account.Username); err != nil {
			return storeError("error deleting account", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if target != "" {
		s.publishBalance(target, credited, transferTo)
	}
	s.cache.Evict(account.Username)

	s.logger.Info(ctx, "account deleted", "username", account.Username, "transfer_to", target, "moved", moved)
	return nil
}

// adjustBalance locks the row for username inside r, adds delta and writes the
// balance back. A non-empty id must match the row, so a handle to a deleted
// account never reaches a newer account with the same name. It returns the
// new balance.
func adjustBalance(ctx context.Context, r repomanager.Repositories, username, id string, delta int64) (int64, error) {
	row, err := lockAccount(ctx, r, username, id)
	if err != nil {
		return 0, err
	}

	row.Balance += delta
	if err := r.Users().Update(ctx, row, []models.AccountField{models.FieldBalance}); err != nil {
		return 0, storeError("error updating balance", err)
	}
	return row.Balance, nil
}

// publishBalance copies a committed balance into the in-memory instances of
// username. The caller must hold the username's lock.
func (s *AccountService) publishBalance(username string, balance int64, held ...*models.Account) {
	for _, a := range held {
		if a != nil {
			a.Balance = balance
		}
	}
	if live := s.cache.Get(username); live != nil {
		live.Balance = balance
	}
}

// lockAccount reads the row for username FOR UPDATE, failing with
// common.ErrorNotFound when id is set and the row is a different account.
func lockAccount(ctx context.Context, r repomanager.Repositories, username, id string) (*models.Account, error) {
	row, err := r.Users().FindForUpdate(ctx, username)
	if err != nil {
		return nil, storeError("error reading account", err)
	}
	if id != "" && row.ID != id {
		return nil, common.ErrorNotFound
	}
	return row, nil
}

func storeError(msg string, err error) error {
	if common.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
