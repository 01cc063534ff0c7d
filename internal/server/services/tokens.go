package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
)

type MintParams struct {
	Worth     int64
	RevertTag string
	// Account is debited by Worth. Nil mints without a debit.
	Account *models.Account
	// Force skips the worth and balance checks.
	Force bool
}

// RevertFailure is one token RevertGroup could not redeem.
type RevertFailure struct {
	TokenID string
	Err     error
}

// RevertError reports a partially applied revert. Reverted lists the tokens
// that were redeemed before and after the failures.
type RevertError struct {
	Reverted []string
	Failures []RevertFailure
}

func (e *RevertError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.TokenID, f.Err))
	}
	return fmt.Sprintf("revert failed for %d of %d tokens: %s",
		len(e.Failures), len(e.Failures)+len(e.Reverted), strings.Join(parts, "; "))
}

func (e *RevertError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// TokenService mints, redeems and reverts tokens. Every operation runs in a
// single store transaction under the locks of the accounts it touches.
type TokenService struct {
	accounts *AccountService
	store    repomanager.RepositoryManager
	crypto   cryptox.Provider
	logger   logging.Logger
}

func NewTokenService(accounts *AccountService, store repomanager.RepositoryManager, crypto cryptox.Provider, logger logging.Logger) *TokenService {
	return &TokenService{
		accounts: accounts,
		store:    store,
		crypto:   crypto,
		logger:   logger.With("module", "tokens"),
	}
}

// Mint creates a token worth p.Worth, debiting p.Account if set.
func (s *TokenService) Mint(ctx context.Context, p MintParams) (string, error) {
	if !p.Force && p.Worth <= 0 {
		return "", common.ErrInvalidWorth
	}

	id, err := cryptox.NewTokenID(s.crypto, p.Worth)
	if err != nil {
		return "", fmt.Errorf("error generating token id: %w", err)
	}

	var creator string
	if p.Account != nil {
		creator = p.Account.Username
		unlock := s.accounts.locks.Lock(creator)
		defer unlock()
	}

	var balance int64
	err = s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if creator != "" {
			row, err := lockAccount(ctx, r, creator, p.Account.ID)
			if err != nil {
				return err
			}
			if !p.Force && row.Balance < p.Worth {
				return common.ErrInsufficientFunds
			}
		}

		err := r.Tokens().Create(ctx, &models.Token{
			ID:              id,
			Worth:           p.Worth,
			RevertTag:       p.RevertTag,
			CreatorUsername: creator,
		})
		if err != nil {
			return fmt.Errorf("error creating token: %w", err)
		}

		if creator != "" {
			if balance, err = adjustBalance(ctx, r, creator, p.Account.ID, -p.Worth); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if creator != "" {
		s.accounts.publishBalance(creator, balance, p.Account)
	}
	return id, nil
}

// Redeem consumes the token and credits its stored worth to account.
func (s *TokenService) Redeem(ctx context.Context, tokenID string, account *models.Account) (int64, error) {
	unlock := s.accounts.locks.Lock(account.Username)
	defer unlock()

	var worth, balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		tok, err := takeToken(ctx, r, tokenID)
		if err != nil {
			return err
		}
		worth = tok.Worth

		balance, err = adjustBalance(ctx, r, account.Username, account.ID, tok.Worth)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.accounts.publishBalance(account.Username, balance, account)
	return worth, nil
}

// RevertGroup redeems every token tagged tag back into its creator, or into
// fallback when the creator no longer exists. Tokens are processed one
// transaction each; failures are collected in a *RevertError and do not stop
// the remaining tokens.
func (s *TokenService) RevertGroup(ctx context.Context, tag string, fallback *models.Account) ([]string, error) {
	group, err := s.store.Tokens().ListByRevertTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("error listing revert group: %w", err)
	}

	reverted := make([]string, 0, len(group))
	var failures []RevertFailure

	for _, tok := range group {
		if err := ctx.Err(); err != nil {
			failures = append(failures, RevertFailure{TokenID: tok.ID, Err: err})
			continue
		}
		if err := s.revertOne(ctx, tok, fallback); err != nil {
			s.logger.Warn(ctx, "token revert failed", "token", tok.ID, "revert_tag", tag, "error", err)
			failures = append(failures, RevertFailure{TokenID: tok.ID, Err: err})
			continue
		}
		reverted = append(reverted, tok.ID)
	}

	if len(failures) > 0 {
		return reverted, &RevertError{Reverted: reverted, Failures: failures}
	}
	return reverted, nil
}

func (s *TokenService) revertOne(ctx context.Context, listed *models.Token, fallback *models.Account) error {
	unlock := s.accounts.locks.Lock(listed.CreatorUsername, fallback.Username)
	defer unlock()

	var target, targetID string
	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		tok, err := takeToken(ctx, r, listed.ID)
		if err != nil {
			return err
		}

		target, targetID = fallback.Username, fallback.ID
		if tok.CreatorUsername != "" {
			_, err := r.Users().FindForUpdate(ctx, tok.CreatorUsername)
			switch {
			case err == nil:
				target, targetID = tok.CreatorUsername, ""
			case !errors.Is(err, common.ErrorNotFound):
				return fmt.Errorf("error reading creator: %w", err)
			}
		}

		balance, err = adjustBalance(ctx, r, target, targetID, tok.Worth)
		return err
	})
	if err != nil {
		return err
	}

	if target == fallback.Username {
		s.accounts.publishBalance(target, balance, fallback)
	} else {
		s.accounts.publishBalance(target, balance)
	}
	return nil
}

// takeToken deletes the token row and returns it, mapping a missing row to
// common.ErrInvalidToken.
func takeToken(ctx context.Context, r repomanager.Repositories, id string) (*models.Token, error) {
	tok, err := r.Tokens().Delete(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error deleting token: %w", err)
	}
	return tok, nil
}
