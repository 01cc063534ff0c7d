// Package common defines sentinel errors shared by the ledger services, the
// storage layer and the transport. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("invalid username or password")
	ErrInvalidArgument = errors.New("invalid argument")

	// Account validation and conflict errors.
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidDisplayName = errors.New("invalid display name")
	ErrUsernameTaken      = errors.New("username taken")
	ErrDisplayNameTaken   = errors.New("display name taken")
	ErrPasswordTooShort   = errors.New("password too short")

	// Token errors.
	ErrInvalidWorth      = errors.New("invalid worth")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidToken      = errors.New("invalid token")
)

var domainErrors = []error{
	ErrorNotFound,
	ErrorUnauthorized,
	ErrInvalidArgument,
	ErrInvalidUsername,
	ErrInvalidDisplayName,
	ErrUsernameTaken,
	ErrDisplayNameTaken,
	ErrPasswordTooShort,
	ErrInvalidWorth,
	ErrInsufficientFunds,
	ErrInvalidToken,
}

// IsDomainError reports whether err is an expected ledger failure that may be
// shown to a caller verbatim. Anything else is an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
