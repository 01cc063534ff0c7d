// Package models defines the ledger records persisted by the repositories.
package models

import "time"

// AccountField names a column that Save may write back to the store.
type AccountField string

const (
	FieldDisplayName    AccountField = "display_name"
	FieldPasswordRecord AccountField = "password_record"
	FieldIPAddress      AccountField = "ip_address"
	FieldBalance        AccountField = "balance"
)

// Account is a uniquely named balance holder.
//
// A single *Account may be shared by every caller in the process (see the
// account cache in package services); its Balance is written only while the
// ledger holds that username's lock.
type Account struct {
	ID             string
	Username       string
	DisplayName    string
	PasswordRecord string
	IPAddress      string
	Balance        int64
	CreatedAt      time.Time
}

// AccountFilter selects accounts by every non-empty field.
type AccountFilter struct {
	Username    string
	DisplayName string
}

// IsEmpty reports whether the filter constrains nothing.
func (f AccountFilter) IsEmpty() bool {
	return f.Username == "" && f.DisplayName == ""
}

// Matches reports whether a satisfies every non-empty field of f.
func (f AccountFilter) Matches(a *Account) bool {
	if f.Username != "" && f.Username != a.Username {
		return false
	}
	if f.DisplayName != "" && f.DisplayName != a.DisplayName {
		return false
	}
	return true
}
