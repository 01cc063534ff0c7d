// Package cryptox holds the ledger's cryptographic encodings: salted password
// records and bearer token identifiers. The primitives themselves come from a
// Provider so tests can substitute deterministic randomness.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

const (
	// SaltSize is the number of random bytes in a password salt.
	SaltSize = 32
	// TokenEntropySize is the number of random bytes in a token id.
	TokenEntropySize = 32

	saltHexLen = SaltSize * 2
)

// ErrMalformedRecord is returned when a stored password record cannot be
// split into its salt and digest halves.
var ErrMalformedRecord = errors.New("malformed password record")

// Provider supplies the primitives the ledger consumes.
type Provider interface {
	// RandomBytes returns n cryptographically secure random bytes.
	RandomBytes(n int) ([]byte, error)
	// Digest returns the SHA-256 digest of data.
	Digest(data []byte) []byte
}

// SystemProvider is the production Provider backed by crypto/rand.
type SystemProvider struct{}

func (SystemProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (SystemProvider) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// MakePasswordRecord draws a fresh salt and returns
// hex(salt) ++ hex(sha256(salt ++ password)).
func MakePasswordRecord(p Provider, password string) (string, error) {
	salt, err := p.RandomBytes(SaltSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + passwordDigest(p, salt, password), nil
}

// VerifyPassword recomputes the digest for candidate using the salt stored in
// record and compares it with the stored digest in constant time.
func VerifyPassword(p Provider, record, candidate string) (bool, error) {
	if len(record) <= saltHexLen {
		return false, ErrMalformedRecord
	}
	salt, err := hex.DecodeString(record[:saltHexLen])
	if err != nil {
		return false, ErrMalformedRecord
	}
	got := passwordDigest(p, salt, candidate)
	return subtle.ConstantTimeCompare([]byte(got), []byte(record[saltHexLen:])) == 1, nil
}

func passwordDigest(p Provider, salt []byte, password string) string {
	buf := make([]byte, 0, len(salt)+len(password))
	buf = append(buf, salt...)
	buf = append(buf, password...)
	return hex.EncodeToString(p.Digest(buf))
}

// NewTokenID returns base64(32 random bytes) with padding removed, followed by
// ':' and the decimal worth. The embedded worth is informational only.
func NewTokenID(p Provider, worth int64) (string, error) {
	b, err := p.RandomBytes(TokenEntropySize)
	if err != nil {
		return "", err
	}
	enc := strings.ReplaceAll(base64.StdEncoding.EncodeToString(b), "=", "")
	return enc + ":" + strconv.FormatInt(worth, 10), nil
}
