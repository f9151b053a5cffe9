package app

import (
	"crypto/rand"
	"fmt"
)

const (
	shortCodeLength   = 8
	shortCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// newShortCode mints an 8-character lowercase alphanumeric tracking code from
// a cryptographic random source. Uniqueness is probabilistic; the database's
// unique index on the tracking URL is the authoritative check.
func newShortCode() (string, error) {
	buf := make([]byte, shortCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = shortCodeAlphabet[int(b)%len(shortCodeAlphabet)]
	}
	return string(buf), nil
}
