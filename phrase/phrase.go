// Package phrase implements the pairing code phrases that key a transfer:
// a human-speakable "<adjective>-<noun>" string generated on the sender,
// typed on the receiver, and never sent over the wire in the clear. All
// cryptographic derivations operate on the canonical (normalized) form.
package phrase

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidPhrase = errors.New("phrase: invalid code phrase")
	ErrEmptyWordList = errors.New("phrase: empty word list")
)

// Normalize returns the canonical form of a code phrase: outer whitespace
// trimmed and the whole string lowercased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate reports whether s normalizes into a well-formed code phrase:
// exactly two non-empty segments joined by a single '-'.
func Validate(s string) bool {
	n := Normalize(s)
	if n == "" {
		return false
	}
	parts := strings.Split(n, "-")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Hash returns the lowercase hex SHA-256 of the canonical form of s. The
// sender publishes this value in its discovery beacons; it selects the
// session without revealing the phrase itself.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Generate returns a fresh canonical code phrase, picking one adjective
// and one noun independently and uniformly with a cryptographically
// secure RNG.
func Generate() (string, error) {
	adjectives, nouns := loadWordLists()
	adj, err := pick(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(nouns)
	if err != nil {
		return "", err
	}
	return adj + "-" + noun, nil
}

// pick selects a uniformly random element of list using crypto/rand.
func pick(list []string) (string, error) {
	if len(list) == 0 {
		return "", ErrEmptyWordList
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(list))))
	if err != nil {
		return "", fmt.Errorf("phrase: rng failure: %w", err)
	}
	return list[n.Int64()], nil
}
