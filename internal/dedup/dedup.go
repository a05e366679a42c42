// Package dedup derives stable deduplication keys for scholarship records.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Key hashes the normalized title+provider pair into a hex digest. Two
// candidates that differ only in casing, punctuation, or whitespace produce
// the same key.
func Key(title, provider string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + "|" + Normalize(provider)))
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases the input, strips punctuation, and collapses runs of
// whitespace to a single space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
