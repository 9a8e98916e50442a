// Package tokgen generates cryptographically random identifiers
// used as session IDs and double-submit CSRF tokens.
package tokgen

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultLength is the number of random bytes used by default.
	// 32 bytes provides 256 bits of entropy.
	DefaultLength = 32

	// MinLength is the minimum number of random bytes a token is generated from.
	MinLength = 16
)

// ErrRandomSource is returned when the random source failed.
// This is a configuration problem, not a recoverable verification failure.
var ErrRandomSource = errors.New("reading from random source")

// Generator generates cryptographically secure tokens.
type Generator struct {
	// Length is the number of random bytes to generate.
	// Defaults to DefaultLength if zero and is raised to MinLength if lower.
	Length int

	// Rand is the source of randomness. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Generate returns a new random token encoded as URL-safe base64 without padding.
func (g Generator) Generate() (string, error) {
	length := g.Length
	switch {
	case length == 0:
		length = DefaultLength
	case length < MinLength:
		length = MinLength
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRandomSource, err)
	}
	// Base64url raw encoding (RawURLEncoding) uses only A-Z, a-z, 0-9, '-', '_'.
	// None of NATS KV syntax ('.', '*', '>') appear in that charset and
	// form values need no escaping.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
