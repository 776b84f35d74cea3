// Package id generates short random identifiers for flow messages.
package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Base62 alphabet: 0-9, A-Z, a-z
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	DefaultLength = 12
)

// PrefixMessage marks ids of messages created inside the host.
const PrefixMessage = "msg"

// Generate creates a cryptographically random Base62 id of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewMessageID returns "msg_" followed by a default-length id.
func NewMessageID() string {
	s, err := Generate(DefaultLength)
	if err != nil {
		return PrefixMessage + "_unavailable"
	}
	return PrefixMessage + "_" + s
}

// HasPrefix reports whether id is of the form "prefix_xxx".
func HasPrefix(id, prefix string) bool {
	p, rest, ok := strings.Cut(id, "_")
	return ok && p == prefix && rest != ""
}
