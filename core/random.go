package core

import (
	"crypto/rand"
	"fmt"
)

const secureTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SecureToken returns a cryptographically random string of the given length
// drawn from an URL-safe alphanumeric alphabet. Device codes, magic link ids
// and CSRF tokens all come from here so that entropy per character is uniform
// across credential kinds.
func SecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("core: token length must be positive, got %d", length)
	}

	out := make([]byte, length)
	// Rejection sampling keeps the distribution uniform: 256 is not a
	// multiple of the alphabet size, so raw modulo would bias low indexes.
	max := byte(256 - (256 % len(secureTokenAlphabet)))
	buf := make([]byte, length)
	filled := 0
	for filled < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("core: reading random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			out[filled] = secureTokenAlphabet[int(b)%len(secureTokenAlphabet)]
			filled++
			if filled == length {
				break
			}
		}
	}
	return string(out), nil
}

// MustSecureToken panics on entropy-source failure. Reserved for paths where
// a dead entropy source already means the process cannot serve credentials.
func MustSecureToken(length int) string {
	token, err := SecureToken(length)
	if err != nil {
		panic(err)
	}
	return token
}
