package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	tokenBytes = 32
	// TokenLength is the encoded length of every continuation token.
	TokenLength = 43
)

// NewID returns an identifier for correlation and audit records.
func NewID() string {
	return uuid.NewString()
}

// NewToken mints a continuation token from the system CSPRNG, encoded with the
// unpadded URL-safe base64 alphabet. Uniqueness relies on entropy alone.
// Tokens never start with '-' so command lines cannot mistake them for flags.
func NewToken() (string, error) {
	return newToken(rand.Reader)
}

func newToken(r io.Reader) (string, error) {
	var buf [tokenBytes]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		token := base64.RawURLEncoding.EncodeToString(buf[:])
		if token[0] != '-' {
			return token, nil
		}
	}
}

// ValidToken reports whether raw has the shape of a token minted by NewToken.
// Stores call it before using a token as a file name or key.
func ValidToken(raw string) bool {
	if len(raw) != TokenLength || raw[0] == '-' {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
