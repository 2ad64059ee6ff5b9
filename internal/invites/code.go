package invites

import (
	"crypto/rand"
	"fmt"
)

const (
	codeLength       = 12
	codeCharset      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts  = 10
	defaultMaxUses   = 1
	maxListedInvites = 50
)

// randomCode returns a fixed-length uppercase alphanumeric code. Bytes at
// or above the largest multiple of the charset size are discarded so every
// character is equally likely.
func randomCode() (string, error) {
	const limit = byte(256 - 256%len(codeCharset))
	code := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength)
	for len(code) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("invites: read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, codeCharset[int(b)%len(codeCharset)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}
