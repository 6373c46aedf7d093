package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// TokenAuth validates tokens against a static list.
type TokenAuth struct {
	digests [][sha256.Size]byte
}

// NewTokenAuth creates a new TokenAuth from a list of valid tokens. Blank
// entries are ignored.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		a.digests = append(a.digests, sha256.Sum256([]byte(t)))
	}
	return a
}

// ValidateToken returns true if the token is in the allowed list. Every
// configured token is compared so timing does not reveal which one matched.
func (a *TokenAuth) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	d := sha256.Sum256([]byte(token))
	match := 0
	for i := range a.digests {
		match |= subtle.ConstantTimeCompare(d[:], a.digests[i][:])
	}
	return match == 1
}
