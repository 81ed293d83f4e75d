package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tokenLength   = 5

	// tokenSpace is len(tokenAlphabet)^tokenLength, one past the largest
	// encodable value.
	tokenSpace = 36 * 36 * 36 * 36 * 36
)

// RandSource provides random number generation for token drawing.
// This interface enables dependency injection for deterministic testing.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
}

// cryptoRandSource wraps crypto/rand for production use
type cryptoRandSource struct{}

// Intn returns a cryptographically secure random integer in [0, n).
// Panics if n <= 0 (programmer error).
func (cryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("cryptoRandSource.Intn: n must be positive, got %d", n))
	}
	// rand.Int does not error when using rand.Reader
	// https://pkg.go.dev/crypto/rand#Int
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(nBig.Int64())
}

// TokenIssuer issues collision-free bidder tokens: fixed-width base-36
// strings drawn uniformly from [1, 36^5). Its state is private to one
// Auction instance; it is not process-wide.
type TokenIssuer struct {
	rand   RandSource
	issued []int
}

// NewTokenIssuer returns an issuer drawing from src, or from crypto/rand
// when src is nil.
func NewTokenIssuer(src RandSource) *TokenIssuer {
	if src == nil {
		src = cryptoRandSource{}
	}
	return &TokenIssuer{rand: src}
}

// Issue draws values until one not yet issued is found, records it and
// returns its encoding. The membership scan is linear over everything
// issued so far, which is fine for one auction's bidder count but makes
// this issuer unsuitable as a shared, long-lived generator.
func (t *TokenIssuer) Issue() (string, error) {
	x := t.rand.Intn(tokenSpace-1) + 1
	for t.alreadyIssued(x) {
		x = t.rand.Intn(tokenSpace-1) + 1
	}
	token, err := encodeToken(x)
	if err != nil {
		return "", err
	}
	t.issued = append(t.issued, x)
	return token, nil
}

// Issued returns how many tokens have been handed out.
func (t *TokenIssuer) Issued() int {
	return len(t.issued)
}

func (t *TokenIssuer) alreadyIssued(x int) bool {
	for _, v := range t.issued {
		if v == x {
			return true
		}
	}
	return false
}

// encodeToken writes x in base 36, most significant digit first, zero
// padded to the fixed token width. Values too large for the width report
// ErrTokenSpaceExhausted; draws below 36^5 can never hit it, but the
// error path stays reachable rather than silently truncating.
func encodeToken(x int) (string, error) {
	var buf [tokenLength]byte
	for i := tokenLength - 1; i >= 0; i-- {
		buf[i] = tokenAlphabet[x%len(tokenAlphabet)]
		x /= len(tokenAlphabet)
	}
	if x != 0 {
		return "", ErrTokenSpaceExhausted
	}
	return string(buf[:]), nil
}
