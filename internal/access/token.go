package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// tokenBytes of entropy; the encoded token is 43 characters.
	tokenBytes = 32

	maxTokenAttempts = 5
)

// ErrTokenSpaceExhausted means every generated candidate collided. With
// 256-bit tokens this indicates a broken random source, not bad luck.
var ErrTokenSpaceExhausted = errors.New("access: could not generate a unique share token")

// TokenChecker reports whether a token is already held by some guide.
type TokenChecker interface {
	ShareTokenTaken(ctx context.Context, token string) (bool, error)
}

// NewToken returns a random URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("access: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issuer mints share tokens that no other guide holds. The UNIQUE column is
// the final guard; the retry loop keeps collisions from reaching it.
type Issuer struct {
	checker  TokenChecker
	generate func() (string, error)
}

func NewIssuer(checker TokenChecker) *Issuer {
	return &Issuer{checker: checker, generate: NewToken}
}

// Issue returns a token that was free at the time of the check.
func (i *Issuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := i.generate()
		if err != nil {
			return "", err
		}
		taken, err := i.checker.ShareTokenTaken(ctx, token)
		if err != nil {
			return "", fmt.Errorf("access: checking token: %w", err)
		}
		if !taken {
			return token, nil
		}
	}
	return "", ErrTokenSpaceExhausted
}
