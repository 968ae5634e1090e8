// Package token verifies presented bearer credentials and resolves the
// user identity behind them. Issuance is out of scope.
package token

import (
	"context"
	"errors"
)

type (
	// Verifier validates a raw bearer token and returns the user id it
	// belongs to.
	Verifier interface {
		Verify(ctx context.Context, raw string) (string, error)
	}

	// Chain tries each verifier in order; the first success wins.
	Chain []Verifier
)

var (
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrInvalidSession = errors.New("session is invalid")
)

func (c Chain) Verify(ctx context.Context, raw string) (string, error) {
	for _, v := range c {
		if id, err := v.Verify(ctx, raw); err == nil {
			return id, nil
		}
	}

	return "", ErrTokenInvalid
}
