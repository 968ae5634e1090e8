package token

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt"
)

type (
	// HMACVerifier parses locally signed HS256 tokens.
	HMACVerifier struct {
		secret []byte
	}

	claims struct {
		jwt.StandardClaims
		UserID string `json:"userId,omitempty"`
	}
)

var _ Verifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (string, error) {
	t, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return v.secret, nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	c, ok := t.Claims.(*claims)
	if !ok || !t.Valid {
		return "", ErrTokenInvalid
	}

	id := c.userID()
	if id == "" {
		return "", ErrTokenInvalid
	}

	return id, nil
}

func (c *claims) userID() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.Subject != "":
		return c.Subject
	default:
		return c.Id
	}
}
