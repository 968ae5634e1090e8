// Package secret abstracts where sensitive configuration (signing
// secrets, API keys) is fetched from.
package secret

import "context"

type (
	Secret = []byte

	Source interface {
		Get(context.Context, string) (Secret, error)
	}
)
