// Package identity resolves who is behind an inbound request and
// applies the security filters that run before rate limiting.
package identity

import "net/http"

type (
	Kind string

	// Identity is the per-request identity context. It is created per
	// request and never persisted.
	Identity struct {
		Identifier    string
		Kind          Kind
		IP            string
		UserID        string
		Authenticated bool
		APIKeyValid   bool
		Whitelisted   bool
	}

	// Rejection is an early security rejection, rendered by the gate's
	// response composer.
	Rejection struct {
		Status  int
		Code    string
		Message string
		Details string
	}
)

const (
	KindIP   Kind = "IP"
	KindUser Kind = "USER"
)

const (
	CodeBlocked        = "ACCESS_BLOCKED"
	CodeForbidden      = "FORBIDDEN"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInvalidRequest = "INVALID_REQUEST"
)

func blockedRejection(details string) *Rejection {
	return &Rejection{
		Status:  http.StatusForbidden,
		Code:    CodeBlocked,
		Message: "Access temporarily blocked due to suspicious activity.",
		Details: details,
	}
}

func forbiddenRejection(details string) *Rejection {
	return &Rejection{
		Status:  http.StatusForbidden,
		Code:    CodeForbidden,
		Message: "Access denied. Invalid or missing API key.",
		Details: details,
	}
}

func unauthorizedRejection(details string) *Rejection {
	return &Rejection{
		Status:  http.StatusUnauthorized,
		Code:    CodeUnauthorized,
		Message: "Authentication required. Please provide valid credentials.",
		Details: details,
	}
}

func invalidRequestRejection(details string) *Rejection {
	return &Rejection{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidRequest,
		Message: "Invalid request format or missing required headers.",
		Details: details,
	}
}
