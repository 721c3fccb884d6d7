package domain

import "errors"

// Reset token errors
var (
	ErrTokenNotFound    = errors.New("reset token not found")
	ErrTokenAlreadyUsed = errors.New("reset token already used")

	// ErrTokenInvalid covers absent, consumed and expired tokens alike.
	// Callers must not be able to tell these apart.
	ErrTokenInvalid = errors.New("reset token invalid or expired")
)

// Confirmation errors
var (
	ErrNIPMismatch        = errors.New("nip and confirmation do not match")
	ErrHandoffUnavailable = errors.New("nip persistence handoff unavailable")
)

// Directory errors
var (
	ErrDirectoryMismatch    = errors.New("customer and vehicle do not match")
	ErrDirectoryUnavailable = errors.New("vehicle directory unavailable")
)
