package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidConfig       = errors.New("invalid workflow config")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrStatusConflict      = errors.New("status conflict")

	// ErrProviderTransient marks failures worth retrying: network faults,
	// rate limits, upstream timeouts.
	ErrProviderTransient = errors.New("provider transient error")
	// ErrProviderTerminal marks failures that retrying cannot fix:
	// content-policy rejections, invalid credentials, malformed requests.
	ErrProviderTerminal = errors.New("provider terminal error")
)
