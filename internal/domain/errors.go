package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Authentication-flow outcomes. These cover every user-triggerable
	// failure; unexpected store/collaborator errors stay untyped and are
	// translated to a generic message at the service boundary.
	ErrInvalidFormat     = errors.New("invalid format")
	ErrExpired           = errors.New("expired")
	ErrAlreadyUsed       = errors.New("already used")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrLockedOut         = errors.New("locked out")
	ErrRateLimited       = errors.New("rate limited")
	ErrHijackDetected    = errors.New("session hijack detected")
	ErrMisconfigured     = errors.New("misconfigured")
)
