package domain

import "errors"

var (
	// ErrInvalidInput signals a missing or malformed request field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnauthorized signals a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrBudgetExceeded signals that the spending cap has been reached.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrUpstreamUnavailable signals an unreachable or failing external service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrCollectionNotFound signals a missing vector index (provisioning error).
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrStorageUnavailable signals a cache or ledger write failure.
	// Callers absorb it: the primary operation proceeds degraded.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
