package domain

import "errors"

// Sentinel errors shared between workers, stores and the HTTP layer.
var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidCredentials is returned when the portal rejects a
	// username/password pair during registration.
	ErrInvalidCredentials = errors.New("invalid portal credentials")

	// ErrMissingFields is returned when a registration payload lacks
	// required fields.
	ErrMissingFields = errors.New("missing required fields")

	// ErrMalformedMessage marks a queue payload that cannot be decoded.
	// Handlers treat it as permanent: the delivery is quarantined instead
	// of burning through the retry budget.
	ErrMalformedMessage = errors.New("malformed message payload")
)
