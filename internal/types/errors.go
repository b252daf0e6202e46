package types

import "errors"

// Domain specific errors for subscription storage and entitlement checks.
var (
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrDatabase        = errors.New("database error")
	ErrBadRequest      = errors.New("bad request")
)
