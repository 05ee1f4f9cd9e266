// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the entitlement service to distinguish between failure
// scenarios. ErrNotFound is a definitive business answer and is never
// retried, while ErrStoreUnavailable marks transient infrastructure
// trouble that bounded retry may recover from.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist. Handlers
// should translate this into an HTTP 404 response; the entitlement
// service treats a missing subscription row as "free tier", not as a
// failure.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when inserting a user whose email is
// already taken. Handlers should translate this into HTTP 409.
var ErrEmailExists = errors.New("email already exists")

// ErrStoreUnavailable wraps infrastructure-level database failures. The
// original driver error is attached for logging; callers must not leak
// it to end users.
var ErrStoreUnavailable = errors.New("store unavailable")

// storeErr classifies a database error: nil and sql.ErrNoRows pass
// through (ErrNoRows becomes ErrNotFound), everything else is wrapped in
// ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
