// Package repository defines error types that are reused across the
// credential stores.  These sentinel values allow the service layer to
// distinguish between failure scenarios without inspecting backend-specific
// error text.
package repository

import "errors"

// ErrNotFound is returned when no live record matches a lookup.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a save would give two identities the same
// email.  Stores enforce it atomically (unique index or lock), so it closes
// the race a read-then-create check leaves open.
var ErrEmailExists = errors.New("email already exists")

// ErrConflict is returned for any other uniqueness violation.
var ErrConflict = errors.New("conflict")
