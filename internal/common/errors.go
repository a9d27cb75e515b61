// Package common defines shared sentinel and structured errors used across
// client and server layers. Callers should use errors.Is to match sentinels.
package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// Repository/store-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("revision conflict")

	// Access errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrDatabaseLoading is returned when a store primitive is called before
	// Connect has completed. It is transient: callers may retry once the
	// store reports ready.
	ErrDatabaseLoading = errors.New("database is still loading")

	// ErrMutationInFlight is returned when a mutation is invoked while a
	// prior call on the same instance has not settled yet.
	ErrMutationInFlight = errors.New("mutation already in flight")

	ErrInvalidToken = errors.New("invalid token")
)

// NotFoundError wraps ErrNotFound with the document id that was requested.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationErrors maps field names to human-readable reasons. A failed
// validation prevents the write entirely; it is never partially applied.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// BulkError reports per-document failures of a best-effort batch write.
// Writes that succeeded before or after a failing document stay committed.
type BulkError struct {
	Failures map[string]error // document id -> failure
}

func (e *BulkError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("bulk write failed for %d document(s): %s", len(ids), strings.Join(ids, ", "))
}

func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
