package airtable

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FindByID when the record does not exist in the
// given table. Bulk lookups never return it; missing IDs are simply omitted.
var ErrNotFound = errors.New("record not found")

// StoreError is any non-404 failure from the Airtable API: network errors,
// malformed responses, rate-limit exhaustion after retries, unknown tables.
type StoreError struct {
	Status  int
	Message string
}

func (e *StoreError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("airtable: %s (status %d)", e.Message, e.Status)
	}
	return "airtable: " + e.Message
}

// IsNotFound reports whether err is a single-record miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
