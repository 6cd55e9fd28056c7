package domain

import (
	"errors"
	"fmt"
)

// ErrNoData is reported by analytics when an entity has no recorded history.
var ErrNoData = errors.New("no data")

// ErrInvalidInput marks values rejected at the boundary before they reach
// the ledger or analytics. Callers wrap it with the offending detail.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when an operation references an unknown entity.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
