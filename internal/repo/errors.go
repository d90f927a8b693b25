package repo

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}
