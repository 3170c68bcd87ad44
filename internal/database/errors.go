package database

import (
	"errors"

	sqlite "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert violated a uniqueness constraint.
	// Duplicate suppression for messages and monitored chats relies on the
	// schema constraints surfacing through this error, so concurrent
	// inserts of the same external ID resolve to first-writer-wins.
	ErrDuplicate = errors.New("record already exists")
)

// SQLite extended result codes for uniqueness violations.
const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintUnique || se.Code() == sqliteConstraintPrimaryKey
	}
	return false
}
