package dbstore

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrConflict matches any ConflictError.
	ErrConflict = errors.New("natural key already exists")
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("no row matches natural key")
)

// ConflictError reports an insert that violated a uniqueness constraint.
// It is expected and recovered by resolving the existing row.
type ConflictError struct {
	Table string
	Key   map[string]any
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("inserting into %s: %v: %v", e.Table, ErrConflict, e.Err)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a natural-key lookup that matched no rows. After a
// conflict this is a consistency violation.
type NotFoundError struct {
	Table    string
	Criteria map[string]any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fetching id from %s where %v: %v", e.Table, e.Criteria, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreError wraps any other backing-store failure.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op, table string, err error) error {
	return &StoreError{Op: op, Table: table, Err: err}
}

// isUniqueViolation reports whether err is a uniqueness constraint failure.
// Drivers without error translation are matched on their message.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
