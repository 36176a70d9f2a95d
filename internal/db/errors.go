package db

import (
	"errors"
	"fmt"
)

// ErrInvalidTableName is returned for names that are empty, reserved or not plain identifiers.
var ErrInvalidTableName = errors.New("invalid table name")

// TableExistsError is returned when creating a table that is already present.
type TableExistsError struct {
	Table string
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table %q already exists (use append to add rows, or drop it first)", e.Table)
}

// TableNotFoundError is returned when appending to, reading or dropping a missing table.
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Table)
}

// IsTableExists reports whether err wraps a *TableExistsError.
func IsTableExists(err error) bool {
	var te *TableExistsError
	return errors.As(err, &te)
}

// IsTableNotFound reports whether err wraps a *TableNotFoundError.
func IsTableNotFound(err error) bool {
	var te *TableNotFoundError
	return errors.As(err, &te)
}

// TableKindMismatchError is returned when appending one kind of data to a
// table that holds another.
type TableKindMismatchError struct {
	Table string
	Have  TableKind
	Want  TableKind
}

func (e *TableKindMismatchError) Error() string {
	return fmt.Sprintf("table %q holds %s, cannot append %s", e.Table, e.Have, e.Want)
}

// IsTableKindMismatch reports whether err wraps a *TableKindMismatchError.
func IsTableKindMismatch(err error) bool {
	var te *TableKindMismatchError
	return errors.As(err, &te)
}
