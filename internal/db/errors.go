package db

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned by read-merge-write updates when the target
// row does not exist. Plain lookups report absence as a nil record instead.
var ErrRecordNotFound = errors.New("record not found")

// StorageError reports a failed local database statement
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrRecordNotFound) {
		return err
	}
	return &StorageError{Op: op, Table: table, Err: err}
}
