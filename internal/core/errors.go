package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidDate        = errors.New("invalid date")
	ErrUnknownCategory    = errors.New("unknown category")
	ErrUnknownCurrency    = errors.New("unknown currency")
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrInvalidTheme       = errors.New("invalid theme name")

	ErrNoOpenBucket   = errors.New("no open bucket for today")
	ErrArchiveMissing = errors.New("archived day missing")
	ErrCorruptRecord  = errors.New("corrupt stored record")
)

// ValidationError reports user-correctable input. Nothing was changed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed durable read or write. The operation may
// be retried.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityError reports stored data that is missing or unreadable. Dates
// lists the archive days affected, when known.
type IntegrityError struct {
	Key   string
	Dates []string
	Err   error
}

func (e *IntegrityError) Error() string {
	if len(e.Dates) > 0 {
		return fmt.Sprintf("data integrity %q (dates %s): %v", e.Key, strings.Join(e.Dates, ","), e.Err)
	}
	return fmt.Sprintf("data integrity %q: %v", e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
