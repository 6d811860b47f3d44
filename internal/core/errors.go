package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrCategoryInUse      = errors.New("category in use")
	ErrCorruptStore       = errors.New("corrupt store")
	ErrConcurrencyTimeout = errors.New("timed out waiting for store access")
	ErrUsernameTaken      = errors.New("username already taken")

	ErrInvalidType       = errors.New("type must be income or expense")
	ErrEmptyLabel        = errors.New("empty label")
	ErrLabelTooLong      = errors.New("label too long (max 200 characters)")
	ErrEmptyCategory     = errors.New("empty category")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyUsername     = errors.New("empty username")
	ErrEmptyPasswordHash = errors.New("empty password hash")
	ErrUnknownOrder      = errors.New("unknown line order")
)

// ValidationError reports malformed input. It is always detected before any
// mutation is applied.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CategoryInUseError rejects deleting a category that lines still reference
// when no reassignment target was given.
type CategoryInUseError struct {
	Category string
	Lines    int
}

func (e *CategoryInUseError) Error() string {
	return fmt.Sprintf("category %q is used by %d line(s); a target category is required", e.Category, e.Lines)
}

func (e *CategoryInUseError) Is(target error) bool { return target == ErrCategoryInUse }

// CorruptStoreError means the persisted document could not be trusted.
type CorruptStoreError struct {
	Source string
	Err    error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt store %s: %v", e.Source, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

func (e *CorruptStoreError) Is(target error) bool { return target == ErrCorruptStore }

// ConcurrencyTimeoutError means a caller gave up waiting for store access. No
// state was touched and the call is safe to retry.
type ConcurrencyTimeoutError struct {
	Op  string
	Err error
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrConcurrencyTimeout, e.Err)
}

func (e *ConcurrencyTimeoutError) Unwrap() error { return e.Err }

func (e *ConcurrencyTimeoutError) Is(target error) bool { return target == ErrConcurrencyTimeout }
