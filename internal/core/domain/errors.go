package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("invalid order request")
	ErrOutOfStock           = errors.New("out of stock")
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	ErrPersistence          = errors.New("order persistence failed")
	ErrNotFound             = errors.New("order not found")
	ErrPublish              = errors.New("order notification failed")
	ErrDuplicateRequest     = errors.New("duplicate request")
)

type ValidationError struct {
	Line   int // -1 when the error is not tied to a line
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: line %d: %s %s", ErrValidation, e.Line, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// OutOfStockError lists the SKUs the oracle flagged as unavailable and the
// SKUs it did not answer for.
type OutOfStockError struct {
	Unavailable []string
	Unconfirmed []string
}

func (e *OutOfStockError) Error() string {
	var parts []string
	if len(e.Unavailable) > 0 {
		parts = append(parts, "unavailable ["+strings.Join(e.Unavailable, ", ")+"]")
	}
	if len(e.Unconfirmed) > 0 {
		parts = append(parts, "unconfirmed ["+strings.Join(e.Unconfirmed, ", ")+"]")
	}
	return fmt.Sprintf("%s: %s", ErrOutOfStock, strings.Join(parts, ", "))
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// IsClientError reports whether err was caused by the request itself rather
// than by a failing dependency.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateRequest)
}

// Kind returns a stable, short name for the error class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrInventoryUnavailable):
		return "inventory_unavailable"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ErrPublish):
		return "publish"
	default:
		return "internal"
	}
}
