package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrIO         = errors.New("io error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("identifier conflict")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker. The marker should be one of the exported sentinel
// errors above; a nil marker defaults to ErrIO.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation is shorthand for Wrap(ErrValidation, component, operation, message, nil).
func Validation(component, operation, message string) error {
	return Wrap(ErrValidation, component, operation, message, nil)
}

// NotFound is shorthand for Wrap(ErrNotFound, component, operation, message, nil).
func NotFound(component, operation, message string) error {
	return Wrap(ErrNotFound, component, operation, message, nil)
}

// Kind returns a stable classification string for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
