package models

import (
	"errors"
	"fmt"
)

// Error variables for flow mutations that refuse to proceed.
var (
	ErrInvalidLineCount   = errors.New("line count must be between 1 and 10")
	ErrLineCountReduction = errors.New("cannot reduce line count while removed lines hold selections")
	ErrLineOutOfRange     = errors.New("line number exceeds configured line count")
	ErrNoActiveLine       = errors.New("every line already has a selection")
	ErrItemNotInCart      = errors.New("item not in cart")
	ErrShippingRequired   = errors.New("shipping address has not been collected")
	ErrAlreadyCheckedOut  = errors.New("order has already been placed")
	ErrUnclassifiedAnswer = errors.New("could not tell which selection mode was meant")
	ErrItemNotFound       = errors.New("item not found in catalog")
	ErrAmbiguousItem      = errors.New("item name matches more than one catalog entry")
	ErrNoDevice           = errors.New("line has no device to protect")
)

// ValidationError describes a rejected argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
