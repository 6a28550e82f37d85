package cocreate

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/roseglass/pkg/store"
)

// ErrInvalidPayment is returned for payments missing a session, user or
// positive credit amount.
var ErrInvalidPayment = errors.New("cocreate: invalid payment")

// InsufficientCreditsError is a 402: the balance cannot cover Required.
type InsufficientCreditsError struct {
	Operation string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits. %s costs $%s, you have $%s",
		e.Operation, e.Required.StringFixed(4), e.Available.StringFixed(4))
}

func (e *InsufficientCreditsError) Unwrap() error { return store.ErrInsufficientCredits }

// GenerationError wraps a failed model call.
type GenerationError struct {
	Operation string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Operation, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
