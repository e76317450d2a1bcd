package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAutomationInvalidEvent indicates a missing or unsupported event name.
	ErrAutomationInvalidEvent = errors.New("automation: invalid event")
	// ErrAutomationInvalidPayload indicates the webhook body is not a JSON object.
	ErrAutomationInvalidPayload = errors.New("automation: invalid payload")
	// ErrAutomationStoreUnavailable indicates the backing store could not be reached.
	ErrAutomationStoreUnavailable = errors.New("automation: store unavailable")
	// ErrPromoCodeInvalidInput signals a missing code or user id.
	ErrPromoCodeInvalidInput = errors.New("promo code: invalid input")
	// ErrPromoCodeNotFound indicates no code exists for the lookup.
	ErrPromoCodeNotFound = errors.New("promo code: not found")
	// ErrPromoCodeUnavailable indicates the promo code store could not be reached.
	ErrPromoCodeUnavailable = errors.New("promo code: unavailable")
)

// AutomationValidationError describes why an event was rejected.
type AutomationValidationError struct {
	Reason      string
	ValidEvents []string
}

func (e *AutomationValidationError) Error() string {
	if e == nil {
		return ErrAutomationInvalidEvent.Error()
	}
	if len(e.ValidEvents) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s. Valid events: %s", e.Reason, strings.Join(e.ValidEvents, ", "))
}

func (e *AutomationValidationError) Unwrap() error { return ErrAutomationInvalidEvent }
