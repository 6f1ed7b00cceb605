/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is / errors.As and the helpers below.

ERROR CATEGORIES:
  1. Rejections - The workflow refused an operation (locked, future, bad transition)
  2. Input errors - Upstream data failed a guard (negative consumption, bad code)
  3. Store errors - Lookups of missing rows

USAGE:
  if _, err := ctrl.RecordPayment(ctx, id, amount, billing.StatusPaidCash); err != nil {
      if billing.IsRejection(err) {
          // show message, stay usable
      }
  }

SEE ALSO:
  - workflow.go: Produces RejectionError
  - engine.go: Produces InputError
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodLocked is returned for any mutation of a locked period.
	ErrPeriodLocked = errors.New("period is locked")

	// ErrFuturePeriod is returned when acting on a period after the current month.
	ErrFuturePeriod = errors.New("period is in the future")

	// ErrInvalidPeriod is returned for malformed "YYYY-MM" strings.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidTransition is returned when a charge is not in a state the
	// requested payment action accepts.
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrInvalidPaymentMethod is returned when RecordPayment gets a non-paid status.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrUnlockNotConfirmed is returned when UnlockPeriod is called without confirmation.
	ErrUnlockNotConfirmed = errors.New("unlock requires explicit confirmation")

	// ErrNegativeAmount is returned for payments below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrNegativeConsumption is returned when the current meter index is below the previous one.
	ErrNegativeConsumption = errors.New("negative water consumption")

	// ErrInvalidUnit is returned for malformed unit records.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrInvalidTariff is returned when tariff tables break their invariants.
	ErrInvalidTariff = errors.New("invalid tariff table")

	// ErrChargeNotFound is returned when a referenced charge doesn't exist.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrUnitNotFound is returned when a referenced unit doesn't exist.
	ErrUnitNotFound = errors.New("unit not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RejectionError reports a workflow operation that refused to proceed.
// It is recoverable: nothing was written.
type RejectionError struct {
	Op     string
	Period Period
	Charge ChargeID
	Reason error
}

func (e *RejectionError) Error() string {
	if e.Charge != "" {
		return fmt.Sprintf("%s rejected for charge %s (%s): %v", e.Op, e.Charge, e.Period, e.Reason)
	}
	return fmt.Sprintf("%s rejected for period %s: %v", e.Op, e.Period, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Reason }

func reject(op string, period Period, charge ChargeID, reason error) error {
	return &RejectionError{Op: op, Period: period, Charge: charge, Reason: reason}
}

// InputError reports engine input that failed a guard.
type InputError struct {
	UnitID UnitID
	Field  string
	Reason error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input for unit %s (%s): %v", e.UnitID, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Reason }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection returns true if the workflow refused the operation.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidTariff) ||
		errors.Is(err, ErrInvalidUnit)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChargeNotFound) || errors.Is(err, ErrUnitNotFound)
}
