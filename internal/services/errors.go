package services

import (
	"errors"
	"fmt"

	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderAccessDenied indicates the caller may not act on the order.
	ErrOrderAccessDenied = errors.New("order: access denied")
	// ErrOrderInvalidState indicates a missing prerequisite, such as confirming without an intent.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderInvalidTransition indicates a status change the order lifecycle does not allow.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the store is not accepting orders.
	ErrOrderUnavailable = errors.New("order: store not accepting orders")
	// ErrOrderPaymentGateway wraps payment processor failures.
	ErrOrderPaymentGateway = errors.New("order: payment gateway failure")
	// ErrOrderStorage wraps persistence failures.
	ErrOrderStorage = errors.New("order: storage failure")

	// ErrSettingsInvalidInput signals an invalid settings update.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsStorage wraps settings persistence failures.
	ErrSettingsStorage = errors.New("settings: storage failure")
)

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case errors.Is(err, repositories.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", ErrOrderStorage, err)
}

func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, payments.ErrGateway) {
		return fmt.Errorf("%w: %w", ErrOrderPaymentGateway, err)
	}
	return fmt.Errorf("%w: %w", ErrOrderPaymentGateway, &payments.GatewayError{Op: "unknown", Retryable: true, Err: err})
}

// IsStorageUnavailable reports storage failures that may succeed on retry.
func IsStorageUnavailable(err error) bool {
	return repositories.IsUnavailable(err)
}
