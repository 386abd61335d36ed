package payments

import (
	"strings"

	domain "github.com/nanacafe/api/internal/domain"
)

var processorStatuses = map[string]domain.PaymentStatus{
	"succeeded":               domain.PaymentStatusPaid,
	"processing":              domain.PaymentStatusPending,
	"requires_payment_method": domain.PaymentStatusPending,
	"requires_confirmation":   domain.PaymentStatusPending,
	"requires_action":         domain.PaymentStatusPending,
	"requires_capture":        domain.PaymentStatusPending,
	"canceled":                domain.PaymentStatusFailed,
}

// MapProcessorStatus converts a processor intent status into a local payment
// status. Unknown statuses map to failed.
func MapProcessorStatus(status string) domain.PaymentStatus {
	if mapped, ok := processorStatuses[strings.ToLower(strings.TrimSpace(status))]; ok {
		return mapped
	}
	return domain.PaymentStatusFailed
}
