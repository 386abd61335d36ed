package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const receiptPrefix = "receipts"

var errInvalidKeySegment = errors.New("storage: invalid object key segment")

// ReceiptObjectPath returns receipts/YYYY/MM/<order number>.html, with the
// month taken from placedAt in UTC.
func ReceiptObjectPath(orderNumber string, placedAt time.Time) (string, error) {
	return objectKey(receiptPrefix, orderNumber, "html", placedAt)
}

func objectKey(prefix, name, ext string, at time.Time) (string, error) {
	if at.IsZero() {
		return "", fmt.Errorf("storage: %s key needs a timestamp", prefix)
	}
	name = strings.TrimSpace(name)
	if err := checkSegment(name); err != nil {
		return "", fmt.Errorf("%w %q: %v", errInvalidKeySegment, name, err)
	}
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s.%s", prefix, at.Year(), int(at.Month()), name, ext), nil
}

func checkSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case strings.ContainsAny(s, `/\`):
		return errors.New("contains a path separator")
	case strings.Contains(s, ".."):
		return errors.New("contains a traversal sequence")
	case strings.ContainsFunc(s, func(r rune) bool { return r < 0x20 || r == 0x7f }):
		return errors.New("contains control characters")
	}
	return nil
}
