package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/platform/storage"
)

const receiptContentType = "text/html; charset=utf-8"

// ObjectWriter stores rendered receipts.
type ObjectWriter interface {
	WriteObject(ctx context.Context, object string, data []byte, opts storage.WriteOptions) error
}

// ReceiptArchiverDeps wires a ReceiptArchiver.
type ReceiptArchiverDeps struct {
	Writer   ObjectWriter
	Settings SettingsSource
	Currency string
	Language language.Tag
	Location *time.Location
}

// ReceiptArchiver renders an HTML receipt and writes it under receipts/YYYY/MM/.
type ReceiptArchiver struct {
	writer   ObjectWriter
	settings SettingsSource
	render   *renderer
}

// NewReceiptArchiver constructs a ReceiptArchiver.
func NewReceiptArchiver(deps ReceiptArchiverDeps) (*ReceiptArchiver, error) {
	if deps.Writer == nil {
		return nil, errors.New("notifications: receipt writer is required")
	}
	r, err := newRenderer(deps.Currency, deps.Language, deps.Location)
	if err != nil {
		return nil, err
	}
	return &ReceiptArchiver{writer: deps.Writer, settings: deps.Settings, render: r}, nil
}

// ArchiveReceipt writes the receipt of order. Rewriting an existing receipt replaces it.
func (a *ReceiptArchiver) ArchiveReceipt(ctx context.Context, order domain.Order) error {
	object, err := storage.ReceiptObjectPath(order.OrderNumber, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("notifications: receipt path: %w", err)
	}
	body, err := a.RenderReceipt(ctx, order)
	if err != nil {
		return err
	}
	metadata := map[string]string{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
	}
	if order.PaymentIntentID != "" {
		metadata["paymentIntentId"] = order.PaymentIntentID
	}
	if err := a.writer.WriteObject(ctx, object, body, storage.WriteOptions{
		ContentType:  receiptContentType,
		CacheControl: "private, max-age=0",
		Metadata:     metadata,
	}); err != nil {
		return fmt.Errorf("notifications: archive receipt %s: %w", order.OrderNumber, err)
	}
	return nil
}

// RenderReceipt returns the HTML receipt document for order.
func (a *ReceiptArchiver) RenderReceipt(ctx context.Context, order domain.Order) ([]byte, error) {
	view := a.render.view(order, loadSettings(ctx, a.settings))
	html, err := a.render.renderHTML(tmplReceiptHTML, view)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}
