package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/nanacafe/api/internal/domain"
)

// SettingsSource supplies the store settings used for branding and contact details.
type SettingsSource interface {
	GetSettings(ctx context.Context) (domain.StoreSettings, error)
}

// EmailNotifierDeps wires an EmailNotifier.
type EmailNotifierDeps struct {
	Mailer     Mailer
	Settings   SettingsSource
	AdminEmail string
	Currency   string
	Language   language.Tag
	Location   *time.Location
}

// EmailNotifier renders order emails and sends them through a Mailer.
// Orders without a customer email are skipped silently.
type EmailNotifier struct {
	mailer     Mailer
	settings   SettingsSource
	adminEmail string
	render     *renderer
}

// NewEmailNotifier constructs an EmailNotifier.
func NewEmailNotifier(deps EmailNotifierDeps) (*EmailNotifier, error) {
	if deps.Mailer == nil {
		return nil, errors.New("notifications: mailer is required")
	}
	r, err := newRenderer(deps.Currency, deps.Language, deps.Location)
	if err != nil {
		return nil, err
	}
	return &EmailNotifier{
		mailer:     deps.Mailer,
		settings:   deps.Settings,
		adminEmail: strings.TrimSpace(deps.AdminEmail),
		render:     r,
	}, nil
}

// SendOrderConfirmation emails the order summary to the customer.
func (n *EmailNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	if order.CustomerEmail == "" {
		return nil
	}
	settings := loadSettings(ctx, n.settings)
	view := n.render.view(order, settings)

	text, err := n.render.renderText(tmplConfirmationText, view)
	if err != nil {
		return err
	}
	html, err := n.render.renderHTML(tmplConfirmationHTML, view)
	if err != nil {
		return err
	}
	return n.send(ctx, Message{
		To:      []string{order.CustomerEmail},
		Subject: fmt.Sprintf("Order Confirmation - %s #%s", view.CafeName, order.OrderNumber),
		Text:    text,
		HTML:    html,
	})
}

// SendStatusUpdate tells the customer the order moved to status.
func (n *EmailNotifier) SendStatusUpdate(ctx context.Context, order domain.Order, status domain.OrderStatus) error {
	if order.CustomerEmail == "" {
		return nil
	}
	settings := loadSettings(ctx, n.settings)
	view := n.render.view(order, settings)
	view.Message = statusMessage(order, status)

	text, err := n.render.renderText(tmplStatusText, view)
	if err != nil {
		return err
	}
	return n.send(ctx, Message{
		To:      []string{order.CustomerEmail},
		Subject: fmt.Sprintf("Order Update - %s #%s", view.CafeName, order.OrderNumber),
		Text:    text,
	})
}

// SendAdminNotification alerts the store about a new order. The configured admin
// address wins over the contact email from settings.
func (n *EmailNotifier) SendAdminNotification(ctx context.Context, order domain.Order) error {
	settings := loadSettings(ctx, n.settings)
	to := n.adminEmail
	if to == "" {
		to = strings.TrimSpace(settings.ContactEmail)
	}
	if to == "" {
		return nil
	}
	view := n.render.view(order, settings)

	text, err := n.render.renderText(tmplAdminText, view)
	if err != nil {
		return err
	}
	return n.send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("New Order Received - #%s", order.OrderNumber),
		Text:    text,
	})
}

func (n *EmailNotifier) send(ctx context.Context, msg Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notifications: send %q: %w", msg.Subject, err)
	}
	return nil
}

// loadSettings returns defaults when settings cannot be read.
func loadSettings(ctx context.Context, source SettingsSource) domain.StoreSettings {
	if source == nil {
		return domain.DefaultStoreSettings()
	}
	settings, err := source.GetSettings(ctx)
	if err != nil {
		return domain.DefaultStoreSettings()
	}
	return settings
}
