package notifications

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/nanacafe/api/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	tmplConfirmationText = "order_confirmation.txt.tmpl"
	tmplConfirmationHTML = "order_confirmation.html.tmpl"
	tmplStatusText       = "status_update.txt.tmpl"
	tmplAdminText        = "admin_notification.txt.tmpl"
	tmplReceiptHTML      = "receipt.html.tmpl"
)

// renderer turns orders into template views and executes the embedded templates.
type renderer struct {
	text     *texttemplate.Template
	html     *htmltemplate.Template
	currency string
	lang     language.Tag
	loc      *time.Location
}

func newRenderer(currencyCode string, lang language.Tag, loc *time.Location) (*renderer, error) {
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notifications: parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notifications: parse html templates: %w", err)
	}
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code == "" {
		code = domain.DefaultCurrency
	}
	if _, err := currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("notifications: currency %q: %w", code, err)
	}
	if lang == language.Und {
		lang = language.English
	}
	if loc == nil {
		loc = time.UTC
	}
	return &renderer{text: text, html: html, currency: code, lang: lang, loc: loc}, nil
}

func (r *renderer) renderText(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.text.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notifications: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *renderer) renderHTML(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.html.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notifications: render %s: %w", name, err)
	}
	return buf.String(), nil
}

type orderView struct {
	CafeName       string
	ContactEmail   string
	ContactPhone   string
	Address        string
	OrderNumber    string
	OrderType      string
	Status         string
	PaymentStatus  string
	PaymentMethod  string
	Customer       string
	CustomerName   string
	Notes          string
	Message        string
	PlacedAt       string
	Items          []itemView
	Subtotal       string
	DeliveryFee    string
	Total          string
	AmountReceived string
	Handoff        *handoffView
}

type itemView struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type handoffView struct {
	Kind          string
	FullName      string
	ContactNumber string
	Address       string
	Date          string
	TimeSlot      string
}

func (r *renderer) view(order domain.Order, settings domain.StoreSettings) orderView {
	money := r.formatter(order.Currency)
	v := orderView{
		CafeName:       settings.CafeName,
		ContactEmail:   settings.ContactEmail,
		ContactPhone:   settings.ContactPhone,
		Address:        settings.Address,
		OrderNumber:    order.OrderNumber,
		OrderType:      r.title(string(order.OrderType)),
		Status:         r.title(string(order.Status)),
		PaymentStatus:  r.title(string(order.PaymentStatus)),
		PaymentMethod:  r.title(string(order.PaymentMethod)),
		Customer:       order.CustomerEmail,
		CustomerName:   "Customer",
		Notes:          order.Notes,
		Subtotal:       money.format(order.Subtotal),
		DeliveryFee:    money.format(order.DeliveryFee),
		Total:          money.format(order.Total),
		AmountReceived: money.format(order.AmountReceived),
	}
	if v.CafeName == "" {
		v.CafeName = domain.DefaultStoreSettings().CafeName
	}
	if v.Customer == "" {
		v.Customer = "Guest"
	}
	if !order.CreatedAt.IsZero() {
		v.PlacedAt = order.CreatedAt.In(r.loc).Format("Jan 2, 2006 3:04 PM")
	}
	for _, item := range order.Items {
		v.Items = append(v.Items, itemView{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: money.format(item.UnitPrice),
			LineTotal: money.format(item.LineTotal),
		})
	}
	switch {
	case order.DeliveryInfo != nil:
		info := order.DeliveryInfo
		v.Handoff = &handoffView{
			Kind:          "Delivery",
			FullName:      info.FullName,
			ContactNumber: info.ContactNumber,
			Address:       info.Address,
			Date:          info.Date,
			TimeSlot:      info.TimeSlot,
		}
	case order.PickupInfo != nil:
		info := order.PickupInfo
		v.Handoff = &handoffView{
			Kind:          "Pickup",
			FullName:      info.FullName,
			ContactNumber: info.ContactNumber,
			Date:          info.Date,
			TimeSlot:      info.TimeSlot,
		}
	}
	if v.Handoff != nil && strings.TrimSpace(v.Handoff.FullName) != "" {
		v.CustomerName = v.Handoff.FullName
	}
	return v
}

// title turns snake_case enum values into display text. Casers are not shared
// between goroutines so one is built per call.
func (r *renderer) title(value string) string {
	if value == "" {
		return ""
	}
	return cases.Title(r.lang).String(strings.ReplaceAll(value, "_", " "))
}

func (r *renderer) formatter(code string) moneyFormatter {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := currency.ParseISO(code); err != nil {
		code = r.currency
	}
	return moneyFormatter{printer: message.NewPrinter(r.lang), symbol: currencySymbol(code)}
}

type moneyFormatter struct {
	printer *message.Printer
	symbol  string
}

// format prints minor units as a grouped two-decimal major amount, e.g. ₱1,230.50.
func (f moneyFormatter) format(amount domain.Money) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	major := float64(amount) / domain.MinorUnitsPerMajor
	return sign + f.symbol + f.printer.Sprint(number.Decimal(major, number.Scale(2)))
}

func currencySymbol(code string) string {
	switch code {
	case "PHP":
		return "₱"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "JPY":
		return "¥"
	default:
		return code + " "
	}
}

func statusMessage(order domain.Order, status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusConfirmed:
		return "Your order has been confirmed and we're preparing it!"
	case domain.OrderStatusPreparing:
		return "Your order is being prepared by our team."
	case domain.OrderStatusReady:
		if order.OrderType == domain.OrderTypePickup {
			return "Your order is ready for pickup!"
		}
		return "Your order is ready and will be delivered soon!"
	case domain.OrderStatusOutForDelivery:
		return "Your order is out for delivery!"
	case domain.OrderStatusCompleted:
		return "Your order has been completed. Thank you!"
	case domain.OrderStatusCancelled:
		return "Your order has been cancelled. If you have any questions, please contact us."
	default:
		return fmt.Sprintf("Your order status has been updated to %s.", status)
	}
}
