package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nanacafe/api/internal/domain"
	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
	"github.com/nanacafe/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ProductID           string `firestore:"productId"`
	ProductName         string `firestore:"productName"`
	Quantity            int    `firestore:"quantity"`
	UnitPrice           int64  `firestore:"unitPrice"`
	LineTotal           int64  `firestore:"lineTotal"`
	SpecialInstructions string `firestore:"specialInstructions,omitempty"`
}

type handoffDocument struct {
	FullName            string `firestore:"fullName"`
	ContactNumber       string `firestore:"contactNumber"`
	Address             string `firestore:"address,omitempty"`
	Date                string `firestore:"date"`
	TimeSlot            string `firestore:"timeSlot"`
	SpecialInstructions string `firestore:"specialInstructions,omitempty"`
}

type orderDocument struct {
	OrderNumber      string              `firestore:"orderNumber"`
	CustomerID       string              `firestore:"customerId"`
	CustomerEmail    string              `firestore:"customerEmail,omitempty"`
	OrderType        string              `firestore:"orderType"`
	Items            []orderItemDocument `firestore:"items"`
	Subtotal         int64               `firestore:"subtotal"`
	DeliveryFee      int64               `firestore:"deliveryFee"`
	Total            int64               `firestore:"total"`
	Currency         string              `firestore:"currency"`
	Status           string              `firestore:"status"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	PaymentMethod    string              `firestore:"paymentMethod,omitempty"`
	PaymentIntentID  string              `firestore:"paymentIntentId,omitempty"`
	HasPaymentIntent bool                `firestore:"hasPaymentIntent"`
	AmountReceived   int64               `firestore:"amountReceived"`
	RefundedAmount   int64               `firestore:"refundedAmount"`
	Delivery         *handoffDocument    `firestore:"deliveryInfo,omitempty"`
	Pickup           *handoffDocument    `firestore:"pickupInfo,omitempty"`
	Notes            string              `firestore:"notes,omitempty"`
	Version          int64               `firestore:"version"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        *time.Time          `firestore:"updatedAt,omitempty"`
	CompletedAt      *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt      *time.Time          `firestore:"cancelledAt,omitempty"`
}

// OrderRepository implements repositories.OrderRepository on the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Create(ctx, id, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (r *OrderRepository) Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		current := decodeOrder(doc.ID, doc.Data)
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != current.Version {
			return fmt.Errorf("%w: order %s expected version %d, stored %d",
				pfirestore.ErrVersionMismatch, orderID, *patch.ExpectedVersion, current.Version)
		}
		updated = patch.Apply(current)
		return tx.Set(ref, encodeOrder(updated))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	skip := max(filter.Skip, 0)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyOrderFilter(q, filter).
			OrderBy("createdAt", firestore.Desc).
			Offset(skip).
			Limit(limit + 1)
	})
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}

	page := domain.OffsetPage[domain.Order]{Skip: skip, Limit: limit}
	if len(docs) > limit {
		page.HasMore = true
		docs = docs[:limit]
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func (r *OrderRepository) Count(ctx context.Context, filter repositories.OrderListFilter) (int64, error) {
	return r.orders.Count(ctx, func(q firestore.Query) firestore.Query {
		return applyOrderFilter(q, filter)
	})
}

func applyOrderFilter(q firestore.Query, filter repositories.OrderListFilter) firestore.Query {
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		q = q.Where("customerId", "==", customer)
	}
	if values := stringValues(filter.Status); len(values) == 1 {
		q = q.Where("status", "==", values[0])
	} else if len(values) > 1 {
		q = q.Where("status", "in", values)
	}
	if values := stringValues(filter.PaymentStatus); len(values) == 1 {
		q = q.Where("paymentStatus", "==", values[0])
	} else if len(values) > 1 {
		q = q.Where("paymentStatus", "in", values)
	}
	if filter.OrderType != "" {
		q = q.Where("orderType", "==", string(filter.OrderType))
	}
	if filter.RequireIntent {
		q = q.Where("hasPaymentIntent", "==", true)
	}
	return q
}

func stringValues[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		CustomerID:       order.CustomerID,
		CustomerEmail:    order.CustomerEmail,
		OrderType:        string(order.OrderType),
		Items:            make([]orderItemDocument, 0, len(order.Items)),
		Subtotal:         int64(order.Subtotal),
		DeliveryFee:      int64(order.DeliveryFee),
		Total:            int64(order.Total),
		Currency:         order.Currency,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentIntentID:  order.PaymentIntentID,
		HasPaymentIntent: order.PaymentIntentID != "",
		AmountReceived:   int64(order.AmountReceived),
		RefundedAmount:   int64(order.RefundedAmount),
		Notes:            order.Notes,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
		CompletedAt:      order.CompletedAt,
		CancelledAt:      order.CancelledAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			UnitPrice:           int64(item.UnitPrice),
			LineTotal:           int64(item.LineTotal),
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	if info := order.DeliveryInfo; info != nil {
		doc.Delivery = &handoffDocument{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Address:             info.Address,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	if info := order.PickupInfo; info != nil {
		doc.Pickup = &handoffDocument{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		CustomerID:      doc.CustomerID,
		CustomerEmail:   doc.CustomerEmail,
		OrderType:       domain.OrderType(doc.OrderType),
		Items:           make([]domain.OrderItem, 0, len(doc.Items)),
		Subtotal:        domain.Money(doc.Subtotal),
		DeliveryFee:     domain.Money(doc.DeliveryFee),
		Total:           domain.Money(doc.Total),
		Currency:        doc.Currency,
		Status:          domain.OrderStatus(doc.Status),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		PaymentIntentID: doc.PaymentIntentID,
		AmountReceived:  domain.Money(doc.AmountReceived),
		RefundedAmount:  domain.Money(doc.RefundedAmount),
		Notes:           doc.Notes,
		Version:         doc.Version,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       utcPtr(doc.UpdatedAt),
		CompletedAt:     utcPtr(doc.CompletedAt),
		CancelledAt:     utcPtr(doc.CancelledAt),
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			UnitPrice:           domain.Money(item.UnitPrice),
			LineTotal:           domain.Money(item.LineTotal),
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	if info := doc.Delivery; info != nil {
		order.DeliveryInfo = &domain.DeliveryInfo{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Address:             info.Address,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	if info := doc.Pickup; info != nil {
		order.PickupInfo = &domain.PickupInfo{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
