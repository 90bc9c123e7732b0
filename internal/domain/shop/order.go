package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidAddress    = errors.New("invalid shipping address")
	ErrForbidden         = errors.New("not allowed to access this order")
)

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name}, {"line1", a.Line1}, {"city", a.City}, {"postal_code", a.PostalCode}, {"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

type Order struct {
	ID                uuid.UUID      `json:"id"`
	OwnerID           uuid.UUID      `json:"owner_id"`
	LineItems         []Line         `json:"line_items"`
	TotalQuantity     int            `json:"total_quantity"`
	SubtotalMinor     int64          `json:"subtotal_minor"`
	ShippingMethod    ShippingMethod `json:"shipping_method"`
	ShippingCostMinor int64          `json:"shipping_cost_minor"`
	TotalMinor        int64          `json:"total_minor"`
	Total             string         `json:"total"`
	ShippingAddress   Address        `json:"shipping_address"`
	Status            OrderStatus    `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Order, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus, at time.Time) error
	// ConsumedQuantity sums total_quantity over every order the owner placed.
	ConsumedQuantity(ctx context.Context, ownerID uuid.UUID) (int, error)
	// LockOwner serialises checkouts for one owner within the ambient transaction.
	LockOwner(ctx context.Context, ownerID uuid.UUID) error
}
