package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// priceScale matches the DECIMAL(19, 2) price columns.
const priceScale = 2

// Order is the aggregate root. ID is zero until the store assigns one.
type Order struct {
	ID     int64
	Number string
	Lines  []OrderLine
}

// OrderLine belongs to exactly one Order. OrderID mirrors the parent's ID
// for storage mapping only.
type OrderLine struct {
	ID       int64
	OrderID  int64
	SKUCode  string
	Quantity int
	Price    decimal.Decimal
}

type LineRequest struct {
	SKUCode  string          `json:"skuCode"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type PlaceOrderRequest struct {
	Lines []LineRequest `json:"orderLineItems"`

	// IdempotencyKey is optional; requests sharing a key place at most one order.
	IdempotencyKey string `json:"-"`
}

type Confirmation struct {
	OrderID     int64
	OrderNumber string
	Message     string
}

// Validate checks the request without touching any collaborator.
func (r PlaceOrderRequest) Validate() error {
	if len(r.Lines) == 0 {
		return &ValidationError{Line: -1, Field: "orderLineItems", Reason: "at least one line is required"}
	}
	for i, l := range r.Lines {
		if strings.TrimSpace(l.SKUCode) == "" {
			return &ValidationError{Line: i, Field: "skuCode", Reason: "is required"}
		}
		if l.Quantity <= 0 {
			return &ValidationError{Line: i, Field: "quantity", Reason: "must be greater than zero"}
		}
		if l.Price.IsNegative() {
			return &ValidationError{Line: i, Field: "price", Reason: "must not be negative"}
		}
		if !l.Price.Equal(l.Price.Round(priceScale)) {
			return &ValidationError{Line: i, Field: "price", Reason: "must have at most 2 decimal places"}
		}
	}
	return nil
}

// NewOrder builds the transient aggregate from a validated request.
func NewOrder(number string, lines []LineRequest) (Order, error) {
	if number == "" {
		return Order{}, &ValidationError{Line: -1, Field: "orderNumber", Reason: "is required"}
	}
	if len(lines) == 0 {
		return Order{}, &ValidationError{Line: -1, Field: "orderLineItems", Reason: "at least one line is required"}
	}

	o := Order{
		Number: number,
		Lines:  make([]OrderLine, 0, len(lines)),
	}
	for _, l := range lines {
		o.Lines = append(o.Lines, OrderLine{
			SKUCode:  strings.TrimSpace(l.SKUCode),
			Quantity: l.Quantity,
			Price:    l.Price,
		})
	}
	return o, nil
}

// SKUSet returns the distinct SKU codes of the order, sorted.
func (o Order) SKUSet() []string {
	seen := make(map[string]struct{}, len(o.Lines))
	skus := make([]string, 0, len(o.Lines))
	for _, l := range o.Lines {
		if _, ok := seen[l.SKUCode]; ok {
			continue
		}
		seen[l.SKUCode] = struct{}{}
		skus = append(skus, l.SKUCode)
	}
	sort.Strings(skus)
	return skus
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// WithID returns a copy carrying the store-assigned identity, with every
// line's back-reference pointing at it.
func (o Order) WithID(id int64) Order {
	out := Order{
		ID:     id,
		Number: o.Number,
		Lines:  make([]OrderLine, len(o.Lines)),
	}
	for i, l := range o.Lines {
		l.OrderID = id
		out.Lines[i] = l
	}
	return out
}
