package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountAmount     DiscountType = "amount"
)

// AmendedLabelPrefix marks the customer-facing label of an amended order.
const AmendedLabelPrefix = "[Amended] "

type Discount struct {
	Amount decimal.Decimal
	Type   DiscountType
}

// Apply returns total after the discount, floored at zero.
func (d Discount) Apply(total decimal.Decimal) decimal.Decimal {
	var off decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		off = total.Mul(d.Amount).Div(decimal.NewFromInt(100))
	case DiscountAmount:
		off = d.Amount
	default:
		return total
	}
	if off.GreaterThan(total) {
		return decimal.Zero
	}
	return total.Sub(off)
}

// Order is the aggregate the sync engine merges. It exclusively owns its
// items and status history.
type Order struct {
	ID       string
	TenantID string

	DeviceID   string
	StaffID    string
	CustomerID string

	CustomerName string
	TableIDs     []string
	GuestCount   int
	Notes        string

	Status        OrderStatus
	TotalAmount   decimal.Decimal
	FinalTotal    decimal.Decimal
	ServiceCharge decimal.Decimal
	Discount      Discount
	PaymentMethod string

	Items             ItemList
	PendingAmendments []AmendmentOp
	AmendmentCount    int
	Amended           bool

	Clock         VectorClock
	StatusHistory StatusHistory

	CanAmend  bool
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is the optimistic lock column.
	Version int64
}

// Clone deep-copies the owned collections.
func (o Order) Clone() Order {
	c := o
	c.TableIDs = append([]string(nil), o.TableIDs...)
	c.Items = o.Items.Clone()
	c.PendingAmendments = append([]AmendmentOp(nil), o.PendingAmendments...)
	c.Clock = o.Clock.clone()
	c.Clock.invalid = o.Clock.invalid
	c.StatusHistory = append(StatusHistory(nil), o.StatusHistory...)
	if o.PaidAt != nil {
		paid := *o.PaidAt
		c.PaidAt = &paid
	}
	return c
}

// RecomputeFinalTotal applies the discount and adds the service charge.
func (o *Order) RecomputeFinalTotal() {
	o.FinalTotal = o.Discount.Apply(o.TotalAmount).Add(o.ServiceCharge)
}

// LabelAmended prefixes the customer label once.
func (o *Order) LabelAmended() {
	if strings.HasPrefix(o.CustomerName, AmendedLabelPrefix) {
		return
	}
	o.CustomerName = AmendedLabelPrefix + o.CustomerName
}

// JoinTables renders table ids the way terminals send them.
func JoinTables(ids []string) string {
	return strings.Join(ids, ",")
}

// SplitTables parses a comma-joined table reference.
func SplitTables(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// OrderSnapshot is one inbound order from a terminal sync batch. Malformed
// is set when the item payload could not be decoded; such a snapshot is
// never applied.
type OrderSnapshot struct {
	Order     Order
	Malformed error
}

type TableStatus string

const (
	TableStatusOccupied  TableStatus = "Occupied"
	TableStatusAvailable TableStatus = "Available"
)
