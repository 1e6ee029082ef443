package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleKitchen Role = "kitchen"
	RoleManager Role = "manager"
	RoleWaiter  Role = "waiter"
	RoleCashier Role = "cashier"
)

// TransitionKind names an order event that interested roles hear about.
type TransitionKind string

const (
	TransitionOrderCreated       TransitionKind = "order_created"
	TransitionOrderAmended       TransitionKind = "order_amended"
	TransitionAmendmentRequested TransitionKind = "amendment_requested"
	TransitionAmendmentApproved  TransitionKind = "amendment_approved"
	TransitionAmendmentDeclined  TransitionKind = "amendment_declined"
	TransitionOrderReady         TransitionKind = "order_ready"
	TransitionOrderCancelled     TransitionKind = "order_cancelled"
	TransitionOrderPaid          TransitionKind = "order_paid"
)

// transitionRoutes is the single routing table from event to target roles.
var transitionRoutes = map[TransitionKind][]Role{
	TransitionOrderCreated:       {RoleKitchen, RoleManager},
	TransitionOrderAmended:       {RoleKitchen, RoleManager},
	TransitionAmendmentRequested: {RoleKitchen},
	TransitionAmendmentApproved:  {RoleWaiter, RoleManager},
	TransitionAmendmentDeclined:  {RoleWaiter, RoleManager},
	TransitionOrderReady:         {RoleWaiter},
	TransitionOrderCancelled:     {RoleKitchen, RoleManager},
	TransitionOrderPaid:          {RoleManager, RoleCashier},
}

var transitionMessages = map[TransitionKind]string{
	TransitionOrderCreated:       "New order %s",
	TransitionOrderAmended:       "Order %s was amended",
	TransitionAmendmentRequested: "Amendment requested for order %s",
	TransitionAmendmentApproved:  "Amendment approved for order %s",
	TransitionAmendmentDeclined:  "Amendment declined for order %s",
	TransitionOrderReady:         "Order %s is ready",
	TransitionOrderCancelled:     "Order %s was cancelled",
	TransitionOrderPaid:          "Order %s was paid",
}

// RolesFor returns the roles notified for kind.
func RolesFor(kind TransitionKind) []Role {
	return append([]Role(nil), transitionRoutes[kind]...)
}

// Transition is an order event awaiting fan-out.
type Transition struct {
	Kind     TransitionKind
	TenantID string
	OrderID  string
	Label    string
	Round    int
	// Revision is the order version the event was committed at.
	Revision int64
}

// Notification is a role-targeted message. It references its order by id
// only and may outlive it.
type Notification struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	OrderID   string         `json:"orderId"`
	Role      Role           `json:"role"`
	Kind      TransitionKind `json:"kind"`
	Message   string         `json:"message"`
	Round     int            `json:"round"`
	Revision  int64          `json:"revision"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Notifications expands t into one notification per routed role.
func (t Transition) Notifications(now time.Time) []Notification {
	label := t.Label
	if label == "" {
		label = t.OrderID
	}
	format, ok := transitionMessages[t.Kind]
	if !ok {
		format = "Order %s changed"
	}

	roles := transitionRoutes[t.Kind]
	out := make([]Notification, 0, len(roles))
	for _, role := range roles {
		out = append(out, Notification{
			ID:        uuid.NewString(),
			TenantID:  t.TenantID,
			OrderID:   t.OrderID,
			Role:      role,
			Kind:      t.Kind,
			Message:   fmt.Sprintf(format, label),
			Round:     t.Round,
			Revision:  t.Revision,
			CreatedAt: now,
		})
	}
	return out
}

// DedupKey identifies a notification across redeliveries of one commit.
func (n Notification) DedupKey() string {
	return fmt.Sprintf("notify:%s:%s:%d:%s:%s", n.TenantID, n.OrderID, n.Revision, n.Kind, n.Role)
}

// RefreshSignal tells every client of a tenant to re-fetch orders.
type RefreshSignal struct {
	TenantID string    `json:"tenantId"`
	OrderID  string    `json:"orderId"`
	At       time.Time `json:"at"`
}
