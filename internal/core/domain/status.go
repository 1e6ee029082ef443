package domain

import (
	"fmt"
	"regexp"
)

// OrderStatus is the customer-facing workflow stage. The set is open: clients
// may send values outside the constants below and they are stored as-is.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPreparing OrderStatus = "Preparing"
	OrderStatusReady     OrderStatus = "Ready"
	OrderStatusServed    OrderStatus = "Served"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusDeclined  OrderStatus = "Declined"
	OrderStatusCancelled OrderStatus = "Cancelled"

	// OrderStatusAmendmentDeclined only appears in status history.
	OrderStatusAmendmentDeclined OrderStatus = "AmendmentDeclined"
)

var amendedPrefix = regexp.MustCompile(`^Amended-\d+-`)

// BaseStatus strips an "Amended-N-" round prefix.
func BaseStatus(s OrderStatus) OrderStatus {
	return OrderStatus(amendedPrefix.ReplaceAllString(string(s), ""))
}

// DecorateStatus prefixes s with the amendment round once the order has been
// amended. Paid and Declined are never prefixed.
func DecorateStatus(s OrderStatus, amendmentCount int) OrderStatus {
	base := BaseStatus(s)
	if amendmentCount <= 0 || base == OrderStatusPaid || base == OrderStatusDeclined || base == "" {
		return base
	}
	return OrderStatus(fmt.Sprintf("Amended-%d-%s", amendmentCount, base))
}

// IsTerminal reports whether s is Paid, after which the order is locked.
func IsTerminal(s OrderStatus) bool {
	return BaseStatus(s) == OrderStatusPaid
}

// ReleasesStock reports whether an order in status s holds no stock.
func ReleasesStock(s OrderStatus) bool {
	base := BaseStatus(s)
	return base == OrderStatusCancelled || base == OrderStatusDeclined
}
