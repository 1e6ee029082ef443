package domain

import "time"

// StockLevel is a product's tracked stock for one tenant.
type StockLevel struct {
	TenantID  string
	ProductID string
	Quantity  int
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}
