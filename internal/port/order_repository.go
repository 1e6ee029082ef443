package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/core/domain"
)

// ErrVersionConflict is returned when the stored order changed between read
// and write. Callers retry the whole read-modify-write.
var ErrVersionConflict = errors.New("order version conflict")

// CustomerVisit bumps a customer's aggregate spend and visit count.
type CustomerVisit struct {
	CustomerID string
	Spend      decimal.Decimal
}

// OrderChange is everything one merge or reconciliation writes. It is
// applied atomically: either all of it lands or none of it does.
type OrderChange struct {
	Order  domain.Order
	Create bool

	Stock         []domain.StockDelta
	OccupyTables  []string
	ReleaseTables []string
	Visit         *CustomerVisit
}

type OrderRepository interface {
	// GetOrder returns nil, nil when the order does not exist for the tenant
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error)

	// ListOrders returns the most recently updated orders first
	ListOrders(ctx context.Context, tenantID string, limit int) ([]domain.Order, error)

	// SaveOrder applies the change with an optimistic check on Order.Version
	// and returns the committed version
	SaveOrder(ctx context.Context, change OrderChange) (int64, error)

	// DeleteOrder hard-deletes the order, returns false if it did not exist
	DeleteOrder(ctx context.Context, tenantID, orderID string) (bool, error)
}

type StockReader interface {
	// GetStock returns nil, nil for untracked products
	GetStock(ctx context.Context, tenantID, productID string) (*domain.StockLevel, error)
}
