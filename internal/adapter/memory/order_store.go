package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

// CustomerStats are the aggregates bumped on payment.
type CustomerStats struct {
	Visits int
	Spend  decimal.Decimal
}

// OrderStore keeps orders, stock, tables and customer aggregates in process.
// Every SaveOrder is applied under one mutex, so a change lands whole.
type OrderStore struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	stock     map[string]int
	tables    map[string]domain.TableStatus
	customers map[string]CustomerStats
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:    make(map[string]domain.Order),
		stock:     make(map[string]int),
		tables:    make(map[string]domain.TableStatus),
		customers: make(map[string]CustomerStats),
	}
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

func (s *OrderStore) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[key(tenantID, orderID)]
	if !ok {
		return nil, nil
	}
	c := o.Clone()
	return &c, nil
}

func (s *OrderStore) ListOrders(ctx context.Context, tenantID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.TenantID == tenantID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) SaveOrder(ctx context.Context, change port.OrderChange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := change.Order
	k := key(o.TenantID, o.ID)
	current, exists := s.orders[k]

	var next int64
	switch {
	case change.Create && exists:
		return 0, port.ErrVersionConflict
	case change.Create:
		next = 1
	case !exists || current.Version != o.Version:
		return 0, port.ErrVersionConflict
	default:
		next = current.Version + 1
	}

	stored := o.Clone()
	stored.Version = next
	s.orders[k] = stored

	for _, d := range change.Stock {
		s.stock[key(o.TenantID, d.ProductID)] -= d.Consumed
	}
	for _, table := range change.OccupyTables {
		s.tables[key(o.TenantID, table)] = domain.TableStatusOccupied
	}
	for _, table := range change.ReleaseTables {
		s.tables[key(o.TenantID, table)] = domain.TableStatusAvailable
	}
	if v := change.Visit; v != nil {
		ck := key(o.TenantID, v.CustomerID)
		stats := s.customers[ck]
		stats.Visits++
		stats.Spend = stats.Spend.Add(v.Spend)
		s.customers[ck] = stats
	}
	return next, nil
}

func (s *OrderStore) DeleteOrder(ctx context.Context, tenantID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, orderID)
	if _, ok := s.orders[k]; !ok {
		return false, nil
	}
	delete(s.orders, k)
	return true, nil
}

func (s *OrderStore) GetStock(ctx context.Context, tenantID, productID string) (*domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qty, ok := s.stock[key(tenantID, productID)]
	if !ok {
		return nil, nil
	}
	return &domain.StockLevel{TenantID: tenantID, ProductID: productID, Quantity: qty}, nil
}

// SetStock seeds a product's stock.
func (s *OrderStore) SetStock(tenantID, productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[key(tenantID, productID)] = quantity
}

// Stock returns the current stock, 0 for unseeded products.
func (s *OrderStore) Stock(tenantID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[key(tenantID, productID)]
}

func (s *OrderStore) TableStatus(tenantID, tableID string) domain.TableStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[key(tenantID, tableID)]
}

func (s *OrderStore) Customer(tenantID, customerID string) CustomerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[key(tenantID, customerID)]
}
