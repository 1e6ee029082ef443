package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/adapter/memory"
	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

const tenant = "tenant-1"

// Mock EventSink
type recordingSink struct {
	mu          sync.Mutex
	transitions []domain.Transition
	refreshes   []domain.RefreshSignal
}

func (r *recordingSink) Enqueue(transitions []domain.Transition, refresh domain.RefreshSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transitions...)
	r.refreshes = append(r.refreshes, refresh)
}

func (r *recordingSink) kinds() []domain.TransitionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransitionKind
	for _, t := range r.transitions {
		out = append(out, t.Kind)
	}
	return out
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = nil
	r.refreshes = nil
}

// flakyStore fails writes for one order id.
type flakyStore struct {
	*memory.OrderStore
	failID string
}

func (f *flakyStore) SaveOrder(ctx context.Context, change port.OrderChange) (int64, error) {
	if change.Order.ID == f.failID {
		return 0, errors.New("connection reset by peer")
	}
	return f.OrderStore.SaveOrder(ctx, change)
}

type fixture struct {
	store   *memory.OrderStore
	sink    *recordingSink
	metrics *Metrics
	sync    *SyncService
	amend   *AmendmentService
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(s *memory.OrderStore) port.OrderRepository { return s })
}

// newFixtureWith lets a test wrap the store the services write through.
func newFixtureWith(t *testing.T, wrap func(*memory.OrderStore) port.OrderRepository) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.NewOrderStore(),
		sink:    &recordingSink{},
		metrics: NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
	}
	repo := wrap(f.store)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := memory.NewLocker()

	f.sync = NewSyncService(repo, locker, f.sink, f.metrics, logger, Config{})
	f.amend = NewAmendmentService(repo, locker, f.sink, f.metrics, logger, Config{})
	clock := func() time.Time { return f.now }
	f.sync.now = clock
	f.amend.now = clock

	f.store.SetStock(tenant, "burger", 10)
	f.store.SetStock(tenant, "pizza", 5)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) syncOne(t *testing.T, snap domain.OrderSnapshot) SyncResult {
	t.Helper()
	results := f.sync.SyncOrders(context.Background(), tenant, []domain.OrderSnapshot{snap})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

func (f *fixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), tenant, id)
	if err != nil || o == nil {
		t.Fatalf("order %s not stored: %v", id, err)
	}
	return *o
}

func burger(qty int) domain.OrderItem {
	return domain.OrderItem{
		ProductID:  "burger",
		Name:       "Burger",
		Quantity:   qty,
		UnitPrice:  decimal.NewFromInt(8),
		ItemStatus: domain.ItemStatusActive,
	}
}

func pizza(qty int) domain.OrderItem {
	return domain.OrderItem{
		ProductID:  "pizza",
		Name:       "Pizza",
		Quantity:   qty,
		UnitPrice:  decimal.NewFromInt(10),
		ItemStatus: domain.ItemStatusActive,
	}
}

// snapshot is order id as seen by deviceA with the given clock.
func snapshot(id string, clock map[string]int64) domain.OrderSnapshot {
	return domain.OrderSnapshot{Order: domain.Order{
		ID:           id,
		DeviceID:     "deviceA",
		StaffID:      "staff-1",
		CustomerName: "Table 4",
		TableIDs:     []string{"T4"},
		GuestCount:   2,
		Status:       domain.OrderStatusPending,
		TotalAmount:  decimal.NewFromInt(16),
		FinalTotal:   decimal.NewFromInt(16),
		Discount:     domain.Discount{Type: domain.DiscountNone},
		Items:        domain.ItemList{burger(2)},
		Clock:        domain.NewVectorClock(clock),
		CanAmend:     true,
	}}
}
