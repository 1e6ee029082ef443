package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/tablesync?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db, testLogger())
	if err := adapter.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	return adapter, db
}

// newTenant isolates each test's rows.
func newTenant(t *testing.T, db *sql.DB) string {
	tenant := "test-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{"orders", "inventory", "restaurant_tables", "customers"} {
			db.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id = ?`, tenant)
		}
	})
	return tenant
}

func seedStock(t *testing.T, db *sql.DB, tenant, product string, qty int) {
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO inventory (tenant_id, item_id, stock, version) VALUES (?, ?, ?, 0)`,
		tenant, product, qty)
	if err != nil {
		t.Fatalf("seed stock failed: %v", err)
	}
}

func testOrder(tenant, id string) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Order{
		ID:           id,
		TenantID:     tenant,
		DeviceID:     "deviceA",
		StaffID:      "staff-1",
		CustomerID:   "cust-1",
		CustomerName: "Table 4",
		TableIDs:     []string{"T4", "T5"},
		GuestCount:   4,
		Status:       domain.OrderStatusPending,
		TotalAmount:  decimal.RequireFromString("16.50"),
		FinalTotal:   decimal.RequireFromString("16.50"),
		Discount:     domain.Discount{Type: domain.DiscountNone},
		Items: domain.ItemList{domain.OrderItem{
			ProductID:  "burger",
			Quantity:   2,
			UnitPrice:  decimal.RequireFromString("8.25"),
			SpiceLevel: "mild",
			ItemStatus: domain.ItemStatusActive,
			Created:    now,
		}.WithVersion(0)},
		Clock:         domain.NewVectorClock(map[string]int64{"deviceA": 1}),
		StatusHistory: domain.StatusHistory{{Status: domain.OrderStatusPending, Timestamp: now, Actor: "staff-1"}},
		CanAmend:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSaveOrder_CreateAndRead(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	tenant := newTenant(t, db)
	seedStock(t, db, tenant, "burger", 10)
	ctx := context.Background()

	order := testOrder(tenant, "order-1")
	version, err := adapter.SaveOrder(ctx, port.OrderChange{
		Order:        order,
		Create:       true,
		Stock:        []domain.StockDelta{{ProductID: "burger", Consumed: 2}, {ProductID: "untracked", Consumed: 1}},
		OccupyTables: order.TableIDs,
	})
	if err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	got, err := adapter.GetOrder(ctx, tenant, "order-1")
	if err != nil || got == nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Clock.String() != `{"deviceA":1}` {
		t.Errorf("unexpected clock %s", got.Clock)
	}
	if len(got.Items) != 1 || got.Items[0].Version() != 0 || got.Items[0].SpiceLevel != "mild" {
		t.Errorf("unexpected items %+v", got.Items)
	}
	if !got.TotalAmount.Equal(order.TotalAmount) {
		t.Errorf("expected total %s, got %s", order.TotalAmount, got.TotalAmount)
	}
	if len(got.TableIDs) != 2 || len(got.StatusHistory) != 1 || !got.CanAmend {
		t.Errorf("unexpected order %+v", got)
	}

	stock, err := adapter.GetStock(ctx, tenant, "burger")
	if err != nil || stock == nil {
		t.Fatalf("GetStock failed: %v", err)
	}
	if stock.Quantity != 8 {
		t.Errorf("expected stock 8, got %d", stock.Quantity)
	}

	var status string
	db.QueryRowContext(ctx, `SELECT status FROM restaurant_tables WHERE tenant_id = ? AND id = 'T5'`, tenant).Scan(&status)
	if status != string(domain.TableStatusOccupied) {
		t.Errorf("expected table occupied, got %q", status)
	}

	missing, err := adapter.GetOrder(ctx, tenant, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing order, got %v, %v", missing, err)
	}
}

func TestSaveOrder_VersionConflictRollsBack(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	tenant := newTenant(t, db)
	seedStock(t, db, tenant, "burger", 10)
	ctx := context.Background()

	order := testOrder(tenant, "order-1")
	if _, err := adapter.SaveOrder(ctx, port.OrderChange{Order: order, Create: true}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err := adapter.SaveOrder(ctx, port.OrderChange{Order: order, Create: true})
	if !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected conflict on duplicate create, got %v", err)
	}

	current, _ := adapter.GetOrder(ctx, tenant, "order-1")
	current.Notes = "first writer"
	version, err := adapter.SaveOrder(ctx, port.OrderChange{Order: *current})
	if err != nil || version != 2 {
		t.Fatalf("update failed: version=%d err=%v", version, err)
	}

	// Second writer read the same version and loses, its stock move with it.
	current.Notes = "second writer"
	_, err = adapter.SaveOrder(ctx, port.OrderChange{
		Order: *current,
		Stock: []domain.StockDelta{{ProductID: "burger", Consumed: 3}},
	})
	if !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := adapter.GetOrder(ctx, tenant, "order-1")
	if got.Notes != "first writer" || got.Version != 2 {
		t.Errorf("expected first writer at version 2, got %q at %d", got.Notes, got.Version)
	}
	stock, _ := adapter.GetStock(ctx, tenant, "burger")
	if stock.Quantity != 10 {
		t.Errorf("expected stock untouched at 10, got %d", stock.Quantity)
	}
}

func TestSaveOrder_PaymentRecordsVisit(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	tenant := newTenant(t, db)
	ctx := context.Background()

	order := testOrder(tenant, "order-1")
	adapter.SaveOrder(ctx, port.OrderChange{Order: order, Create: true, OccupyTables: order.TableIDs})

	current, _ := adapter.GetOrder(ctx, tenant, "order-1")
	paidAt := time.Now().UTC().Truncate(time.Microsecond)
	current.Status = domain.OrderStatusPaid
	current.PaidAt = &paidAt
	current.CanAmend = false

	for i := 0; i < 2; i++ {
		_, err := adapter.SaveOrder(ctx, port.OrderChange{
			Order:         *current,
			ReleaseTables: current.TableIDs,
			Visit:         &port.CustomerVisit{CustomerID: "cust-1", Spend: current.FinalTotal},
		})
		if err != nil {
			t.Fatalf("payment save failed: %v", err)
		}
		current.Version++
	}

	var visits int
	var spend decimal.Decimal
	db.QueryRowContext(ctx, `SELECT visit_count, total_spend FROM customers WHERE tenant_id = ? AND id = 'cust-1'`, tenant).Scan(&visits, &spend)
	if visits != 2 || !spend.Equal(decimal.RequireFromString("33")) {
		t.Errorf("expected 2 visits and 33 spend, got %d and %s", visits, spend)
	}

	got, _ := adapter.GetOrder(ctx, tenant, "order-1")
	if got.PaidAt == nil || !got.PaidAt.Equal(paidAt) || got.CanAmend {
		t.Errorf("unexpected paid order %+v", got)
	}
}

func TestListAndDeleteOrders(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	tenant := newTenant(t, db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, id := range []string{"a", "b", "c"} {
		o := testOrder(tenant, id)
		o.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		if _, err := adapter.SaveOrder(ctx, port.OrderChange{Order: o, Create: true}); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	orders, err := adapter.ListOrders(ctx, tenant, 2)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "c" || orders[1].ID != "b" {
		t.Errorf("unexpected order list %+v", orders)
	}

	deleted, err := adapter.DeleteOrder(ctx, tenant, "c")
	if err != nil || !deleted {
		t.Errorf("expected delete, got %v %v", deleted, err)
	}
	deleted, _ = adapter.DeleteOrder(ctx, tenant, "c")
	if deleted {
		t.Error("second delete should report nothing deleted")
	}
}

func TestGetOrder_CorruptColumns(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	tenant := newTenant(t, db)
	ctx := context.Background()

	adapter.SaveOrder(ctx, port.OrderChange{Order: testOrder(tenant, "order-1"), Create: true})
	db.ExecContext(ctx, `UPDATE orders SET status_history = '[{', pending_amendments = 'x' WHERE tenant_id = ?`, tenant)

	got, err := adapter.GetOrder(ctx, tenant, "order-1")
	if err != nil || got == nil {
		t.Fatalf("corrupt columns must not fail the read: %v", err)
	}
	if len(got.StatusHistory) != 0 || len(got.PendingAmendments) != 0 {
		t.Errorf("expected corrupt columns to read as empty, got %+v", got)
	}
	if len(got.Items) != 1 {
		t.Errorf("items should survive, got %+v", got.Items)
	}
}
