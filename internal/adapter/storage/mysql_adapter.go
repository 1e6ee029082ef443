package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const mysqlDuplicateEntry = 1062

const orderColumns = `tenant_id, id, device_id, staff_id, customer_id, customer_name, table_ids,
	guest_count, notes, status, total_amount, final_total, service_charge, discount_amount,
	discount_type, payment_method, items, pending_amendments, amendment_count, is_amended,
	logical_clock, status_history, can_amend, paid_at, created_at, updated_at, version`

type MySQLAdapter struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMySQLAdapter(db *sql.DB, logger *slog.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, logger: logger.With("component", "mysql")}
}

// EnsureSchema creates missing tables.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE tenant_id = ? AND id = ?`, tenantID, orderID,
	)

	order, err := m.scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, tenantID string, limit int) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE tenant_id = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`, tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := m.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (m *MySQLAdapter) SaveOrder(ctx context.Context, change port.OrderChange) (int64, error) {
	rec, err := encodeOrder(change.Order)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	if change.Create {
		version = 1
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(rec.args(), version)...,
		)
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return 0, port.ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("insert order: %w", err)
		}
	} else {
		o := change.Order
		cols := rec.args()
		updateArgs := append(append([]any{}, cols[2:24]...), cols[25], o.TenantID, o.ID, o.Version)
		result, err := tx.ExecContext(ctx, `
			UPDATE orders SET
				device_id = ?, staff_id = ?, customer_id = ?, customer_name = ?, table_ids = ?,
				guest_count = ?, notes = ?, status = ?, total_amount = ?, final_total = ?,
				service_charge = ?, discount_amount = ?, discount_type = ?, payment_method = ?,
				items = ?, pending_amendments = ?, amendment_count = ?, is_amended = ?,
				logical_clock = ?, status_history = ?, can_amend = ?, paid_at = ?, updated_at = ?,
				version = version + 1
			WHERE tenant_id = ? AND id = ? AND version = ?`,
			updateArgs...,
		)
		if err != nil {
			return 0, fmt.Errorf("update order: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return 0, port.ErrVersionConflict
		}
		version = o.Version + 1
	}

	tenantID := change.Order.TenantID
	if err := m.applyStock(ctx, tx, tenantID, change.Stock); err != nil {
		return 0, err
	}
	if err := setTables(ctx, tx, tenantID, change.OccupyTables, domain.TableStatusOccupied); err != nil {
		return 0, err
	}
	if err := setTables(ctx, tx, tenantID, change.ReleaseTables, domain.TableStatusAvailable); err != nil {
		return 0, err
	}
	if v := change.Visit; v != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO customers (tenant_id, id, visit_count, total_spend, last_visit_at)
			VALUES (?, ?, 1, ?, ?)
			ON DUPLICATE KEY UPDATE
				visit_count = visit_count + 1,
				total_spend = total_spend + VALUES(total_spend),
				last_visit_at = VALUES(last_visit_at)`,
			tenantID, v.CustomerID, v.Spend, change.Order.UpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("record customer visit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return version, nil
}

// applyStock moves stock for tracked products. Products without an inventory
// row are not stock-managed and are skipped.
func (m *MySQLAdapter) applyStock(ctx context.Context, tx *sql.Tx, tenantID string, deltas []domain.StockDelta) error {
	for _, d := range deltas {
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET stock = stock - ?, version = version + 1, updated_at = NOW(6)
			WHERE tenant_id = ? AND item_id = ?`,
			d.Consumed, tenantID, d.ProductID,
		)
		if err != nil {
			return fmt.Errorf("update inventory: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			m.logger.Debug("untracked product, stock not adjusted", "tenant_id", tenantID, "product_id", d.ProductID)
		}
	}
	return nil
}

func setTables(ctx context.Context, tx *sql.Tx, tenantID string, tableIDs []string, status domain.TableStatus) error {
	for _, id := range tableIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO restaurant_tables (tenant_id, id, status, updated_at)
			VALUES (?, ?, ?, NOW(6))
			ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`,
			tenantID, id, status,
		)
		if err != nil {
			return fmt.Errorf("update table %s: %w", id, err)
		}
	}
	return nil
}

func (m *MySQLAdapter) DeleteOrder(ctx context.Context, tenantID, orderID string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM orders WHERE tenant_id = ? AND id = ?`, tenantID, orderID)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) GetStock(ctx context.Context, tenantID, productID string) (*domain.StockLevel, error) {
	var inv domain.StockLevel
	err := m.db.QueryRowContext(ctx, `
		SELECT tenant_id, item_id, stock, version, created_at, updated_at
		FROM inventory WHERE tenant_id = ? AND item_id = ?`, tenantID, productID,
	).Scan(&inv.TenantID, &inv.ProductID, &inv.Quantity, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &inv, nil
}

// orderRecord is an order flattened into column values.
type orderRecord struct {
	order     domain.Order
	items     string
	pending   string
	clock     string
	history   string
	tables    string
	discount  string
	paidAt    sql.NullTime
	updatedAt time.Time
}

func encodeOrder(o domain.Order) (orderRecord, error) {
	items, err := domain.EncodeItems(o.Items)
	if err != nil {
		return orderRecord{}, err
	}
	pending, err := domain.EncodeAmendmentOps(o.PendingAmendments)
	if err != nil {
		return orderRecord{}, err
	}
	history, err := domain.EncodeStatusHistory(o.StatusHistory)
	if err != nil {
		return orderRecord{}, err
	}

	rec := orderRecord{
		order:     o,
		items:     items,
		pending:   pending,
		clock:     o.Clock.String(),
		history:   history,
		tables:    domain.JoinTables(o.TableIDs),
		discount:  string(o.Discount.Type),
		updatedAt: o.UpdatedAt,
	}
	if rec.discount == "" {
		rec.discount = string(domain.DiscountNone)
	}
	if o.PaidAt != nil {
		rec.paidAt = sql.NullTime{Time: *o.PaidAt, Valid: true}
	}
	return rec, nil
}

// args lists values in orderColumns order, without version.
func (r orderRecord) args() []any {
	o := r.order
	return []any{
		o.TenantID, o.ID, o.DeviceID, o.StaffID, o.CustomerID, o.CustomerName, r.tables,
		o.GuestCount, o.Notes, string(o.Status), o.TotalAmount, o.FinalTotal, o.ServiceCharge, o.Discount.Amount,
		r.discount, o.PaymentMethod, r.items, r.pending, o.AmendmentCount, o.Amended,
		r.clock, r.history, o.CanAmend, r.paidAt, o.CreatedAt, r.updatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOrder decodes a row. Corrupt JSON columns are logged and replaced with
// empty values; a corrupt clock becomes invalid so the stored copy wins.
func (m *MySQLAdapter) scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                      domain.Order
		status, discountType                   string
		tables, items, pending, clock, history string
		paidAt                                 sql.NullTime
	)
	err := row.Scan(
		&o.TenantID, &o.ID, &o.DeviceID, &o.StaffID, &o.CustomerID, &o.CustomerName, &tables,
		&o.GuestCount, &o.Notes, &status, &o.TotalAmount, &o.FinalTotal, &o.ServiceCharge, &o.Discount.Amount,
		&discountType, &o.PaymentMethod, &items, &pending, &o.AmendmentCount, &o.Amended,
		&clock, &history, &o.CanAmend, &paidAt, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.Discount.Type = domain.DiscountType(discountType)
	o.TableIDs = domain.SplitTables(tables)
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}

	log := m.logger.With("tenant_id", o.TenantID, "order_id", o.ID)
	if o.Items, err = domain.DecodeItems(items); err != nil {
		log.Error("stored item list is corrupt, treating as empty", "error", err)
		o.Items = domain.ItemList{}
	}
	if o.PendingAmendments, err = domain.DecodeAmendmentOps(pending); err != nil {
		log.Error("stored pending amendments are corrupt, treating as empty", "error", err)
		o.PendingAmendments = nil
	}
	if o.Clock, err = domain.ParseVectorClock(clock); err != nil {
		log.Error("stored logical clock is corrupt", "error", err)
	}
	if o.StatusHistory, err = domain.DecodeStatusHistory(history); err != nil {
		log.Error("stored status history is corrupt, continuing with empty history", "error", err)
	}
	return &o, nil
}
