package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrAmendmentLocked   = errors.New("order can no longer be amended")
	ErrEmptyProposal     = errors.New("no amendment to approve")
	ErrMalformedProposal = errors.New("malformed amendment proposal")
)

type SyncStatus string

const (
	SyncStatusSynchronized SyncStatus = "Synchronized"
	SyncStatusUpdated      SyncStatus = "Updated"
	SyncStatusConflict     SyncStatus = "Conflict - Server Wins"
	// SyncStatusFailed marks a retryable per-order failure.
	SyncStatusFailed SyncStatus = "Failed"
)

type SyncResult struct {
	OrderID string
	Status  SyncStatus
	Error   string
}

type Config struct {
	StoreTimeout     time.Duration
	DefaultListLimit int
	MaxListLimit     int
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.DefaultListLimit <= 0 {
		c.DefaultListLimit = 50
	}
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = 500
	}
	return c
}

// SyncService merges offline order snapshots into the authoritative store.
type SyncService struct {
	orders  port.OrderRepository
	locker  port.OrderLocker
	events  EventSink
	metrics *Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func NewSyncService(orders port.OrderRepository, locker port.OrderLocker, events EventSink, metrics *Metrics, logger *slog.Logger, cfg Config) *SyncService {
	return &SyncService{
		orders:  orders,
		locker:  locker,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "sync"),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

func lockKey(tenantID, orderID string) string {
	return fmt.Sprintf("order:%s:%s", tenantID, orderID)
}

// SyncOrders processes the batch in order. Each order commits on its own, so
// a failure leaves earlier orders in place and is reported only for that
// order.
func (s *SyncService) SyncOrders(ctx context.Context, tenantID string, batch []domain.OrderSnapshot) []SyncResult {
	results := make([]SyncResult, 0, len(batch))
	for _, snap := range batch {
		started := s.now()
		res := s.syncOne(ctx, tenantID, snap)
		s.metrics.observeSync(res.Status, started)
		results = append(results, res)
	}
	return results
}

func (s *SyncService) syncOne(ctx context.Context, tenantID string, snap domain.OrderSnapshot) SyncResult {
	in := snap.Order
	res := SyncResult{OrderID: in.ID}
	log := s.logger.With("tenant_id", tenantID, "order_id", in.ID, "device_id", in.DeviceID)

	fail := func(reason string, err error) SyncResult {
		log.Warn("order sync failed", "reason", reason, "error", err)
		res.Status = SyncStatusFailed
		res.Error = reason
		return res
	}

	if in.ID == "" {
		return fail("missing order id", nil)
	}
	if snap.Malformed != nil {
		return fail("malformed item list", snap.Malformed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, lockKey(tenantID, in.ID))
	if err != nil {
		return fail("order is busy, retry", err)
	}
	defer unlock()

	existing, err := s.orders.GetOrder(ctx, tenantID, in.ID)
	if err != nil {
		return fail("store unavailable, retry", err)
	}

	now := s.now()
	var p plan
	if existing == nil {
		p = planCreate(tenantID, in, now)
		if !in.Clock.Valid() {
			log.Warn("unparseable logical clock on new order, starting from empty clock")
		}
	} else {
		ordering := in.Clock.Compare(existing.Clock)
		if ordering != domain.OrderingAfter {
			if ordering == domain.OrderingConcurrent {
				s.metrics.observeConcurrent()
			}
			log.Info("sync discarded, server wins",
				"ordering", ordering.String(),
				"local_clock", in.Clock.String(),
				"server_clock", existing.Clock.String())
			res.Status = SyncStatusConflict
			return res
		}
		p = planMerge(*existing, in, now)
		if p.regressedFromPaid {
			log.Warn("ignored status regression on paid order", "incoming_status", in.Status)
		}
	}

	version, err := s.orders.SaveOrder(ctx, p.change)
	if errors.Is(err, port.ErrVersionConflict) {
		return fail("concurrent write, retry", err)
	}
	if err != nil {
		return fail("store unavailable, retry", err)
	}
	s.metrics.observeStock(p.change.Stock)

	for i := range p.transitions {
		p.transitions[i].Revision = version
	}
	s.events.Enqueue(p.transitions, domain.RefreshSignal{TenantID: tenantID, OrderID: in.ID, At: now})

	if p.change.Create {
		res.Status = SyncStatusSynchronized
	} else {
		res.Status = SyncStatusUpdated
	}
	log.Debug("order synced", "status", res.Status, "version", version, "stock_deltas", len(p.change.Stock))
	return res
}

// plan is the full effect of one merge, computed before anything is written.
type plan struct {
	change      port.OrderChange
	transitions []domain.Transition

	regressedFromPaid bool
}

func actorOf(o domain.Order) string {
	if o.StaffID != "" {
		return o.StaffID
	}
	return o.DeviceID
}

// heldStock is what an order currently keeps out of inventory.
func heldStock(o domain.Order) map[string]int {
	if domain.ReleasesStock(o.Status) {
		return map[string]int{}
	}
	return o.Items.ActiveQuantities()
}

func planCreate(tenantID string, in domain.Order, now time.Time) plan {
	order := in.Clone()
	order.TenantID = tenantID
	if !order.Clock.Valid() {
		order.Clock = domain.VectorClock{}
	}
	if order.AmendmentCount < 0 {
		order.AmendmentCount = 0
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	order.Status = domain.DecorateStatus(order.Status, order.AmendmentCount)
	order.Items = in.Items.StampUnversioned(order.AmendmentCount, now).Persistable()
	order.CanAmend = !domain.IsTerminal(order.Status)
	if domain.IsTerminal(order.Status) && order.PaidAt == nil {
		order.PaidAt = &now
	}
	if len(order.StatusHistory) == 0 {
		order.StatusHistory = order.StatusHistory.Append(domain.HistoryEntry{
			Status:           order.Status,
			Timestamp:        now,
			Actor:            actorOf(order),
			AmendmentVersion: order.AmendmentCount,
		})
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 0

	change := port.OrderChange{
		Order:  order,
		Create: true,
		Stock:  domain.QuantityDeltas(nil, heldStock(order)),
	}
	if !domain.ReleasesStock(order.Status) && !domain.IsTerminal(order.Status) {
		change.OccupyTables = order.TableIDs
	}

	transitions := []domain.Transition{newTransition(domain.TransitionOrderCreated, order)}
	if len(order.PendingAmendments) > 0 {
		transitions = append(transitions, newTransition(domain.TransitionAmendmentRequested, order))
	}
	if domain.IsTerminal(order.Status) {
		change.Visit = visitFor(order)
		transitions = append(transitions, newTransition(domain.TransitionOrderPaid, order))
	}

	return plan{change: change, transitions: transitions}
}

// planMerge applies a dominating snapshot on top of the server copy.
func planMerge(server, in domain.Order, now time.Time) plan {
	merged := server.Clone()

	itemsChanged := !server.Items.SameLines(in.Items)
	notesChanged := server.Notes != in.Notes
	staleProposal := in.AmendmentCount < server.AmendmentCount
	proposalChanged := !staleProposal && !domain.SameOps(server.PendingAmendments, in.PendingAmendments)

	amendment := itemsChanged || notesChanged || proposalChanged
	payment := !domain.IsTerminal(server.Status) && domain.IsTerminal(in.Status)

	if in.AmendmentCount > merged.AmendmentCount {
		merged.AmendmentCount = in.AmendmentCount
	}

	// Unchanged lines keep the server's versions and creation times.
	items := server.Items
	if itemsChanged {
		items = in.Items
		if amendment && in.Amended {
			items = domain.DetectCancellations(server.Items, in.Items)
		}
	}
	merged.Items = items.StampUnversioned(merged.AmendmentCount, now).Persistable()

	merged.DeviceID = in.DeviceID
	merged.StaffID = in.StaffID
	merged.CustomerID = in.CustomerID
	merged.CustomerName = in.CustomerName
	merged.TableIDs = append([]string(nil), in.TableIDs...)
	merged.GuestCount = in.GuestCount
	merged.Notes = in.Notes
	merged.TotalAmount = in.TotalAmount
	merged.FinalTotal = in.FinalTotal
	merged.ServiceCharge = in.ServiceCharge
	merged.Discount = in.Discount
	merged.PaymentMethod = in.PaymentMethod
	merged.Amended = in.Amended || server.Amended
	if !staleProposal {
		merged.PendingAmendments = append([]domain.AmendmentOp(nil), in.PendingAmendments...)
	}

	var regressed bool
	switch {
	case domain.IsTerminal(server.Status):
		regressed = !domain.IsTerminal(in.Status)
	case in.Status != "":
		merged.Status = domain.DecorateStatus(in.Status, merged.AmendmentCount)
	default:
		merged.Status = domain.DecorateStatus(server.Status, merged.AmendmentCount)
	}

	statusChanged := merged.Status != server.Status
	if statusChanged {
		merged.StatusHistory = merged.StatusHistory.Append(domain.HistoryEntry{
			Status:           merged.Status,
			Timestamp:        now,
			Actor:            actorOf(in),
			AmendmentVersion: merged.AmendmentCount,
		})
	}

	merged.Clock = server.Clock.Merge(in.Clock)
	merged.UpdatedAt = now

	change := port.OrderChange{
		Order: merged,
		Stock: domain.QuantityDeltas(heldStock(server), heldStock(merged)),
	}

	if domain.IsTerminal(merged.Status) {
		merged.CanAmend = false
	}
	if payment {
		if in.PaidAt != nil {
			paid := *in.PaidAt
			merged.PaidAt = &paid
		} else {
			merged.PaidAt = &now
		}
		change.Visit = visitFor(merged)
		change.ReleaseTables = merged.TableIDs
	} else if domain.ReleasesStock(merged.Status) && !domain.ReleasesStock(server.Status) {
		change.ReleaseTables = merged.TableIDs
	} else if !domain.ReleasesStock(merged.Status) && !domain.IsTerminal(merged.Status) {
		change.OccupyTables = newTables(server.TableIDs, merged.TableIDs)
	}
	change.Order = merged

	var transitions []domain.Transition
	switch {
	case payment:
		// A payment sync reports once; amendment alerts for the same sync are suppressed.
		transitions = append(transitions, newTransition(domain.TransitionOrderPaid, merged))
	case proposalChanged && len(merged.PendingAmendments) > 0:
		transitions = append(transitions, newTransition(domain.TransitionAmendmentRequested, merged))
	case itemsChanged || notesChanged:
		transitions = append(transitions, newTransition(domain.TransitionOrderAmended, merged))
	}
	if statusChanged {
		switch domain.BaseStatus(merged.Status) {
		case domain.OrderStatusReady:
			transitions = append(transitions, newTransition(domain.TransitionOrderReady, merged))
		case domain.OrderStatusCancelled, domain.OrderStatusDeclined:
			transitions = append(transitions, newTransition(domain.TransitionOrderCancelled, merged))
		}
	}

	return plan{change: change, transitions: transitions, regressedFromPaid: regressed}
}

func newTables(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	var added []string
	for _, id := range after {
		if !seen[id] {
			added = append(added, id)
		}
	}
	return added
}

func visitFor(o domain.Order) *port.CustomerVisit {
	if o.CustomerID == "" {
		return nil
	}
	return &port.CustomerVisit{CustomerID: o.CustomerID, Spend: o.FinalTotal}
}

func newTransition(kind domain.TransitionKind, o domain.Order) domain.Transition {
	return domain.Transition{
		Kind:     kind,
		TenantID: o.TenantID,
		OrderID:  o.ID,
		Label:    o.CustomerName,
		Round:    o.AmendmentCount,
	}
}

// ListOrders returns the most recent orders for bootstrap and reconciliation.
func (s *SyncService) ListOrders(ctx context.Context, tenantID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultListLimit
	}
	if limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	orders, err := s.orders.ListOrders(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// DeleteOrder hard-deletes an order and returns its last known state.
func (s *SyncService) DeleteOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, lockKey(tenantID, orderID))
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	existing, err := s.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing == nil {
		return nil, ErrOrderNotFound
	}

	deleted, err := s.orders.DeleteOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("delete order: %w", err)
	}
	if !deleted {
		return nil, ErrOrderNotFound
	}

	s.logger.Info("order deleted", "tenant_id", tenantID, "order_id", orderID, "status", existing.Status)
	s.events.Enqueue(nil, domain.RefreshSignal{TenantID: tenantID, OrderID: orderID, At: s.now()})
	return existing, nil
}
