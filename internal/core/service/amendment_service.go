package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

// ServerDevice is the clock entry ticked by server-side decisions so that
// terminals holding older state become concurrent and must re-fetch.
const ServerDevice = "server"

// AmendmentResponse is the kitchen's decision on a pending amendment.
type AmendmentResponse struct {
	Approve bool
	// UpdatedMetadataJSON is the full proposed item list. When empty the
	// pending ops stored on the order are applied instead.
	UpdatedMetadataJSON string
	UpdatedTotalAmount  *decimal.Decimal
	Actor               string
}

type AmendmentService struct {
	orders  port.OrderRepository
	locker  port.OrderLocker
	events  EventSink
	metrics *Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func NewAmendmentService(orders port.OrderRepository, locker port.OrderLocker, events EventSink, metrics *Metrics, logger *slog.Logger, cfg Config) *AmendmentService {
	return &AmendmentService{
		orders:  orders,
		locker:  locker,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "amendments"),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Respond applies an approve or decline to the order's pending amendment.
func (s *AmendmentService) Respond(ctx context.Context, tenantID, orderID string, resp AmendmentResponse) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, lockKey(tenantID, orderID))
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	order, err := s.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if !order.CanAmend || domain.IsTerminal(order.Status) {
		return ErrAmendmentLocked
	}

	now := s.now()
	var (
		change     port.OrderChange
		transition domain.Transition
		decision   string
	)
	if resp.Approve {
		change, err = s.approve(*order, resp, now)
		if err != nil {
			return err
		}
		transition = newTransition(domain.TransitionAmendmentApproved, change.Order)
		decision = "approved"
	} else {
		change = s.decline(*order, resp, now)
		transition = newTransition(domain.TransitionAmendmentDeclined, change.Order)
		transition.Round = order.AmendmentCount + 1
		decision = "declined"
	}

	version, err := s.orders.SaveOrder(ctx, change)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	s.metrics.observeAmendment(decision)
	s.metrics.observeStock(change.Stock)

	transition.Revision = version
	s.events.Enqueue([]domain.Transition{transition}, domain.RefreshSignal{TenantID: tenantID, OrderID: orderID, At: now})

	s.logger.Info("amendment response applied",
		"tenant_id", tenantID,
		"order_id", orderID,
		"decision", decision,
		"amendment_count", change.Order.AmendmentCount,
		"status", change.Order.Status)
	return nil
}

// decline drops the proposal. Items, amendment count and stock are untouched.
func (s *AmendmentService) decline(order domain.Order, resp AmendmentResponse, now time.Time) port.OrderChange {
	next := order.Clone()
	next.PendingAmendments = nil
	next.Clock = next.Clock.Tick(ServerDevice)
	next.UpdatedAt = now
	next.StatusHistory = next.StatusHistory.Append(domain.HistoryEntry{
		Status:           domain.OrderStatusAmendmentDeclined,
		Timestamp:        now,
		Actor:            resp.Actor,
		AmendmentVersion: order.AmendmentCount + 1,
	})
	return port.OrderChange{Order: next}
}

func (s *AmendmentService) approve(order domain.Order, resp AmendmentResponse, now time.Time) (port.OrderChange, error) {
	proposal, err := s.proposal(order, resp)
	if err != nil {
		return port.OrderChange{}, err
	}

	round := order.AmendmentCount + 1
	rec := domain.ReconcileAmendment(order.Items, proposal, round, now)

	next := order.Clone()
	next.Items = rec.Items.Persistable()
	next.AmendmentCount = round
	next.Amended = true
	next.Status = domain.DecorateStatus(domain.OrderStatusPreparing, round)
	next.LabelAmended()
	if resp.UpdatedTotalAmount != nil {
		next.TotalAmount = *resp.UpdatedTotalAmount
		next.RecomputeFinalTotal()
	}
	next.PendingAmendments = nil
	next.Clock = next.Clock.Tick(ServerDevice)
	next.UpdatedAt = now
	next.StatusHistory = next.StatusHistory.Append(domain.HistoryEntry{
		Status:           next.Status,
		Timestamp:        now,
		Actor:            resp.Actor,
		AmendmentVersion: round,
	})

	s.logger.Debug("amendment reconciled",
		"order_id", order.ID,
		"round", round,
		"added", rec.Added,
		"modified", rec.Modified,
		"removed", rec.Removed)

	// A cancelled order revived by approval takes its stock back.
	return port.OrderChange{Order: next, Stock: domain.QuantityDeltas(heldStock(order), heldStock(next))}, nil
}

func (s *AmendmentService) proposal(order domain.Order, resp AmendmentResponse) (domain.ItemList, error) {
	if strings.TrimSpace(resp.UpdatedMetadataJSON) != "" {
		items, err := domain.DecodeItems(resp.UpdatedMetadataJSON)
		if err != nil {
			return nil, errors.Join(ErrMalformedProposal, err)
		}
		return items, nil
	}
	if len(order.PendingAmendments) == 0 {
		return nil, ErrEmptyProposal
	}
	return domain.ApplyAmendmentOps(order.Items, order.PendingAmendments), nil
}
