package handler

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/core/service"
)

// OrderSnapshotDTO is the order shape terminals sync. Item list, pending
// amendments, clock and history travel as serialized JSON strings.
type OrderSnapshotDTO struct {
	OrderID               string          `json:"orderId"`
	DeviceID              *string         `json:"deviceId"`
	StaffID               *string         `json:"staffId"`
	CustomerID            string          `json:"customerId,omitempty"`
	CustomerName          string          `json:"customerName"`
	TableID               string          `json:"tableId"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	Status                string          `json:"status"`
	ItemsJSON             string          `json:"itemsJson"`
	PendingAmendmentsJSON string          `json:"pendingAmendmentsJson"`
	Notes                 string          `json:"notes"`
	GuestCount            int             `json:"guestCount"`
	PaymentMethod         string          `json:"paymentMethod"`
	LogicalClock          string          `json:"logicalClock"`
	CreatedAt             time.Time       `json:"createdAt,omitzero"`
	DiscountAmount        decimal.Decimal `json:"discountAmount"`
	DiscountType          string          `json:"discountType"`
	ServiceCharge         decimal.Decimal `json:"serviceCharge"`
	FinalTotal            decimal.Decimal `json:"finalTotal"`
	PaidAt                *time.Time      `json:"paidAt"`
	IsAmended             bool            `json:"isAmended"`
	AmendmentCount        int             `json:"amendmentCount"`
	StatusHistoryJSON     string          `json:"statusHistoryJson"`
	CanAmend              *bool           `json:"canAmend,omitempty"`
}

type SyncResultDTO struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type RespondAmendmentDTO struct {
	Approve             bool             `json:"approve"`
	UpdatedMetadataJSON string           `json:"updatedMetadataJson"`
	UpdatedTotalAmount  *decimal.Decimal `json:"updatedTotalAmount"`
}

type StatusDTO struct {
	Status string `json:"status"`
}

type DeletedOrderDTO struct {
	OrderID        string          `json:"orderId"`
	Status         string          `json:"status"`
	AmendmentCount int             `json:"amendmentCount"`
	Items          domain.ItemList `json:"items"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toSnapshot decodes the serialized payloads of one order. A bad item list
// marks the snapshot malformed; a bad clock makes it invalid so the server
// copy wins; bad pending amendments or history are dropped with a warning.
func toSnapshot(dto OrderSnapshotDTO, logger *slog.Logger) domain.OrderSnapshot {
	log := logger.With("order_id", dto.OrderID)

	order := domain.Order{
		ID:            dto.OrderID,
		DeviceID:      deref(dto.DeviceID),
		StaffID:       deref(dto.StaffID),
		CustomerID:    dto.CustomerID,
		CustomerName:  dto.CustomerName,
		TableIDs:      domain.SplitTables(dto.TableID),
		GuestCount:    dto.GuestCount,
		Notes:         dto.Notes,
		Status:        domain.OrderStatus(dto.Status),
		TotalAmount:   dto.TotalAmount,
		FinalTotal:    dto.FinalTotal,
		ServiceCharge: dto.ServiceCharge,
		Discount: domain.Discount{
			Amount: dto.DiscountAmount,
			Type:   domain.DiscountType(dto.DiscountType),
		},
		PaymentMethod:  dto.PaymentMethod,
		AmendmentCount: dto.AmendmentCount,
		Amended:        dto.IsAmended,
		CanAmend:       dto.CanAmend == nil || *dto.CanAmend,
		PaidAt:         dto.PaidAt,
		CreatedAt:      dto.CreatedAt,
	}
	if order.Discount.Type == "" {
		order.Discount.Type = domain.DiscountNone
	}

	var snap domain.OrderSnapshot
	var err error

	if order.Items, err = domain.DecodeItems(dto.ItemsJSON); err != nil {
		snap.Malformed = err
	}
	if order.PendingAmendments, err = domain.DecodeAmendmentOps(dto.PendingAmendmentsJSON); err != nil {
		log.Warn("malformed pending amendments ignored", "error", err)
	}
	if order.Clock, err = domain.ParseVectorClock(dto.LogicalClock); err != nil {
		log.Warn("malformed logical clock", "error", err)
	}
	if order.StatusHistory, err = domain.DecodeStatusHistory(dto.StatusHistoryJSON); err != nil {
		log.Warn("malformed status history ignored", "error", err)
	}

	snap.Order = order
	return snap
}

func fromOrder(o domain.Order) OrderSnapshotDTO {
	items, _ := domain.EncodeItems(o.Items)
	pending, _ := domain.EncodeAmendmentOps(o.PendingAmendments)
	history, _ := domain.EncodeStatusHistory(o.StatusHistory)
	canAmend := o.CanAmend

	dto := OrderSnapshotDTO{
		OrderID:               o.ID,
		CustomerID:            o.CustomerID,
		CustomerName:          o.CustomerName,
		TableID:               domain.JoinTables(o.TableIDs),
		TotalAmount:           o.TotalAmount,
		Status:                string(o.Status),
		ItemsJSON:             items,
		PendingAmendmentsJSON: pending,
		Notes:                 o.Notes,
		GuestCount:            o.GuestCount,
		PaymentMethod:         o.PaymentMethod,
		LogicalClock:          o.Clock.String(),
		CreatedAt:             o.CreatedAt,
		DiscountAmount:        o.Discount.Amount,
		DiscountType:          string(o.Discount.Type),
		ServiceCharge:         o.ServiceCharge,
		FinalTotal:            o.FinalTotal,
		PaidAt:                o.PaidAt,
		IsAmended:             o.Amended,
		AmendmentCount:        o.AmendmentCount,
		StatusHistoryJSON:     history,
		CanAmend:              &canAmend,
	}
	if o.DeviceID != "" {
		id := o.DeviceID
		dto.DeviceID = &id
	}
	if o.StaffID != "" {
		id := o.StaffID
		dto.StaffID = &id
	}
	return dto
}

func fromResults(results []service.SyncResult) []SyncResultDTO {
	out := make([]SyncResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, SyncResultDTO{OrderID: r.OrderID, Status: string(r.Status), Error: r.Error})
	}
	return out
}

func fromDeleted(o domain.Order) DeletedOrderDTO {
	items := o.Items.Persistable()
	if items == nil {
		items = domain.ItemList{}
	}
	return DeletedOrderDTO{
		OrderID:        o.ID,
		Status:         string(o.Status),
		AmendmentCount: o.AmendmentCount,
		Items:          items,
	}
}
