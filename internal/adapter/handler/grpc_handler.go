package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/tablesync/internal/core/service"
	"github.com/rl1809/tablesync/internal/port"
)

const tenantMetadataKey = "x-tenant-id"

type SyncOrdersRequest struct {
	Orders []OrderSnapshotDTO `json:"orders"`
}

type SyncOrdersResponse struct {
	Results []SyncResultDTO `json:"results"`
}

type ListOrdersRequest struct {
	Limit int `json:"limit"`
}

type ListOrdersResponse struct {
	Orders []OrderSnapshotDTO `json:"orders"`
}

type RespondAmendmentRequest struct {
	OrderID string `json:"orderId"`
	Actor   string `json:"actor"`
	RespondAmendmentDTO
}

type DeleteOrderRequest struct {
	OrderID string `json:"orderId"`
}

// OrderSyncServer is the gRPC surface, mirroring the HTTP routes.
type OrderSyncServer interface {
	SyncOrders(context.Context, *SyncOrdersRequest) (*SyncOrdersResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	RespondAmendment(context.Context, *RespondAmendmentRequest) (*StatusDTO, error)
	DeleteOrder(context.Context, *DeleteOrderRequest) (*DeletedOrderDTO, error)
}

type GRPCHandler struct {
	sync       *service.SyncService
	amendments *service.AmendmentService
	logger     *slog.Logger
}

func NewGRPCHandler(sync *service.SyncService, amendments *service.AmendmentService, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{
		sync:       sync,
		amendments: amendments,
		logger:     logger.With("component", "grpc"),
	}
}

func tenantFrom(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if vals := md.Get(tenantMetadataKey); len(vals) > 0 && vals[0] != "" {
		return vals[0], nil
	}
	return "", status.Error(codes.Unauthenticated, "missing tenant")
}

func (h *GRPCHandler) SyncOrders(ctx context.Context, req *SyncOrdersRequest) (*SyncOrdersResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	results := h.sync.SyncOrders(ctx, tenantID, toSnapshots(req.Orders, h.logger))
	return &SyncOrdersResponse{Results: fromResults(results)}, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid limit")
	}
	orders, err := h.sync.ListOrders(ctx, tenantID, req.Limit)
	if err != nil {
		return nil, h.toStatus("list orders", err)
	}
	out := make([]OrderSnapshotDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromOrder(o))
	}
	return &ListOrdersResponse{Orders: out}, nil
}

func (h *GRPCHandler) RespondAmendment(ctx context.Context, req *RespondAmendmentRequest) (*StatusDTO, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing order id")
	}
	err = h.amendments.Respond(ctx, tenantID, req.OrderID, service.AmendmentResponse{
		Approve:             req.Approve,
		UpdatedMetadataJSON: req.UpdatedMetadataJSON,
		UpdatedTotalAmount:  req.UpdatedTotalAmount,
		Actor:               req.Actor,
	})
	if err != nil {
		return nil, h.toStatus("respond amendment", err)
	}
	return &StatusDTO{Status: string(service.SyncStatusUpdated)}, nil
}

func (h *GRPCHandler) DeleteOrder(ctx context.Context, req *DeleteOrderRequest) (*DeletedOrderDTO, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.sync.DeleteOrder(ctx, tenantID, req.OrderID)
	if err != nil {
		return nil, h.toStatus("delete order", err)
	}
	out := fromDeleted(*order)
	return &out, nil
}

func (h *GRPCHandler) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, "order not found")
	case errors.Is(err, service.ErrAmendmentLocked):
		return status.Error(codes.FailedPrecondition, "order can no longer be amended")
	case errors.Is(err, port.ErrVersionConflict):
		return status.Error(codes.Aborted, "concurrent write, retry")
	case errors.Is(err, service.ErrEmptyProposal), errors.Is(err, service.ErrMalformedProposal):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, port.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.Unavailable, "order is busy, retry")
	}
	h.logger.Error("rpc failed", "op", op, "error", err)
	return status.Error(codes.Internal, "internal error")
}

func RegisterOrderSyncServer(s grpc.ServiceRegistrar, srv OrderSyncServer) {
	s.RegisterService(&OrderSyncServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](call func(OrderSyncServer, context.Context, *Req) (*Resp, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

const (
	serviceName        = "tablesync.v1.OrderSync"
	MethodSyncOrders   = "/" + serviceName + "/SyncOrders"
	MethodListOrders   = "/" + serviceName + "/ListOrders"
	MethodRespondAmend = "/" + serviceName + "/RespondAmendment"
	MethodDeleteOrder  = "/" + serviceName + "/DeleteOrder"
)

var OrderSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SyncOrders", Handler: unaryHandler(OrderSyncServer.SyncOrders, MethodSyncOrders)},
		{MethodName: "ListOrders", Handler: unaryHandler(OrderSyncServer.ListOrders, MethodListOrders)},
		{MethodName: "RespondAmendment", Handler: unaryHandler(OrderSyncServer.RespondAmendment, MethodRespondAmend)},
		{MethodName: "DeleteOrder", Handler: unaryHandler(OrderSyncServer.DeleteOrder, MethodDeleteOrder)},
	},
	Metadata: "tablesync/v1/order_sync",
}

// LogUnary logs one line per RPC with its status code and latency.
func LogUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start))
		return resp, err
	}
}
