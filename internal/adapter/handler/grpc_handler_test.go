package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialGRPC(t *testing.T, srv *testServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ForceServerCodec(JSONCodec()))
	RegisterOrderSyncServer(server, NewGRPCHandler(srv.sync, srv.amendments, srv.logger))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func withTenant(tenant string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), tenantMetadataKey, tenant)
}

func TestGRPC_SyncAndList(t *testing.T) {
	srv := newTestServer(t)
	conn := dialGRPC(t, srv)
	ctx := withTenant(testTenant)

	var synced SyncOrdersResponse
	err := conn.Invoke(ctx, MethodSyncOrders, &SyncOrdersRequest{
		Orders: []OrderSnapshotDTO{burgerDTO("O1", `{"deviceA":1}`, "Pending")},
	}, &synced)
	require.NoError(t, err)
	require.Len(t, synced.Results, 1)
	assert.Equal(t, "Synchronized", synced.Results[0].Status)
	assert.Equal(t, 8, srv.store.Stock(testTenant, "burger"))

	var listed ListOrdersResponse
	require.NoError(t, conn.Invoke(ctx, MethodListOrders, &ListOrdersRequest{Limit: 5}, &listed))
	require.Len(t, listed.Orders, 1)
	assert.Equal(t, "O1", listed.Orders[0].OrderID)
}

func TestGRPC_RequiresTenant(t *testing.T) {
	conn := dialGRPC(t, newTestServer(t))

	var out ListOrdersResponse
	err := conn.Invoke(context.Background(), MethodListOrders, &ListOrdersRequest{}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	srv := newTestServer(t)
	conn := dialGRPC(t, srv)
	ctx := withTenant(testTenant)

	var resp StatusDTO
	err := conn.Invoke(ctx, MethodRespondAmend, &RespondAmendmentRequest{OrderID: "missing"}, &resp)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, MethodRespondAmend, &RespondAmendmentRequest{}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var synced SyncOrdersResponse
	require.NoError(t, conn.Invoke(ctx, MethodSyncOrders, &SyncOrdersRequest{
		Orders: []OrderSnapshotDTO{burgerDTO("O1", `{"deviceA":1}`, "Paid")},
	}, &synced))

	err = conn.Invoke(ctx, MethodRespondAmend, &RespondAmendmentRequest{
		OrderID:             "O1",
		RespondAmendmentDTO: RespondAmendmentDTO{Approve: true},
	}, &resp)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	var deleted DeletedOrderDTO
	require.NoError(t, conn.Invoke(ctx, MethodDeleteOrder, &DeleteOrderRequest{OrderID: "O1"}, &deleted))
	assert.Equal(t, "Paid", deleted.Status)

	err = conn.Invoke(ctx, MethodDeleteOrder, &DeleteOrderRequest{OrderID: "O1"}, &deleted)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
