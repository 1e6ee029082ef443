package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tablesync/internal/core/domain"
)

// proposeSwap creates O with two burgers and syncs a pending amendment that
// swaps them for a pizza.
func proposeSwap(t *testing.T, f *fixture) {
	t.Helper()
	require.Equal(t, SyncStatusSynchronized, f.syncOne(t, snapshot("O", map[string]int64{"deviceA": 1})).Status)

	proposal := snapshot("O", map[string]int64{"deviceA": 2})
	proposal.Order.PendingAmendments = []domain.AmendmentOp{
		{Op: domain.AmendmentOpDelete, Item: burger(2)},
		{Op: domain.AmendmentOpAdd, Item: pizza(1)},
	}
	f.sink.reset()
	require.Equal(t, SyncStatusUpdated, f.syncOne(t, proposal).Status)
	require.Equal(t, []domain.TransitionKind{domain.TransitionAmendmentRequested}, f.sink.kinds())
	f.sink.reset()
}

func TestRespond_Decline(t *testing.T) {
	f := newFixture(t)
	proposeSwap(t, f)
	before := f.order(t, "O")

	f.advance(time.Minute)
	err := f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: false, Actor: "chef-1"})
	require.NoError(t, err)

	o := f.order(t, "O")
	assert.Empty(t, o.PendingAmendments)
	assert.Equal(t, before.Items, o.Items)
	assert.Equal(t, before.AmendmentCount, o.AmendmentCount)
	assert.Equal(t, before.Status, o.Status)
	assert.Equal(t, 8, f.store.Stock(tenant, "burger"))
	assert.Equal(t, 5, f.store.Stock(tenant, "pizza"))

	last, ok := o.StatusHistory.Last()
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusAmendmentDeclined, last.Status)
	assert.Equal(t, "chef-1", last.Actor)
	assert.Equal(t, 1, last.AmendmentVersion)
	assert.Equal(t, int64(1), o.Clock.Get(ServerDevice))

	assert.Equal(t, []domain.TransitionKind{domain.TransitionAmendmentDeclined}, f.sink.kinds())
	assert.Equal(t, 1, f.sink.transitions[0].Round)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.amendmentResponses.WithLabelValues("declined")))
}

func TestRespond_DeclinedProposalCannotBeReopenedByStaleDevice(t *testing.T) {
	f := newFixture(t)
	proposeSwap(t, f)
	require.NoError(t, f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: false}))

	// The waiter's terminal never saw the decline.
	stale := snapshot("O", map[string]int64{"deviceA": 3})
	stale.Order.PendingAmendments = []domain.AmendmentOp{
		{Op: domain.AmendmentOpDelete, Item: burger(2)},
		{Op: domain.AmendmentOpAdd, Item: pizza(1)},
	}
	assert.Equal(t, SyncStatusConflict, f.syncOne(t, stale).Status)
	assert.Empty(t, f.order(t, "O").PendingAmendments)
}

func TestRespond_ApprovePendingOps(t *testing.T) {
	f := newFixture(t)
	proposeSwap(t, f)

	f.advance(time.Minute)
	err := f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true, Actor: "chef-1"})
	require.NoError(t, err)

	o := f.order(t, "O")
	require.Len(t, o.Items, 2)
	assert.Equal(t, "pizza", o.Items[0].ProductID)
	assert.False(t, o.Items[0].Cancelled())
	assert.Equal(t, 1, o.Items[0].Version())
	assert.Equal(t, f.now, o.Items[0].Created)
	assert.Equal(t, "burger", o.Items[1].ProductID)
	assert.True(t, o.Items[1].Cancelled())
	assert.Equal(t, 0, o.Items[1].Version())

	assert.Equal(t, 10, f.store.Stock(tenant, "burger"))
	assert.Equal(t, 4, f.store.Stock(tenant, "pizza"))

	assert.Equal(t, 1, o.AmendmentCount)
	assert.True(t, o.Amended)
	assert.Equal(t, domain.OrderStatus("Amended-1-Preparing"), o.Status)
	assert.Equal(t, "[Amended] Table 4", o.CustomerName)
	assert.Empty(t, o.PendingAmendments)
	assert.Equal(t, int64(1), o.Clock.Get(ServerDevice))

	last, _ := o.StatusHistory.Last()
	assert.Equal(t, o.Status, last.Status)
	assert.Equal(t, 1, last.AmendmentVersion)

	require.Equal(t, []domain.TransitionKind{domain.TransitionAmendmentApproved}, f.sink.kinds())
	assert.Equal(t, o.Version, f.sink.transitions[0].Revision)
}

func TestRespond_ApproveRevivesCancelledOrderStock(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, SyncStatusSynchronized, f.syncOne(t, snapshot("O", map[string]int64{"deviceA": 1})).Status)
	require.Equal(t, 8, f.store.Stock(tenant, "burger"))

	cancelled := snapshot("O", map[string]int64{"deviceA": 2})
	cancelled.Order.Status = domain.OrderStatusCancelled
	cancelled.Order.PendingAmendments = []domain.AmendmentOp{{Op: domain.AmendmentOpAdd, Item: pizza(1)}}
	require.Equal(t, SyncStatusUpdated, f.syncOne(t, cancelled).Status)
	require.Equal(t, 10, f.store.Stock(tenant, "burger"))

	f.advance(time.Minute)
	require.NoError(t, f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true, Actor: "chef-1"}))

	o := f.order(t, "O")
	assert.Equal(t, domain.OrderStatus("Amended-1-Preparing"), o.Status)
	assert.Equal(t, map[string]int{"burger": 2, "pizza": 1}, o.Items.ActiveQuantities())
	assert.Equal(t, 8, f.store.Stock(tenant, "burger"))
	assert.Equal(t, 4, f.store.Stock(tenant, "pizza"))
}

func TestRespond_ApproveExplicitItemsAndTotal(t *testing.T) {
	f := newFixture(t)
	create := snapshot("O", map[string]int64{"deviceA": 1})
	create.Order.ServiceCharge = decimal.NewFromInt(2)
	create.Order.Discount = domain.Discount{Type: domain.DiscountAmount, Amount: decimal.NewFromInt(5)}
	f.syncOne(t, create)

	items, err := domain.EncodeItems(domain.ItemList{burger(3).WithVersion(0), pizza(2)})
	require.NoError(t, err)
	total := decimal.NewFromInt(44)

	err = f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{
		Approve:             true,
		UpdatedMetadataJSON: items,
		UpdatedTotalAmount:  &total,
	})
	require.NoError(t, err)

	o := f.order(t, "O")
	assert.True(t, o.TotalAmount.Equal(total))
	assert.True(t, o.FinalTotal.Equal(decimal.NewFromInt(41)))
	assert.Equal(t, 7, f.store.Stock(tenant, "burger"))
	assert.Equal(t, 3, f.store.Stock(tenant, "pizza"))
	require.Len(t, o.Items, 2)
	assert.Equal(t, 0, o.Items[0].Version())
	assert.Equal(t, 1, o.Items[1].Version())
}

func TestRespond_SecondRoundKeepsFirstRoundVersions(t *testing.T) {
	f := newFixture(t)
	proposeSwap(t, f)
	require.NoError(t, f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true}))

	current := f.order(t, "O")
	proposal := append(current.Items.Clone(), burger(1))
	raw, err := domain.EncodeItems(proposal)
	require.NoError(t, err)

	require.NoError(t, f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true, UpdatedMetadataJSON: raw}))

	o := f.order(t, "O")
	assert.Equal(t, 2, o.AmendmentCount)
	assert.Equal(t, domain.OrderStatus("Amended-2-Preparing"), o.Status)
	require.Len(t, o.Items, 3)
	assert.Equal(t, 1, o.Items[0].Version())
	assert.True(t, o.Items[1].Cancelled())
	assert.Equal(t, 0, o.Items[1].Version())
	assert.Equal(t, 2, o.Items[2].Version())
	assert.Equal(t, "[Amended] Table 4", o.CustomerName)
	assert.Equal(t, 9, f.store.Stock(tenant, "burger"))
}

func TestRespond_Errors(t *testing.T) {
	f := newFixture(t)

	err := f.amend.Respond(context.Background(), tenant, "missing", AmendmentResponse{Approve: true})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	f.syncOne(t, snapshot("O", map[string]int64{"deviceA": 1}))
	before := f.order(t, "O")

	err = f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true})
	assert.ErrorIs(t, err, ErrEmptyProposal)

	err = f.amend.Respond(context.Background(), tenant, "O", AmendmentResponse{Approve: true, UpdatedMetadataJSON: "[{"})
	assert.ErrorIs(t, err, ErrMalformedProposal)

	assert.Equal(t, before, f.order(t, "O"), "failed responses must not write")
	assert.Equal(t, 8, f.store.Stock(tenant, "burger"))
}
