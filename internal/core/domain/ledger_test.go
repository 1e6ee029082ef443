package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHistory_AppendOnly(t *testing.T) {
	now := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	base := make(StatusHistory, 1, 4)
	base[0] = HistoryEntry{Status: OrderStatusPending, Timestamp: now}

	a := base.Append(HistoryEntry{Status: OrderStatusPreparing, Timestamp: now.Add(time.Minute)})
	b := base.Append(HistoryEntry{Status: OrderStatusCancelled, Timestamp: now.Add(time.Minute)})

	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.Equal(t, OrderStatusPreparing, a[1].Status)
	assert.Equal(t, OrderStatusCancelled, b[1].Status)
	assert.Len(t, base, 1)

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, OrderStatusPreparing, last.Status)

	_, ok = StatusHistory{}.Last()
	assert.False(t, ok)
}

func TestDecodeStatusHistory(t *testing.T) {
	h, err := DecodeStatusHistory(`[{"status":"Pending","timestamp":"2024-05-01T18:00:00Z","actor":"staff-1","amendmentVersion":0}]`)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, "staff-1", h[0].Actor)

	h, err = DecodeStatusHistory("[{")
	assert.Error(t, err)
	assert.NotNil(t, h)
	assert.Empty(t, h)

	raw, err := EncodeStatusHistory(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}
