package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniswap/swapd/internal/domain"
)

func TestSwapEventStore_LogAndList(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapEventStore(client.Pool())

	require.NoError(t, store.Log(ctx, "swap-1", domain.EventSwapCreated, map[string]any{"route_id": "route-1"}))
	require.NoError(t, store.Log(ctx, "swap-1", domain.EventStepSubmitted, map[string]any{"step_index": 0, "tx_hash": "0xhash"}))
	require.NoError(t, store.Log(ctx, "swap-2", domain.EventSwapCreated, nil))

	events, err := store.ListBySwap(ctx, "swap-1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSwapCreated, events[0].Type)
	assert.Equal(t, "route-1", events[0].Detail["route_id"])
	assert.Equal(t, domain.EventStepSubmitted, events[1].Type)
	assert.Equal(t, "0xhash", events[1].Detail["tx_hash"])
	assert.True(t, events[0].ID < events[1].ID)
}

func TestSwapEventStore_ListBefore(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapEventStore(client.Pool())

	require.NoError(t, store.Log(ctx, "swap-1", domain.EventSwapCreated, nil))

	events, err := store.ListBefore(ctx, time.Now().Add(time.Hour), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = store.ListBefore(ctx, time.Now().Add(-time.Hour), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, events)
}
