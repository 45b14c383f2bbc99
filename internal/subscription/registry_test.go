package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/store/memory"
)

func TestRegisterRecordsOwnerAndUserTopic(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "conn-1", 42))

	userID, err := reg.UserOf(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	conns, err := reg.Subscribers(ctx, UserTopic(42))
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1"}, conns)
}

func TestSubscribeAndUnsubscribeKeepIndicesConsistent(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "conn-1", 42))
	require.NoError(t, reg.Subscribe(ctx, "conn-1", []string{TickerTopic("AAPL"), TickerTopic("TSLA")}))

	require.NoError(t, reg.Unsubscribe(ctx, "conn-1", []string{TickerTopic("AAPL")}))

	conns, err := reg.Subscribers(ctx, TickerTopic("AAPL"))
	require.NoError(t, err)
	assert.Empty(t, conns)

	conns, err = reg.Subscribers(ctx, TickerTopic("TSLA"))
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1"}, conns, "the other topic must be untouched")
}

func TestTopicsAreSharedAcrossConnections(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "conn-1", 42))
	require.NoError(t, reg.Register(ctx, "conn-2", 7))
	require.NoError(t, reg.Subscribe(ctx, "conn-1", []string{TickerTopic("AAPL")}))
	require.NoError(t, reg.Subscribe(ctx, "conn-2", []string{TickerTopic("AAPL")}))

	conns, err := reg.Subscribers(ctx, TickerTopic("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1", "conn-2"}, conns)
}

func TestCleanupRemovesEveryMembership(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "conn-1", 42))
	require.NoError(t, reg.Register(ctx, "conn-2", 42))
	require.NoError(t, reg.Subscribe(ctx, "conn-1", []string{TickerTopic("AAPL"), TickerTopic("TSLA")}))

	require.NoError(t, reg.Cleanup(ctx, "conn-1"))

	for _, topic := range []string{TickerTopic("AAPL"), TickerTopic("TSLA")} {
		conns, err := reg.Subscribers(ctx, topic)
		require.NoError(t, err)
		assert.Empty(t, conns, "cleanup must drop reverse-index entry for %s", topic)
	}

	// The user's other connection is unaffected.
	conns, err := reg.Subscribers(ctx, UserTopic(42))
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-2"}, conns)

	_, err = reg.UserOf(ctx, "conn-1")
	assert.Error(t, err, "forward record is gone after cleanup")
}
