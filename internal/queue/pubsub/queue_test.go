package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func newTestQueue(t *testing.T) (*Queue, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "price-tasks")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "price-worker", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	require.NoError(t, err)

	q, err := New(client, Config{Topic: "price-tasks", Subscription: "price-worker", PollWait: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, srv
}

func TestQueueEnqueueAndPoll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, srv := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, tracker.AcquisitionTask{ProductID: 11}))
	require.NoError(t, q.Enqueue(ctx, tracker.AcquisitionTask{ProductID: 12, Attempt: 1}))
	require.Len(t, srv.Messages(), 2)

	seen := map[int64]int{}
	for range 2 {
		task, ok, err := q.Poll(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		seen[task.ProductID] = task.Attempt
	}
	assert.Equal(t, map[int64]int{11: 0, 12: 1}, seen)

	_, ok, err := q.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueAcceptsBareIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.topic.Publish(ctx, &pubsub.Message{Data: []byte("77")}).Get(ctx)
	require.NoError(t, err)

	task, ok, err := q.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(77), task.ProductID)
}

func TestQueuePing(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	require.NoError(t, q.Ping(context.Background()))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Topic: "a", Subscription: "b"})
	require.Error(t, err)
}
