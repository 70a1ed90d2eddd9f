package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestMemoryBroker_PublishSubscribe_FIFO(t *testing.T) {
	b := NewMemoryBroker()

	var mu sync.Mutex
	var received []int
	var wg sync.WaitGroup
	wg.Add(3)

	b.Subscribe("topic.a", 1, func(_ context.Context, msg domain.Message) error {
		n, _ := msg.Payload["n"].(int)
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, "topic.a", map[string]any{"n": i}))
	}

	waitWithTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2}, received, "FIFO per-topic delivery order")
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for messages to be consumed")
	}
}

func TestMemoryBroker_Publish_AssignsMessageID(t *testing.T) {
	b := NewMemoryBroker()
	payload := map[string]any{"foo": "bar"}
	require.NoError(t, b.Publish(context.Background(), "topic.b", payload))
	require.NotEmpty(t, payload["message_id"])
}

func TestMemoryBroker_Stop_DrainsConsumers(t *testing.T) {
	b := NewMemoryBroker()
	var handled int32
	var mu sync.Mutex
	b.Subscribe("topic.c", 2, func(_ context.Context, _ domain.Message) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "topic.c", map[string]any{"i": i}))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Stop(stopCtx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int32(5), handled)
}
