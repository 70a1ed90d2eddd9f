package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// MemoryBroker is an in-process FIFO-per-topic implementation of
// domain.Broker for tests, matching RedisBroker's semantics (FIFO publish
// order, one goroutine per subscription/concurrency slot).
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string][]domain.Message
	cond   *sync.Cond
	subs   []subscription
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryBroker constructs an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{queues: make(map[string][]domain.Message)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload map[string]any) error {
	if _, ok := payload["message_id"]; !ok {
		payload["message_id"] = uuid.NewString()
	}
	msgID, _ := payload["message_id"].(string)

	b.mu.Lock()
	b.queues[topic] = append(b.queues[topic], domain.Message{ID: msgID, Payload: payload})
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (b *MemoryBroker) Subscribe(topic string, concurrency int, handler domain.Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{topic: topic, concurrency: concurrency, handler: handler})
}

func (b *MemoryBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		for i := 0; i < sub.concurrency; i++ {
			b.wg.Add(1)
			go b.consume(ctx, sub)
		}
	}
	return nil
}

func (b *MemoryBroker) consume(ctx context.Context, sub subscription) {
	defer b.wg.Done()
	for {
		msg, ok := b.pop(ctx, sub.topic)
		if !ok {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic handling message", slog.Any("recover", r))
				}
			}()
			if err := sub.handler(ctx, msg); err != nil {
				slog.Error("error handling message", slog.String("topic", sub.topic), slog.Any("error", err))
			}
		}()
	}
}

// pop blocks until a message is available on topic, ctx is cancelled, or the
// broker is closed and topic's queue is empty, in which case ok is false.
// Messages already queued when Stop is called are still handed out, so Stop
// drains them before its consumers exit.
func (b *MemoryBroker) pop(ctx context.Context, topic string) (domain.Message, bool) {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.cond.Broadcast()
		case <-stopped:
		}
	}()
	defer close(stopped)

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return domain.Message{}, false
		}
		q := b.queues[topic]
		if len(q) > 0 {
			msg := q[0]
			b.queues[topic] = q[1:]
			return msg, true
		}
		if b.closed {
			return domain.Message{}, false
		}
		b.cond.Wait()
	}
}

func (b *MemoryBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
