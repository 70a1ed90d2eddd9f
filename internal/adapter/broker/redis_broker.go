// Package broker provides Redis-backed and in-memory implementations of
// domain.Broker and domain.ProgressTracker.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

var brokerTracer = otel.Tracer("adapter.broker")

type subscription struct {
	topic       string
	concurrency int
	handler     domain.Handler
}

// RedisBroker implements domain.Broker on top of Redis Lists (LPUSH/BRPOP),
// grounded on redis_broker.py's RedisBroker: one FIFO list per topic, a
// blocking-pop consumer loop per concurrency slot, and a reconnect sleep on
// connection errors. The Python threading.Event stop signal becomes a
// context.Context cancellation here.
type RedisBroker struct {
	client        *redis.Client
	pollTimeout   time.Duration
	reconnectWait time.Duration

	mu   sync.Mutex
	subs []subscription

	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

// NewRedisBroker constructs a RedisBroker. pollTimeout bounds each BRPOP call
// so a stopped context is observed promptly; reconnectWait is the sleep
// after a connection error before retrying (§7 "Broker connection loss").
func NewRedisBroker(client *redis.Client, pollTimeout, reconnectWait time.Duration) *RedisBroker {
	return &RedisBroker{client: client, pollTimeout: pollTimeout, reconnectWait: reconnectWait}
}

func queueKey(topic string) string {
	return domain.QueueKeyPrefix + topic
}

// Publish appends payload to topic's list, assigning a message_id if absent.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload map[string]any) error {
	ctx, span := brokerTracer.Start(ctx, "RedisBroker.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("broker.topic", topic))

	if _, ok := payload["message_id"]; !ok {
		payload["message_id"] = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=Publish: %w", err)
	}
	if err := b.client.LPush(ctx, queueKey(topic), data).Err(); err != nil {
		return fmt.Errorf("op=Publish: %w", err)
	}
	return nil
}

// Subscribe registers a handler for topic. It does not start consuming until
// Start is called.
func (b *RedisBroker) Subscribe(topic string, concurrency int, handler domain.Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{topic: topic, concurrency: concurrency, handler: handler})
}

// Start verifies connectivity (retrying with backoff) then spawns one
// consumer goroutine per (subscription, concurrency slot).
func (b *RedisBroker) Start(ctx context.Context) error {
	if err := withReconnectBackoff(ctx, func() error {
		return b.client.Ping(ctx).Err()
	}); err != nil {
		return fmt.Errorf("op=Start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelFn = cancel
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		for i := 0; i < sub.concurrency; i++ {
			b.wg.Add(1)
			go b.consume(runCtx, sub)
		}
	}
	return nil
}

// Stop cancels every consumer's context and waits for in-flight handlers to
// return, up to ctx's own deadline.
func (b *RedisBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancelFn
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

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

func (b *RedisBroker) consume(ctx context.Context, sub subscription) {
	defer b.wg.Done()
	key := queueKey(sub.topic)
	logger := slog.With(slog.String("topic", sub.topic))
	logger.Info("started broker consumer")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := b.client.BRPop(ctx, b.pollTimeout, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("redis connection error, retrying", slog.Any("error", err))
			sleepOrDone(ctx, b.reconnectWait)
			continue
		}
		if len(result) != 2 {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			logger.Error("failed to decode message payload", slog.Any("error", err))
			continue
		}
		msgID, _ := payload["message_id"].(string)
		msg := domain.Message{ID: msgID, Payload: payload}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic handling message", slog.Any("recover", r))
				}
			}()
			if err := sub.handler(ctx, msg); err != nil {
				logger.Error("error handling message", slog.String("message_id", msgID), slog.Any("error", err))
			}
		}()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// withReconnectBackoff is available for callers that need one-shot
// reconnect retries outside the consumer loop (e.g. on Start).
func withReconnectBackoff(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(op, b)
}
