package broker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

const progressKeyPrefix = "scan:progress"

// scanStages lists the pipeline stages whose "started" flag is cleared
// alongside the job's total/processed/task_id keys, mirroring progress.py's
// hard-coded ["match", "ingest", "link"] cleanup list.
var scanStages = []string{"match", "ingest", "link"}

// RedisProgressTracker implements domain.ProgressTracker, grounded on
// progress.py's JobProgressTracker: SETNX/INCR/EXPIRE/EXISTS/DELETE against
// a fixed key scheme, TTL 86400s by default.
type RedisProgressTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProgressTracker constructs a RedisProgressTracker with the given
// key TTL (§6, default 86400s).
func NewRedisProgressTracker(client *redis.Client, ttl time.Duration) *RedisProgressTracker {
	return &RedisProgressTracker{client: client, ttl: ttl}
}

func totalKey(libraryID int64) string     { return fmt.Sprintf("%s:%d:total", progressKeyPrefix, libraryID) }
func processedKey(libraryID int64) string { return fmt.Sprintf("%s:%d:processed", progressKeyPrefix, libraryID) }
func taskIDKey(libraryID int64) string    { return fmt.Sprintf("%s:%d:task_id", progressKeyPrefix, libraryID) }
func stageStartedKey(libraryID int64, stage string) string {
	return fmt.Sprintf("%s:%d:stage_started:%s", progressKeyPrefix, libraryID, stage)
}
func cancelledKey(taskID int64) string { return fmt.Sprintf("%s:cancelled:%d", progressKeyPrefix, taskID) }

func (t *RedisProgressTracker) InitializeJob(ctx domain.Context, libraryID int64, total int64, taskID *int64) error {
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, totalKey(libraryID), strconv.FormatInt(total, 10), t.ttl)
	pipe.Set(ctx, processedKey(libraryID), "0", t.ttl)
	if taskID != nil {
		pipe.Set(ctx, taskIDKey(libraryID), strconv.FormatInt(*taskID, 10), t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=InitializeJob: %w", err)
	}
	return nil
}

func (t *RedisProgressTracker) MarkItemProcessed(ctx domain.Context, libraryID int64) (bool, error) {
	totalVal, err := t.client.Get(ctx, totalKey(libraryID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=MarkItemProcessed: %w", err)
	}
	total, err := strconv.ParseInt(totalVal, 10, 64)
	if err != nil {
		return false, fmt.Errorf("op=MarkItemProcessed: %w", err)
	}

	processed, err := t.client.Incr(ctx, processedKey(libraryID)).Result()
	if err != nil {
		return false, fmt.Errorf("op=MarkItemProcessed: %w", err)
	}

	if processed >= total {
		keys := []string{totalKey(libraryID), processedKey(libraryID), taskIDKey(libraryID)}
		for _, stage := range scanStages {
			keys = append(keys, stageStartedKey(libraryID, stage))
		}
		if err := t.client.Del(ctx, keys...).Err(); err != nil {
			return true, fmt.Errorf("op=MarkItemProcessed: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (t *RedisProgressTracker) MarkStageStarted(ctx domain.Context, libraryID int64, stage string) (bool, error) {
	key := stageStartedKey(libraryID, stage)
	wasSet, err := t.client.SetNX(ctx, key, "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("op=MarkStageStarted: %w", err)
	}
	if wasSet {
		if err := t.client.Expire(ctx, key, t.ttl).Err(); err != nil {
			return false, fmt.Errorf("op=MarkStageStarted: %w", err)
		}
	}
	return wasSet, nil
}

func (t *RedisProgressTracker) GetTaskID(ctx domain.Context, libraryID int64) (*int64, error) {
	val, err := t.client.Get(ctx, taskIDKey(libraryID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=GetTaskID: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("op=GetTaskID: %w", err)
	}
	return &id, nil
}

func (t *RedisProgressTracker) IsCancelled(ctx domain.Context, taskID int64) (bool, error) {
	n, err := t.client.Exists(ctx, cancelledKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("op=IsCancelled: %w", err)
	}
	return n > 0, nil
}

func (t *RedisProgressTracker) SetCancelled(ctx domain.Context, taskID int64) error {
	if err := t.client.Set(ctx, cancelledKey(taskID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("op=SetCancelled: %w", err)
	}
	return nil
}

func (t *RedisProgressTracker) ClearJob(ctx domain.Context, libraryID int64) error {
	keys := []string{totalKey(libraryID), processedKey(libraryID), taskIDKey(libraryID)}
	for _, stage := range scanStages {
		keys = append(keys, stageStartedKey(libraryID, stage))
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=ClearJob: %w", err)
	}
	return nil
}
