package domain

// Broker topics, exact string identifiers per §6. Queue keys are prefixed
// fundamental:queue:<topic> by the Redis-backed implementation.
const (
	TopicScanJobs        = "scan_jobs"
	TopicMatchQueue      = "match_queue"
	TopicIngestQueue     = "ingest_queue"
	TopicLinkQueue       = "link_queue"
	TopicDeduplicateJobs = "deduplicate_jobs"
	TopicScoreJobs       = "score_jobs"
	TopicCompletionJobs  = "completion_jobs"

	// TopicTaskDispatch is the broker backend's well-known actor topic for
	// generic task execution (§4.5), distinct from the scan-pipeline
	// topics above which carry per-stage scan messages only.
	TopicTaskDispatch = "task_dispatch"
)

// QueueKeyPrefix is prepended to every topic name to form the broker's
// underlying queue key (§6).
const QueueKeyPrefix = "fundamental:queue:"

// Message is a single envelope delivered from a topic (§4.2, §6). Payload
// always carries at least "message_id" once published.
type Message struct {
	ID      string
	Payload map[string]any
}

// Handler processes a single Message. Handler exceptions must be caught by
// the broker; the message is still considered delivered (§4.2 at-least-once,
// no redelivery).
type Handler func(ctx Context, msg Message) error

// Broker is the C2 message-broker port: durable FIFO per topic, long-poll
// consumers, pub/sub plus auxiliary key-value for progress accounting (§4.2).
// Instantiable as Redis-backed in production, in-memory for tests.
type Broker interface {
	// Publish appends payload to topic's queue (FIFO), auto-assigning a
	// message_id if absent.
	Publish(ctx Context, topic string, payload map[string]any) error
	// Subscribe registers a handler for topic. Concurrency is the number of
	// parallel long-poll consumers to run for this topic (default 1).
	Subscribe(topic string, concurrency int, handler Handler)
	// Start spawns one long-poll consumer goroutine per registration.
	Start(ctx Context) error
	// Stop cooperatively shuts down: signals stop, lets in-flight handlers
	// complete, then returns.
	Stop(ctx Context) error
}

// ProgressTracker is the broker's auxiliary key-value side used by workers
// for per-job progress accounting (§4.2, §4.8). Keys:
//
//	scan:progress:<library_id>:total
//	scan:progress:<library_id>:processed
//	scan:progress:<library_id>:task_id
//	scan:progress:<library_id>:stage_started:<stage>
//	scan:progress:cancelled:<task_id>
type ProgressTracker interface {
	InitializeJob(ctx Context, libraryID int64, total int64, taskID *int64) error
	// MarkItemProcessed atomically increments processed. It returns
	// (false, nil) if the job's total key is absent (already drained or
	// never initialized), and (true, nil) if this increment reached total
	// (the "last item" signal), after which all keys for the job are
	// deleted.
	MarkItemProcessed(ctx Context, libraryID int64) (lastItem bool, err error)
	// MarkStageStarted is an idempotent SETNX-based flag; it returns true
	// only the first time it is called for (libraryID, stage).
	MarkStageStarted(ctx Context, libraryID int64, stage string) (firstTime bool, err error)
	GetTaskID(ctx Context, libraryID int64) (*int64, error)
	IsCancelled(ctx Context, taskID int64) (bool, error)
	SetCancelled(ctx Context, taskID int64) error
	ClearJob(ctx Context, libraryID int64) error
}
