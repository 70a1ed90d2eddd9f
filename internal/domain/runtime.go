package domain

// TaskRuntime is the shared task-runtime interface exposed to callers (API,
// scheduler) regardless of backend (§4.5).
type TaskRuntime interface {
	Enqueue(ctx Context, taskType TaskType, payload map[string]any, userID int64, metadata map[string]any) (int64, error)
	Cancel(ctx Context, taskID int64) (bool, error)
	GetStatus(ctx Context, taskID int64) (TaskStatus, error)
	GetProgress(ctx Context, taskID int64) (float64, error)
	Shutdown(ctx Context) error
}

// ProgressFunc is the injected progress callback handed to task handlers; it
// keeps a stable shape across backends (§9 "progress callbacks").
type ProgressFunc func(progress float64, meta map[string]any)

// EnqueueSubtaskFunc lets a running task enqueue another one (e.g. fan-out),
// keeping handler signatures uniform without a global service locator (§9).
type EnqueueSubtaskFunc func(ctx Context, taskType TaskType, payload map[string]any, userID int64, metadata map[string]any) (int64, error)

// WorkerContext is the shared struct every task handler receives (§4.5,
// §9 "dynamic dispatch over task types"). It keeps the handler signature
// uniform across the thread and broker backends.
type WorkerContext struct {
	TaskID         int64
	UserID         int64
	UpdateProgress ProgressFunc
	EnqueueSubtask EnqueueSubtaskFunc
}

// TaskHandler executes one task's business logic given its payload and a
// WorkerContext. Returning an error fails the task; a cooperative
// cancellation is signaled by checking ctx.Done() or the broker's
// cancellation flag and returning ErrCancelled.
type TaskHandler func(ctx Context, payload map[string]any, wc WorkerContext) error

// TaskHandlerFactory resolves a TaskType to a TaskHandler (§9 "tag ->
// constructor table").
type TaskHandlerFactory interface {
	Handler(taskType TaskType) (TaskHandler, bool)
}

// ErrCancelled is returned by a TaskHandler to signal cooperative
// cancellation was observed mid-execution.
var ErrCancelled = errorString("task cancelled")

// ErrDeferredCompletion is returned by a TaskHandler that has handed the
// task off to an asynchronous collaborator (e.g. the distributed scan
// pipeline, §4.8) which will call TaskRepository.CompleteTask/FailTask
// itself once the handoff finishes. The runtime must not apply its own
// terminal transition in this case; the task stays RUNNING.
var ErrDeferredCompletion = errorString("task completion deferred to async collaborator")

type errorString string

func (e errorString) Error() string { return string(e) }
