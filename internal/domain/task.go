// Package domain defines the core entities and repository ports of the task
// and library-scan runtime.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context is a convenience alias mirroring the teacher's usage: domain code
// never imports anything beyond the standard library.
type Context = context.Context

// Sentinel errors returned by repositories and services. Adapters wrap these
// with op-specific context via fmt.Errorf("op: %w", err).
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyTerminal  = errors.New("task already in a terminal state")
	ErrNoSystemUser     = errors.New("no system user available")
	ErrConfiguration    = errors.New("configuration error")
)

// TaskType is one of the fixed string identifiers persisted on a Task row (§6).
type TaskType string

// Task types, exact string identifiers per §6.
const (
	TaskTypeBookUpload             TaskType = "book_upload"
	TaskTypeMultiBookUpload        TaskType = "multi_book_upload"
	TaskTypeBookConvert            TaskType = "book_convert"
	TaskTypeBookStripDRM           TaskType = "book_strip_drm"
	TaskTypeEmailSend              TaskType = "email_send"
	TaskTypeMetadataBackup         TaskType = "metadata_backup"
	TaskTypeThumbnailGenerate      TaskType = "thumbnail_generate"
	TaskTypeLibraryScan            TaskType = "library_scan"
	TaskTypeAuthorMetadataFetch    TaskType = "author_metadata_fetch"
	TaskTypeOpenLibraryDumpDownload TaskType = "openlibrary_dump_download"
	TaskTypeOpenLibraryDumpIngest  TaskType = "openlibrary_dump_ingest"
	TaskTypeEpubFixSingle          TaskType = "epub_fix_single"
	TaskTypeEpubFixBatch           TaskType = "epub_fix_batch"
	TaskTypeEpubFixDailyScan       TaskType = "epub_fix_daily_scan"
	TaskTypeIngestDiscovery        TaskType = "ingest_discovery"
	TaskTypeIngestBook             TaskType = "ingest_book"
	TaskTypePVRDownloadMonitor     TaskType = "pvr_download_monitor"
	TaskTypeProwlarrSync           TaskType = "prowlarr_sync"
	TaskTypeIndexerHealthCheck     TaskType = "indexer_health_check"
)

// TaskStatus is one of the fixed lifecycle states of a Task (§6).
type TaskStatus string

// Task statuses, exact string identifiers per §6.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// maxErrorMessageLen bounds Task.ErrorMessage per §3.
const maxErrorMessageLen = 2000

// Task is a persisted unit of work with status and progress (§3).
type Task struct {
	ID           int64
	Type         TaskType
	Status       TaskStatus
	Progress     float64
	UserID       int64
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	ErrorMessage *string
	TaskData     map[string]any
}

// TruncateErrorMessage bounds a task exception message to 2000 chars (§7).
func TruncateErrorMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxErrorMessageLen {
		return msg
	}
	return string(runes[:maxErrorMessageLen])
}

// TaskFilter narrows ListTasks results by (user_id, status) or (type, created_at) (§3).
type TaskFilter struct {
	UserID *int64
	Status *TaskStatus
	Type   *TaskType
}

// TaskStatistics is one row per task type, mutated on terminal transitions (§3).
type TaskStatistics struct {
	Type         TaskType
	TotalCount   int64
	SuccessCount int64
	FailureCount int64
	MinDuration  time.Duration
	AvgDuration  time.Duration
	MaxDuration  time.Duration
	LastRunAt    *time.Time
}

// ApplyTerminalDuration folds a just-finished task's duration into the
// statistics row using the incremental mean formula from §4.1:
// avg' = avg + (d - avg) / n_new.
func (s *TaskStatistics) ApplyTerminalDuration(d time.Duration, success bool, at time.Time) {
	s.TotalCount++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	if s.TotalCount == 1 {
		s.MinDuration, s.MaxDuration, s.AvgDuration = d, d, d
	} else {
		if d < s.MinDuration {
			s.MinDuration = d
		}
		if d > s.MaxDuration {
			s.MaxDuration = d
		}
		s.AvgDuration += (d - s.AvgDuration) / time.Duration(s.TotalCount)
	}
	s.LastRunAt = &at
}

// TaskRepository is the C1 task store port: persist task rows, transitions,
// and statistics (§4.1).
type TaskRepository interface {
	CreateTask(ctx Context, taskType TaskType, userID int64, metadata map[string]any) (Task, error)
	Get(ctx Context, id int64) (Task, error)
	ListTasks(ctx Context, filter TaskFilter, limit, offset int) ([]Task, error)
	StartTask(ctx Context, id int64) error
	UpdateProgress(ctx Context, id int64, progress float64, meta map[string]any) error
	CompleteTask(ctx Context, id int64) error
	FailTask(ctx Context, id int64, msg string) error
	// CancelTask transitions a PENDING or RUNNING task to CANCELLED. It is
	// idempotent and reports whether a state change actually occurred.
	CancelTask(ctx Context, id int64) (changed bool, err error)
	GetStatistics(ctx Context, taskType *TaskType) ([]TaskStatistics, error)
}

// ScheduledJobDefinition is a cron-driven job registered independently of the
// task store (§3, §4.6).
type ScheduledJobDefinition struct {
	JobName        string
	TaskType       TaskType
	CronExpression string
	Enabled        bool
	UserID         *int64
	Arguments      map[string]any
	JobMetadata    map[string]any
}

// ScheduledJobRepository persists ScheduledJobDefinition rows.
type ScheduledJobRepository interface {
	ListEnabled(ctx Context) ([]ScheduledJobDefinition, error)
}

// SystemUser is the minimal identity the scheduler needs to attribute
// scheduled task runs to (§4.6). Full user/auth modeling is out of scope.
type SystemUser struct {
	ID      int64
	IsAdmin bool
}

// SystemUserResolver resolves the scheduler's "system user": first admin,
// fallback to first user (§4.6, §9).
type SystemUserResolver interface {
	ResolveSystemUser(ctx Context) (SystemUser, error)
}
