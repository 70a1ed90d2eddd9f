package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// TaskRepo implements domain.TaskRepository against PostgreSQL, grounded on
// the teacher's jobs_repo.go (explicit transaction management on terminal
// transitions, otel spans, op=xxx error wrapping).
type TaskRepo struct {
	pool PgxPool
}

// NewTaskRepo constructs a TaskRepo.
func NewTaskRepo(pool PgxPool) *TaskRepo { return &TaskRepo{pool: pool} }

var taskTracer = otel.Tracer("adapter.repo.postgres.tasks")

func (r *TaskRepo) CreateTask(ctx domain.Context, taskType domain.TaskType, userID int64, metadata map[string]any) (domain.Task, error) {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.CreateTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", string(taskType)))

	data, err := json.Marshal(metadata)
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=CreateTask: %w", err)
	}

	var t domain.Task
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (type, status, progress, user_id, created_at, task_data)
		VALUES ($1, $2, 0, $3, now(), $4)
		RETURNING id, type, status, progress, user_id, created_at, task_data`,
		string(taskType), string(domain.TaskPending), userID, data)

	var rawData []byte
	if err := row.Scan(&t.ID, &t.Type, &t.Status, &t.Progress, &t.UserID, &t.CreatedAt, &rawData); err != nil {
		return domain.Task{}, fmt.Errorf("op=CreateTask: %w", err)
	}
	t.TaskData = unmarshalMeta(rawData)
	return t, nil
}

func (r *TaskRepo) Get(ctx domain.Context, id int64) (domain.Task, error) {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.Get")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, type, status, progress, user_id, created_at, started_at, completed_at,
		       cancelled_at, error_message, task_data
		FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=Get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=Get: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) ListTasks(ctx domain.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, error) {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.ListTasks")
	defer span.End()

	query := `SELECT id, type, status, progress, user_id, created_at, started_at, completed_at,
		       cancelled_at, error_message, task_data FROM tasks WHERE 1=1`
	args := []any{}
	argN := 1
	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argN)
		args = append(args, *filter.UserID)
		argN++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(*filter.Status))
		argN++
	}
	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, string(*filter.Type))
		argN++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=ListTasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=ListTasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) StartTask(ctx domain.Context, id int64) error {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.StartTask")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, started_at = now()
		WHERE id = $2 AND status = $3`,
		string(domain.TaskRunning), id, string(domain.TaskPending))
	if err != nil {
		return fmt.Errorf("op=StartTask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=StartTask: %w", domain.ErrConflict)
	}
	return nil
}

func (r *TaskRepo) UpdateProgress(ctx domain.Context, id int64, progress float64, meta map[string]any) error {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.UpdateProgress")
	defer span.End()

	if meta == nil {
		_, err := r.pool.Exec(ctx, `UPDATE tasks SET progress = $1 WHERE id = $2`, progress, id)
		if err != nil {
			return fmt.Errorf("op=UpdateProgress: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("op=UpdateProgress: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE tasks SET progress = $1, task_data = task_data || $2::jsonb WHERE id = $3`,
		progress, data, id)
	if err != nil {
		return fmt.Errorf("op=UpdateProgress: %w", err)
	}
	return nil
}

// terminalTransition runs a terminal status update plus its TaskStatistics
// roll-up inside one transaction, mirroring jobs_repo.go's explicit tx
// management for multi-statement writes.
func (r *TaskRepo) terminalTransition(ctx domain.Context, id int64, status domain.TaskStatus, errMsg *string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var taskType string
	var startedAt *time.Time
	row := tx.QueryRow(ctx, `SELECT type, started_at FROM tasks WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&taskType, &startedAt); err != nil {
		return err
	}

	var tag any
	switch status {
	case domain.TaskCompleted:
		tag, err = tx.Exec(ctx, `UPDATE tasks SET status = $1, completed_at = now() WHERE id = $2`,
			string(status), id)
	case domain.TaskFailed:
		tag, err = tx.Exec(ctx, `UPDATE tasks SET status = $1, error_message = $2 WHERE id = $3`,
			string(status), errMsg, id)
	case domain.TaskCancelled:
		tag, err = tx.Exec(ctx, `UPDATE tasks SET status = $1, cancelled_at = now() WHERE id = $2`,
			string(status), id)
	}
	if err != nil {
		return err
	}
	_ = tag

	var duration time.Duration
	if startedAt != nil {
		duration = time.Since(*startedAt)
	}
	success := status == domain.TaskCompleted

	_, err = tx.Exec(ctx, `
		INSERT INTO task_statistics (task_type, total_count, success_count, failure_count,
			min_duration_ms, avg_duration_ms, max_duration_ms, last_run_at)
		VALUES ($1, 1, $2, $3, $4, $4, $4, now())
		ON CONFLICT (task_type) DO UPDATE SET
			total_count = task_statistics.total_count + 1,
			success_count = task_statistics.success_count + $2,
			failure_count = task_statistics.failure_count + $3,
			min_duration_ms = LEAST(task_statistics.min_duration_ms, $4),
			max_duration_ms = GREATEST(task_statistics.max_duration_ms, $4),
			avg_duration_ms = COALESCE(task_statistics.avg_duration_ms, $4) +
				($4 - COALESCE(task_statistics.avg_duration_ms, $4)) / (task_statistics.total_count + 1),
			last_run_at = now()`,
		taskType, boolToInt(success), boolToInt(!success), duration.Milliseconds())
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *TaskRepo) CompleteTask(ctx domain.Context, id int64) error {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.CompleteTask")
	defer span.End()
	if err := r.terminalTransition(ctx, id, domain.TaskCompleted, nil); err != nil {
		return fmt.Errorf("op=CompleteTask: %w", err)
	}
	return nil
}

func (r *TaskRepo) FailTask(ctx domain.Context, id int64, msg string) error {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.FailTask")
	defer span.End()
	truncated := domain.TruncateErrorMessage(msg)
	if err := r.terminalTransition(ctx, id, domain.TaskFailed, &truncated); err != nil {
		return fmt.Errorf("op=FailTask: %w", err)
	}
	return nil
}

func (r *TaskRepo) CancelTask(ctx domain.Context, id int64) (bool, error) {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.CancelTask")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, cancelled_at = now()
		WHERE id = $2 AND status IN ($3, $4)`,
		string(domain.TaskCancelled), id, string(domain.TaskPending), string(domain.TaskRunning))
	if err != nil {
		return false, fmt.Errorf("op=CancelTask: %w", err)
	}
	changed := tag.RowsAffected() > 0
	if !changed {
		// Idempotent: task may already be cancelled or terminal.
		return false, nil
	}

	var taskType string
	var startedAt *time.Time
	row := r.pool.QueryRow(ctx, `SELECT type, started_at FROM tasks WHERE id = $1`, id)
	if err := row.Scan(&taskType, &startedAt); err != nil {
		return true, fmt.Errorf("op=CancelTask: %w", err)
	}

	// A task cancelled before it ever started (PENDING -> CANCELLED) has no
	// meaningful duration; only fold min/avg/max when StartTask ran.
	if startedAt == nil {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO task_statistics (task_type, total_count, success_count, failure_count, last_run_at)
			VALUES ($1, 1, 0, 1, now())
			ON CONFLICT (task_type) DO UPDATE SET
				total_count = task_statistics.total_count + 1,
				failure_count = task_statistics.failure_count + 1,
				last_run_at = now()`,
			taskType)
		if err != nil {
			return true, fmt.Errorf("op=CancelTask: %w", err)
		}
		return true, nil
	}

	duration := time.Since(*startedAt)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO task_statistics (task_type, total_count, failure_count, min_duration_ms,
			avg_duration_ms, max_duration_ms, last_run_at)
		VALUES ($1, 1, 1, $2, $2, $2, now())
		ON CONFLICT (task_type) DO UPDATE SET
			total_count = task_statistics.total_count + 1,
			failure_count = task_statistics.failure_count + 1,
			min_duration_ms = LEAST(task_statistics.min_duration_ms, $2),
			max_duration_ms = GREATEST(task_statistics.max_duration_ms, $2),
			avg_duration_ms = COALESCE(task_statistics.avg_duration_ms, $2) +
				($2 - COALESCE(task_statistics.avg_duration_ms, $2)) / (task_statistics.total_count + 1),
			last_run_at = now()`,
		taskType, duration.Milliseconds())
	if err != nil {
		return true, fmt.Errorf("op=CancelTask: %w", err)
	}
	return true, nil
}

func (r *TaskRepo) GetStatistics(ctx domain.Context, taskType *domain.TaskType) ([]domain.TaskStatistics, error) {
	ctx, span := taskTracer.Start(ctx, "TaskRepo.GetStatistics")
	defer span.End()

	query := `SELECT task_type, total_count, success_count, failure_count,
		min_duration_ms, avg_duration_ms, max_duration_ms, last_run_at FROM task_statistics`
	var args []any
	if taskType != nil {
		query += " WHERE task_type = $1"
		args = append(args, string(*taskType))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=GetStatistics: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskStatistics
	for rows.Next() {
		var s domain.TaskStatistics
		var minMs, avgMs, maxMs *int64
		var taskTypeStr string
		if err := rows.Scan(&taskTypeStr, &s.TotalCount, &s.SuccessCount, &s.FailureCount,
			&minMs, &avgMs, &maxMs, &s.LastRunAt); err != nil {
			return nil, fmt.Errorf("op=GetStatistics: %w", err)
		}
		s.Type = domain.TaskType(taskTypeStr)
		// Duration columns are NULL until a task of this type has run at
		// least once past StartTask (a never-started CANCELLED task only
		// bumps total_count/failure_count, see TaskRepo.CancelTask).
		if minMs != nil {
			s.MinDuration = time.Duration(*minMs) * time.Millisecond
		}
		if avgMs != nil {
			s.AvgDuration = time.Duration(*avgMs) * time.Millisecond
		}
		if maxMs != nil {
			s.MaxDuration = time.Duration(*maxMs) * time.Millisecond
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var taskTypeStr, statusStr string
	var rawData []byte
	if err := row.Scan(&t.ID, &taskTypeStr, &statusStr, &t.Progress, &t.UserID, &t.CreatedAt,
		&t.StartedAt, &t.CompletedAt, &t.CancelledAt, &t.ErrorMessage, &rawData); err != nil {
		return domain.Task{}, err
	}
	t.Type = domain.TaskType(taskTypeStr)
	t.Status = domain.TaskStatus(statusStr)
	t.TaskData = unmarshalMeta(rawData)
	return t, nil
}

func unmarshalMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
