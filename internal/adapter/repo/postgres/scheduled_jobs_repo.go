package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// ScheduledJobRepo implements domain.ScheduledJobRepository, grounded on
// scheduler/service.py's refresh_jobs query (enabled rows only, with their
// cron expression and argument payload).
type ScheduledJobRepo struct {
	pool PgxPool
}

// NewScheduledJobRepo constructs a ScheduledJobRepo.
func NewScheduledJobRepo(pool PgxPool) *ScheduledJobRepo { return &ScheduledJobRepo{pool: pool} }

var scheduledJobTracer = otel.Tracer("adapter.repo.postgres.scheduled_jobs")

func (r *ScheduledJobRepo) ListEnabled(ctx domain.Context) ([]domain.ScheduledJobDefinition, error) {
	ctx, span := scheduledJobTracer.Start(ctx, "ScheduledJobRepo.ListEnabled")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT job_name, task_type, cron_expression, enabled, user_id, arguments, job_metadata
		FROM scheduled_jobs WHERE enabled = true ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("op=ListEnabled: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledJobDefinition
	for rows.Next() {
		var j domain.ScheduledJobDefinition
		var taskTypeStr string
		var argsRaw, metaRaw []byte
		if err := rows.Scan(&j.JobName, &taskTypeStr, &j.CronExpression, &j.Enabled, &j.UserID,
			&argsRaw, &metaRaw); err != nil {
			return nil, fmt.Errorf("op=ListEnabled: %w", err)
		}
		j.TaskType = domain.TaskType(taskTypeStr)
		j.Arguments = unmarshalMeta(argsRaw)
		j.JobMetadata = unmarshalMeta(metaRaw)
		out = append(out, j)
	}
	return out, rows.Err()
}
