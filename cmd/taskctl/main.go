// Command taskctl is a small operator CLI against the task store: list
// tasks, inspect one by id, or cancel one, rendering results as YAML for
// terminal reading (the wire format between broker and workers stays JSON
// per §6 — this is an operator-facing convenience only).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/broker"
	"github.com/fairyhunter13/bookcard-runtime/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/bookcard-runtime/internal/config"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/redis/go-redis/v9"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database connection failed:", err)
		os.Exit(1)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRepo(pool)

	switch os.Args[1] {
	case "list":
		runList(ctx, taskRepo)
	case "get":
		runGet(ctx, taskRepo)
	case "cancel":
		runCancel(ctx, cfg, taskRepo)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: taskctl <list|get|cancel> [flags]")
}

func runList(ctx context.Context, taskRepo *postgres.TaskRepo) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status (pending|running|completed|failed|cancelled)")
	taskType := fs.String("type", "", "filter by task type")
	userID := fs.Int64("user", 0, "filter by user id (0 = no filter)")
	limit := fs.Int("limit", 20, "max rows")
	offset := fs.Int("offset", 0, "row offset")
	_ = fs.Parse(os.Args[2:])

	var filter domain.TaskFilter
	if *status != "" {
		s := domain.TaskStatus(*status)
		filter.Status = &s
	}
	if *taskType != "" {
		t := domain.TaskType(*taskType)
		filter.Type = &t
	}
	if *userID != 0 {
		filter.UserID = userID
	}

	tasks, err := taskRepo.ListTasks(ctx, filter, *limit, *offset)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list failed:", err)
		os.Exit(1)
	}
	emitYAML(tasks)
}

func runGet(ctx context.Context, taskRepo *postgres.TaskRepo) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: taskctl get <task-id>")
		os.Exit(2)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid task id:", err)
		os.Exit(2)
	}
	task, err := taskRepo.Get(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get failed:", err)
		os.Exit(1)
	}
	emitYAML(task)
}

// runCancel drives the same Cancel path the broker backend exposes (§4.5):
// flip the progress-tracker cancellation flag, then the task row, so a
// running worker observes it cooperatively.
func runCancel(ctx context.Context, cfg config.Config, taskRepo *postgres.TaskRepo) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: taskctl cancel <task-id>")
		os.Exit(2)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid task id:", err)
		os.Exit(2)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	tracker := broker.NewRedisProgressTracker(rdb, cfg.ProgressCounterTTL)

	if err := tracker.SetCancelled(ctx, id); err != nil {
		fmt.Fprintln(os.Stderr, "mark cancelled failed:", err)
		os.Exit(1)
	}
	cancelled, err := taskRepo.CancelTask(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cancel failed:", err)
		os.Exit(1)
	}
	emitYAML(map[string]any{"task_id": id, "cancelled": cancelled})
}

func emitYAML(v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "render failed:", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}
