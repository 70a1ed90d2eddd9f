// Package watcher implements the C10 filesystem watcher (§5): an
// inotify-based detector with a polling fallback for network mounts,
// debounced triggers, and a re-entrant restart lock, grounded on
// ingest_watcher_service.py's dual watch/poll loop design.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// defaultPollInterval is how often the poll-fallback loop rescans the
// watched directory for new files (ingest_watcher_service.py: 30s).
const defaultPollInterval = 30 * time.Second

// defaultDebounce mirrors ingest_watcher_service.py's own default.
const defaultDebounce = 5 * time.Second

// Service watches a directory for new or modified files and triggers an
// ingest_discovery task, debounced, whenever one appears (§5, §6
// ingest_discovery task type). ForcePolling substitutes the poll loop for
// the inotify loop entirely, mirroring WATCHFILES_FORCE_POLLING's effect
// on the original's watchfiles backend — useful on network mounts where
// inotify events never arrive.
type Service struct {
	dir          string
	runtime      domain.TaskRuntime
	resolver     domain.SystemUserResolver
	debounce     time.Duration
	pollInterval time.Duration
	forcePolling bool

	mu          sync.Mutex
	lastTrigger time.Time
	seen        map[string]struct{}

	restartMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService constructs a Service. debounce falls back to 5s when
// non-positive.
func NewService(dir string, runtime domain.TaskRuntime, resolver domain.SystemUserResolver, debounce time.Duration, forcePolling bool) *Service {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Service{
		dir:          dir,
		runtime:      runtime,
		resolver:     resolver,
		debounce:     debounce,
		pollInterval: defaultPollInterval,
		forcePolling: forcePolling,
		seen:         make(map[string]struct{}),
	}
}

// Start begins watching s.dir in the background and triggers an initial
// scan immediately, bypassing debounce, so files already present when the
// process starts are picked up (ingest_watcher_service.py
// start_watching's "Triggering initial scan for existing files").
func (s *Service) Start(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("op=watcher.Start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if !s.forcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return fmt.Errorf("op=watcher.Start: %w", err)
		}
		if err := fsw.Add(s.dir); err != nil {
			fsw.Close()
			cancel()
			return fmt.Errorf("op=watcher.Start: %w", err)
		}
		s.wg.Add(1)
		go s.watchLoop(runCtx, fsw)
	}

	s.wg.Add(1)
	go s.pollLoop(runCtx)

	slog.InfoContext(ctx, "watcher started", slog.String("dir", s.dir), slog.Bool("force_polling", s.forcePolling))
	s.triggerDiscovery(ctx, true)
	return nil
}

// Stop cancels both loops and waits for them to exit. Safe to call on a
// Service that was never started or already stopped.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

// Restart stops and restarts the watcher. A restart already in flight
// causes a concurrent call to return immediately rather than block or
// stack (§5 "re-entrant restart lock with TryAcquire"), matching
// ingest_watcher_service.py's non-blocking restart_lock.acquire.
func (s *Service) Restart(ctx context.Context) error {
	if !s.restartMu.TryLock() {
		slog.DebugContext(ctx, "watcher restart already in progress, skipping duplicate restart")
		return nil
	}
	defer s.restartMu.Unlock()

	s.Stop()
	time.Sleep(500 * time.Millisecond)
	return s.Start(ctx)
}

func (s *Service) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer s.wg.Done()
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil || info.IsDir() {
				continue
			}
			slog.DebugContext(ctx, "watcher detected file change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			s.triggerDiscovery(ctx, false)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.ErrorContext(ctx, "watcher error", slog.Any("error", err))
		}
	}
}

// pollLoop is the network-mount fallback, since inotify never sees
// changes on NFS/SMB: periodically diff the directory listing against
// the previous scan (ingest_watcher_service.py _poll_loop).
func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.DebugContext(ctx, "watcher poll scan failed", slog.Any("error", err))
		return
	}

	current := make(map[string]struct{}, len(entries))
	newFiles := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := filepath.Join(s.dir, e.Name())
		current[name] = struct{}{}
		if _, ok := s.seen[name]; !ok {
			newFiles++
		}
	}
	s.seen = current

	if newFiles > 0 {
		slog.InfoContext(ctx, "watcher poll detected new files", slog.Int("count", newFiles))
		s.triggerDiscovery(ctx, false)
	}
}

// shouldTrigger applies the debounce window (§5); bypass is used for the
// initial scan on Start, which must always fire.
func (s *Service) shouldTrigger(bypass bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bypass {
		s.lastTrigger = time.Now()
		return true
	}
	now := time.Now()
	if now.Sub(s.lastTrigger) >= s.debounce {
		s.lastTrigger = now
		return true
	}
	return false
}

func (s *Service) triggerDiscovery(ctx context.Context, bypassDebounce bool) {
	if !s.shouldTrigger(bypassDebounce) {
		slog.DebugContext(ctx, "watcher discovery trigger skipped, debounced")
		return
	}
	if _, err := s.enqueueDiscovery(ctx); err != nil {
		slog.ErrorContext(ctx, "watcher failed to trigger discovery task", slog.Any("error", err))
	}
}

// TriggerManualScan enqueues an ingest_discovery task immediately,
// bypassing the debounce window (ingest_watcher_service.py
// trigger_manual_scan), returning the new task's id.
func (s *Service) TriggerManualScan(ctx context.Context) (int64, error) {
	return s.enqueueDiscovery(ctx)
}

func (s *Service) enqueueDiscovery(ctx context.Context) (int64, error) {
	user, err := s.resolver.ResolveSystemUser(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=watcher.enqueueDiscovery: %w", err)
	}
	taskID, err := s.runtime.Enqueue(ctx, domain.TaskTypeIngestDiscovery, map[string]any{}, user.ID,
		map[string]any{"task_type": string(domain.TaskTypeIngestDiscovery)})
	if err != nil {
		return 0, fmt.Errorf("op=watcher.enqueueDiscovery: %w", err)
	}
	slog.InfoContext(ctx, "watcher triggered ingest discovery task", slog.Int64("task_id", taskID))
	return taskID, nil
}
