// Package scheduler drives the two background operations the engine
// needs outside of an interactive invocation: a periodic purge pass
// over DELETED catalog entries (spec.md §3.3, §4.13), and reacting to
// newly-landed WAL segments in the archive staging directory for
// ARCHIVE-mode backups. Structured like the teacher's TaskRunner:
// Start/Stop/Upsert/RunNow over a mutex-guarded map of per-task state.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"pgrman/internal/logging"
)

// TaskType distinguishes the scheduler's two kinds of background work.
type TaskType string

const (
	TaskTypePurge        TaskType = "purge"
	TaskTypeArchiveWatch TaskType = "archive_watch"
)

// PurgeFunc removes DELETED catalog entries (catalog.Catalog.Purge).
type PurgeFunc func(ctx context.Context) error

// ArchiveBackupFunc runs one ARCHIVE-mode backup pass.
type ArchiveBackupFunc func(ctx context.Context) error

// Task configures one scheduled or watched operation.
type Task struct {
	ID      string
	Type    TaskType
	Enabled bool

	// CronExpr drives TaskTypePurge.
	CronExpr string

	// WatchPath and DebounceMs drive TaskTypeArchiveWatch.
	WatchPath  string
	DebounceMs int
}

type taskState struct {
	task Task

	cronEntry cron.EntryID

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	debounce  *time.Timer

	running bool
	pending bool
}

// Scheduler owns the cron loop and any active fsnotify watchers.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*taskState

	purge         PurgeFunc
	archiveBackup ArchiveBackupFunc

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New builds a Scheduler. Either callback may be nil if the
// corresponding task type is never used.
func New(purge PurgeFunc, archiveBackup ArchiveBackupFunc) *Scheduler {
	return &Scheduler{
		tasks:         make(map[string]*taskState),
		purge:         purge,
		archiveBackup: archiveBackup,
		cron:          cron.New(),
	}
}

// Start begins the cron loop and applies every currently-registered task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.cron.Start()

	for id := range s.tasks {
		_ = s.applyTaskLocked(id)
	}
}

// Stop cancels the background context, stops cron, and closes every
// active watcher.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	for id := range s.tasks {
		s.stopTaskLocked(id)
	}
	s.started = false
}

// Upsert registers or replaces a task's configuration, applying it
// immediately if the scheduler is already started.
func (s *Scheduler) Upsert(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[task.ID]
	if !ok {
		st = &taskState{task: task}
		s.tasks[task.ID] = st
	} else {
		st.task = task
	}

	if s.started {
		return s.applyTaskLocked(task.ID)
	}
	return nil
}

// Remove stops and forgets a task.
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTaskLocked(taskID)
	delete(s.tasks, taskID)
}

// RunNow executes a task immediately, out of band from its schedule.
func (s *Scheduler) RunNow(taskID string) {
	s.runTask(taskID)
}

func (s *Scheduler) applyTaskLocked(taskID string) error {
	st, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	s.stopTaskLocked(taskID)
	if !st.task.Enabled {
		return nil
	}

	switch st.task.Type {
	case TaskTypePurge:
		entryID, err := s.cron.AddFunc(st.task.Config(), func() {
			s.runTask(taskID)
		})
		if err != nil {
			return err
		}
		st.cronEntry = entryID
	case TaskTypeArchiveWatch:
		if err := s.startWatchLocked(taskID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("scheduler: unsupported task type %q", st.task.Type)
	}
	return nil
}

// Config resolves the cron expression a purge task runs on.
func (t Task) Config() string { return t.CronExpr }

func (s *Scheduler) stopTaskLocked(taskID string) {
	st, ok := s.tasks[taskID]
	if !ok {
		return
	}
	if st.cronEntry != 0 {
		s.cron.Remove(st.cronEntry)
		st.cronEntry = 0
	}
	if st.debounce != nil {
		st.debounce.Stop()
		st.debounce = nil
	}
	if st.watcher != nil {
		close(st.watchDone)
		_ = st.watcher.Close()
		st.watcher = nil
	}
}

func (s *Scheduler) startWatchLocked(taskID string) error {
	st, ok := s.tasks[taskID]
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scheduler: open watcher: %w", err)
	}
	if err := watcher.Add(st.task.WatchPath); err != nil {
		watcher.Close()
		return fmt.Errorf("scheduler: watch %s: %w", st.task.WatchPath, err)
	}

	st.watcher = watcher
	st.watchDone = make(chan struct{})

	debounce := time.Duration(st.task.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	log := logging.For("scheduler")
	go func() {
		for {
			select {
			case <-st.watchDone:
				return
			case <-s.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !looksLikeWALSegment(event.Name) {
					continue
				}
				s.requestRun(taskID, debounce)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(werr).Str("task", taskID).Msg("archive watcher error")
			}
		}
	}()

	return nil
}

func looksLikeWALSegment(name string) bool {
	base := filepath.Base(name)
	if len(base) != 24 {
		return false
	}
	for _, r := range base {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func (s *Scheduler) requestRun(taskID string, debounce time.Duration) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok || !st.task.Enabled {
		s.mu.Unlock()
		return
	}
	if st.debounce != nil {
		st.debounce.Stop()
	}
	st.debounce = time.AfterFunc(debounce, func() {
		s.runTask(taskID)
	})
	s.mu.Unlock()
}

func (s *Scheduler) runTask(taskID string) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok || !st.task.Enabled {
		s.mu.Unlock()
		return
	}
	if st.running {
		st.pending = true
		s.mu.Unlock()
		return
	}
	st.running = true
	taskCopy := st.task
	ctx := s.ctx
	s.mu.Unlock()

	log := logging.For("scheduler")
	var err error
	switch taskCopy.Type {
	case TaskTypePurge:
		if s.purge != nil {
			err = s.purge(ctx)
		}
	case TaskTypeArchiveWatch:
		if s.archiveBackup != nil {
			err = s.archiveBackup(ctx)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("task", taskCopy.ID).Msg("scheduled task failed")
	}

	s.mu.Lock()
	st.running = false
	rerun := st.pending
	st.pending = false
	s.mu.Unlock()

	if rerun {
		s.runTask(taskID)
	}
}
