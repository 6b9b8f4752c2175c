package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/monitor"
	"github.com/t77yq/gradeflow/internal/storage"
)

// defaultMaxFirings bounds concurrently running firings across all armed
// tasks; a firing past the bound queues. Overlapping firings of the same
// task are permitted (fixed-rate semantics).
const defaultMaxFirings = 3

// Config defines configuration for the recurring scheduler
type Config struct {
	// MaxConcurrentFirings bounds in-flight firings. Zero means 3.
	MaxConcurrentFirings int

	// LogPath is the optional append-only execution log file
	LogPath string
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// RecurringScheduler runs named jobs on daily, hourly, or weekly
// cadences. The task collection is persisted wholesale on every mutation
// and firing; persistence failures degrade the scheduler to
// in-memory-only operation rather than failing calls.
type RecurringScheduler struct {
	logger   *zap.Logger
	cron     *cron.Cron
	store    storage.ScheduleStore
	runner   *JobRunner
	notifier *monitor.Publisher
	log      *ExecutionLog
	sink     *FileLogSink

	mu      sync.RWMutex
	tasks   map[string]*model.ScheduledTask
	entries map[string]cron.EntryID

	// sem bounds concurrent firings across all armed tasks
	sem chan struct{}
}

// NewRecurringScheduler creates a scheduler, loads persisted tasks,
// re-arms every still-active one, and starts the timer service.
func NewRecurringScheduler(store storage.ScheduleStore, runner *JobRunner, notifier *monitor.Publisher, logger *zap.Logger, cfg Config) (*RecurringScheduler, error) {
	maxFirings := cfg.MaxConcurrentFirings
	if maxFirings <= 0 {
		maxFirings = defaultMaxFirings
	}

	named := logger.Named("recurring-scheduler")
	s := &RecurringScheduler{
		logger: named,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
		),
		store:    store,
		runner:   runner,
		notifier: notifier,
		log:      NewExecutionLog(maxLogEntries),
		tasks:    make(map[string]*model.ScheduledTask),
		entries:  make(map[string]cron.EntryID),
		sem:      make(chan struct{}, maxFirings),
	}

	if cfg.LogPath != "" {
		sink, err := NewFileLogSink(cfg.LogPath, named)
		if err != nil {
			return nil, err
		}
		s.sink = sink
	}

	s.restore()
	s.cron.Start()

	return s, nil
}

// restore loads the persisted collection and re-arms active tasks. Load
// failures are swallowed; the scheduler starts with zero tasks.
func (s *RecurringScheduler) restore() {
	tasks, err := s.store.LoadAll(context.Background())
	if err != nil {
		s.logger.Warn("Failed to load persisted tasks, starting empty", zap.Error(err))
		return
	}

	now := time.Now()
	armed := 0
	for _, task := range tasks {
		s.tasks[task.ID] = task
		if !task.Active {
			continue
		}

		if err := s.arm(task); err != nil {
			s.logger.Error("Failed to re-arm task",
				zap.String("task_id", task.ID),
				zap.String("name", task.Name),
				zap.Error(err))
			continue
		}

		next, err := nextRun(task, now)
		if err == nil {
			task.NextRunAt = &next
		}
		armed++
	}

	s.logger.Info("Restored persisted tasks",
		zap.Int("total", len(tasks)),
		zap.Int("armed", armed))
}

// ScheduleTask validates, arms, and persists a new recurring task
func (s *RecurringScheduler) ScheduleTask(ctx context.Context, task *model.ScheduledTask) (*model.ScheduledTask, error) {
	if err := validate(task); err != nil {
		return nil, err
	}
	if !s.runner.Knows(task.Name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, task.Name)
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = time.Now()
	task.Active = true

	s.mu.Lock()
	if err := s.arm(task); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	next, err := nextRun(task, time.Now())
	if err == nil {
		task.NextRunAt = &next
	}
	// The map holds its own copy; the caller's pointer never aliases a
	// task that firings mutate.
	s.tasks[task.ID] = cloneTask(task)
	s.mu.Unlock()

	s.persist(ctx)

	s.logger.Info("Task scheduled",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("kind", string(task.Kind)),
		zap.Timep("next_run", task.NextRunAt))

	return task, nil
}

// CancelTask cancels the task's timer without interrupting an in-flight
// firing. Unknown ids return false and perform no persistence write. The
// task is retained, inactive, for audit.
func (s *RecurringScheduler) CancelTask(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || !task.Active {
		s.mu.Unlock()
		return false
	}

	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
	task.Active = false
	task.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.persist(ctx)

	s.logger.Info("Task canceled", zap.String("task_id", taskID))
	return true
}

// ActiveTasks returns the active tasks ordered by creation time
func (s *RecurringScheduler) ActiveTasks() []*model.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*model.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Active {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// ExecutionLogs returns the retained firing history, oldest first
func (s *RecurringScheduler) ExecutionLogs() []model.ExecutionLogEntry {
	return s.log.Entries()
}

// Shutdown stops the timer service, waits for in-flight firings, and
// persists the task collection one last time
func (s *RecurringScheduler) Shutdown() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.persist(context.Background())

	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("Failed to close log sink", zap.Error(err))
		}
	}

	s.logger.Info("Scheduler shut down")
}

// arm registers the task with the timer service. Caller holds s.mu (or
// has exclusive access during construction).
func (s *RecurringScheduler) arm(task *model.ScheduledTask) error {
	entryID, err := s.cron.AddFunc(task.CronExpression(), func() {
		s.fire(task.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to arm task: %w", err)
	}

	// Re-arming an existing ID replaces its timer rather than leaking it
	if old, ok := s.entries[task.ID]; ok {
		s.cron.Remove(old)
	}
	s.entries[task.ID] = entryID
	return nil
}

// fire acquires a firing slot and executes the task. Acquisition blocks
// when the bound is reached, queueing the firing.
func (s *RecurringScheduler) fire(taskID string) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	s.executeTask(context.Background(), task)
}

// executeTask runs one firing: job body dispatch, duration capture, log
// append, optional sink line and notification, task mutation, persist.
// Failures downgrade the firing to Failed and leave the task armed.
func (s *RecurringScheduler) executeTask(ctx context.Context, task *model.ScheduledTask) {
	start := time.Now()

	s.logger.Info("Task firing started",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("status", string(model.ExecutionStatusRunning)))

	err := s.runJobBody(ctx, task)
	duration := time.Since(start)

	entry := model.ExecutionLogEntry{
		TaskID:    task.ID,
		TaskName:  task.Name,
		Timestamp: start,
		Status:    model.ExecutionStatusSuccess,
		Duration:  duration,
	}
	if err != nil {
		entry.Status = model.ExecutionStatusFailed
		entry.ErrorMessage = err.Error()
		s.logger.Error("Task firing failed",
			zap.String("task_id", task.ID),
			zap.String("name", task.Name),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		s.logger.Info("Task firing succeeded",
			zap.String("task_id", task.ID),
			zap.String("name", task.Name),
			zap.Duration("duration", duration))
	}

	// lastRunAt/nextRunAt are updated before the next delay is observed
	// by anyone reading the task.
	s.mu.Lock()
	task.LastRunAt = &start
	if next, nerr := nextRun(task, time.Now()); nerr == nil {
		task.NextRunAt = &next
	}
	task.UpdatedAt = time.Now()
	s.mu.Unlock()

	// The log entry is appended before the notification side effect.
	s.log.Append(entry)
	if task.LogToFile && s.sink != nil {
		s.sink.Append(entry)
	}
	if task.NotifyOnComplete {
		s.notifier.NotifyTaskComplete(entry)
	}

	s.persist(ctx)
}

// runJobBody isolates the job body: a panic inside it is downgraded to
// an error and never unseats the timer.
func (s *RecurringScheduler) runJobBody(ctx context.Context, task *model.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx, task)
}

// persist writes the full task collection. The tasks are copied under
// the lock so the store never reads fields a concurrent firing is
// mutating. Errors are logged and swallowed; the scheduler keeps
// operating from memory.
func (s *RecurringScheduler) persist(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*model.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, cloneTask(t))
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	if err := s.store.SaveAll(ctx, tasks); err != nil {
		s.logger.Warn("Failed to persist task collection", zap.Error(err))
	}
}

// cloneTask copies a task, including its timestamp pointers, so readers
// and the persistence sink never share memory with a task a concurrent
// firing mutates
func cloneTask(t *model.ScheduledTask) *model.ScheduledTask {
	c := *t
	if t.LastRunAt != nil {
		lastRun := *t.LastRunAt
		c.LastRunAt = &lastRun
	}
	if t.NextRunAt != nil {
		nextRun := *t.NextRunAt
		c.NextRunAt = &nextRun
	}
	return &c
}

// validate checks cadence and anchor bounds
func validate(task *model.ScheduledTask) error {
	switch task.Kind {
	case model.ScheduleDaily, model.ScheduleHourly, model.ScheduleWeekly:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidSchedule, task.Kind)
	}
	if task.AnchorHour < 0 || task.AnchorHour > 23 {
		return fmt.Errorf("%w: anchor hour %d", ErrInvalidSchedule, task.AnchorHour)
	}
	if task.AnchorMinute < 0 || task.AnchorMinute > 59 {
		return fmt.Errorf("%w: anchor minute %d", ErrInvalidSchedule, task.AnchorMinute)
	}
	return nil
}

// nextRun computes the earliest future instant consistent with the
// task's cadence and anchor
func nextRun(task *model.ScheduledTask, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := parser.Parse(task.CronExpression())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return spec.Next(from), nil
}
