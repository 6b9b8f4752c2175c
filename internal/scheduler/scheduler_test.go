package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/gradeflow/internal/cache"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/provider"
	"github.com/t77yq/gradeflow/internal/storage"
)

// memStore is an in-memory ScheduleStore that counts writes
type memStore struct {
	mu      sync.Mutex
	tasks   []*model.ScheduledTask
	saves   int
	loadErr error
}

func (m *memStore) SaveAll(ctx context.Context, tasks []*model.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append([]*model.ScheduledTask(nil), tasks...)
	m.saves++
	return nil
}

func (m *memStore) LoadAll(ctx context.Context) ([]*model.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]*model.ScheduledTask(nil), m.tasks...), nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// discardExporter accepts every write
type discardExporter struct{}

func (discardExporter) Write(data []byte, name string) (string, error) {
	return name, nil
}

func newTestRunner(t *testing.T) *JobRunner {
	t.Helper()

	p := provider.NewMemoryProvider()
	p.Seed(4, 3)
	logger := zaptest.NewLogger(t)

	return NewJobRunner(p, cache.NewAggregateCache(p, logger), discardExporter{}, nil, logger, RunnerConfig{
		BackupDir: t.TempDir(),
	})
}

func newTestScheduler(t *testing.T, store storage.ScheduleStore) *RecurringScheduler {
	t.Helper()

	s, err := NewRecurringScheduler(store, newTestRunner(t), nil, zaptest.NewLogger(t), Config{})
	require.NoError(t, err)
	return s
}

func TestNextRunDailyAnchorMidnight(t *testing.T) {
	task := &model.ScheduledTask{Kind: model.ScheduleDaily, AnchorHour: 0, AnchorMinute: 0}
	from := time.Date(2026, 1, 2, 23, 0, 0, 0, time.Local)

	next, err := nextRun(task, from)
	require.NoError(t, err)

	// One hour before the anchor, the next firing is within the hour,
	// not a full day away.
	assert.Equal(t, time.Date(2026, 1, 3, 0, 0, 0, 0, time.Local), next)
	assert.LessOrEqual(t, next.Sub(from), time.Hour)
}

func TestNextRunCadences(t *testing.T) {
	from := time.Date(2026, 1, 2, 10, 30, 0, 0, time.Local) // a Friday

	tests := []struct {
		name string
		task *model.ScheduledTask
		want time.Time
	}{
		{
			"HourlyPastAnchor",
			&model.ScheduledTask{Kind: model.ScheduleHourly, AnchorMinute: 15},
			time.Date(2026, 1, 2, 11, 15, 0, 0, time.Local),
		},
		{
			"HourlyBeforeAnchor",
			&model.ScheduledTask{Kind: model.ScheduleHourly, AnchorMinute: 45},
			time.Date(2026, 1, 2, 10, 45, 0, 0, time.Local),
		},
		{
			"DailyLaterToday",
			&model.ScheduledTask{Kind: model.ScheduleDaily, AnchorHour: 22, AnchorMinute: 5},
			time.Date(2026, 1, 2, 22, 5, 0, 0, time.Local),
		},
		{
			"WeeklyOnSunday",
			&model.ScheduledTask{Kind: model.ScheduleWeekly, AnchorHour: 3, AnchorMinute: 0},
			time.Date(2026, 1, 4, 3, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := nextRun(tt.task, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestScheduleTaskValidation(t *testing.T) {
	store := &memStore{}
	s := newTestScheduler(t, store)
	defer s.Shutdown()

	tests := []struct {
		name string
		task *model.ScheduledTask
		want error
	}{
		{"BadKind", &model.ScheduledTask{Name: JobBackup, Kind: "fortnightly"}, ErrInvalidSchedule},
		{"BadHour", &model.ScheduledTask{Name: JobBackup, Kind: model.ScheduleDaily, AnchorHour: 24}, ErrInvalidSchedule},
		{"BadMinute", &model.ScheduledTask{Name: JobBackup, Kind: model.ScheduleDaily, AnchorMinute: 60}, ErrInvalidSchedule},
		{"UnknownJob", &model.ScheduledTask{Name: "mystery", Kind: model.ScheduleDaily}, ErrUnknownJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ScheduleTask(context.Background(), tt.task)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Zero(t, store.saveCount(), "rejected tasks must not be persisted")
}

func TestScheduleAndCancel(t *testing.T) {
	store := &memStore{}
	s := newTestScheduler(t, store)
	defer s.Shutdown()

	ctx := context.Background()
	task, err := s.ScheduleTask(ctx, &model.ScheduledTask{
		Name:         JobGPARecompute,
		Kind:         model.ScheduleDaily,
		AnchorHour:   2,
		AnchorMinute: 30,
		WorkerCount:  4,
	})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.True(t, task.Active)
	require.NotNil(t, task.NextRunAt)
	assert.True(t, task.NextRunAt.After(time.Now()))
	assert.Equal(t, 1, store.saveCount())
	assert.Len(t, s.ActiveTasks(), 1)

	// Unknown ids return false and write nothing
	assert.False(t, s.CancelTask(ctx, "no-such-task"))
	assert.Equal(t, 1, store.saveCount())

	// Cancellation deactivates, persists, and retains the task for audit
	assert.True(t, s.CancelTask(ctx, task.ID))
	assert.Equal(t, 2, store.saveCount())
	assert.Empty(t, s.ActiveTasks())

	require.Len(t, store.tasks, 1)
	assert.False(t, store.tasks[0].Active)

	// Cancelling twice is a no-op
	assert.False(t, s.CancelTask(ctx, task.ID))
	assert.Equal(t, 2, store.saveCount())
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	store := &memStore{loadErr: errors.New("disk on fire")}
	s := newTestScheduler(t, store)
	defer s.Shutdown()

	assert.Empty(t, s.ActiveTasks())

	// The scheduler still accepts new work in-memory
	_, err := s.ScheduleTask(context.Background(), &model.ScheduledTask{
		Name: JobCacheRefresh,
		Kind: model.ScheduleHourly,
	})
	require.NoError(t, err)
	assert.Len(t, s.ActiveTasks(), 1)
}

func TestExecuteTaskRecordsOutcome(t *testing.T) {
	store := &memStore{}
	s := newTestScheduler(t, store)
	defer s.Shutdown()

	ctx := context.Background()

	good := &model.ScheduledTask{ID: "t-good", Name: JobCacheRefresh, Kind: model.ScheduleHourly, CreatedAt: time.Now()}
	s.tasks[good.ID] = good
	s.executeTask(ctx, good)

	bad := &model.ScheduledTask{ID: "t-bad", Name: "mystery", Kind: model.ScheduleHourly, CreatedAt: time.Now()}
	s.tasks[bad.ID] = bad
	s.executeTask(ctx, bad)

	logs := s.ExecutionLogs()
	require.Len(t, logs, 2)

	assert.Equal(t, model.ExecutionStatusSuccess, logs[0].Status)
	assert.Equal(t, "t-good", logs[0].TaskID)
	assert.Empty(t, logs[0].ErrorMessage)
	require.NotNil(t, good.LastRunAt)
	require.NotNil(t, good.NextRunAt)
	assert.True(t, good.NextRunAt.After(*good.LastRunAt))

	assert.Equal(t, model.ExecutionStatusFailed, logs[1].Status)
	assert.Contains(t, logs[1].ErrorMessage, "unknown job")

	// A failed firing leaves the task in place for its next firing
	assert.Contains(t, s.tasks, "t-bad")
}

func TestRescheduleReplacesTimer(t *testing.T) {
	store := &memStore{}
	s := newTestScheduler(t, store)
	defer s.Shutdown()

	ctx := context.Background()
	task, err := s.ScheduleTask(ctx, &model.ScheduledTask{
		Name: JobBackup, Kind: model.ScheduleDaily, AnchorHour: 1,
	})
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 1)

	// Re-scheduling the same ID swaps the timer instead of stacking a
	// second one
	_, err = s.ScheduleTask(ctx, &model.ScheduledTask{
		ID: task.ID, Name: JobBackup, Kind: model.ScheduleDaily, AnchorHour: 5,
	})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
	assert.Len(t, s.ActiveTasks(), 1)

	// The replacement timer is still cancellable
	require.True(t, s.CancelTask(ctx, task.ID))
	assert.Empty(t, s.cron.Entries())
}

func TestConcurrentFiringsPersistSafely(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store, err := storage.NewSQLiteScheduleStore(logger, filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	defer store.Close()

	s, err := NewRecurringScheduler(store, newTestRunner(t), nil, logger, Config{})
	require.NoError(t, err)
	defer s.Shutdown()

	ctx := context.Background()
	a, err := s.ScheduleTask(ctx, &model.ScheduledTask{
		Name: JobCacheRefresh, Kind: model.ScheduleHourly,
	})
	require.NoError(t, err)
	b, err := s.ScheduleTask(ctx, &model.ScheduledTask{
		Name: JobCacheRefresh, Kind: model.ScheduleHourly, AnchorMinute: 30,
	})
	require.NoError(t, err)

	// Overlapping firings of both tasks mutate their tasks while each
	// firing persists the whole collection.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, id := range []string{a.ID, b.ID} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.mu.RLock()
				task := s.tasks[id]
				s.mu.RUnlock()
				s.executeTask(context.Background(), task)
			}(id)
		}
	}
	wg.Wait()

	// Contending writes may lose to each other; settle the final state
	// with one more write before inspecting the store.
	s.persist(ctx)

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for _, task := range loaded {
		assert.True(t, task.Active)
		require.NotNil(t, task.LastRunAt)
		require.NotNil(t, task.NextRunAt)
	}
	assert.Len(t, s.ExecutionLogs(), 20)
}

func TestRoundTripReArmsActiveTasks(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store, err := storage.NewSQLiteScheduleStore(logger, filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	defer store.Close()

	s1, err := NewRecurringScheduler(store, newTestRunner(t), nil, logger, Config{})
	require.NoError(t, err)

	ctx := context.Background()
	kept, err := s1.ScheduleTask(ctx, &model.ScheduledTask{
		Name: JobBatchReports, Kind: model.ScheduleDaily, AnchorHour: 1, WorkerCount: 4,
	})
	require.NoError(t, err)

	dropped, err := s1.ScheduleTask(ctx, &model.ScheduledTask{
		Name: JobBackup, Kind: model.ScheduleWeekly, AnchorHour: 4,
	})
	require.NoError(t, err)
	require.True(t, s1.CancelTask(ctx, dropped.ID))

	s1.Shutdown()

	// Simulated restart from the same store
	s2, err := NewRecurringScheduler(store, newTestRunner(t), nil, logger, Config{})
	require.NoError(t, err)
	defer s2.Shutdown()

	active := s2.ActiveTasks()
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)
	require.NotNil(t, active[0].NextRunAt)
	assert.False(t, active[0].NextRunAt.Before(time.Now().Add(-time.Second)))
}
