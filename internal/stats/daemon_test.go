package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/gradeflow/internal/cache"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/provider"
)

func testProvider() *provider.MemoryProvider {
	p := provider.NewMemoryProvider()
	p.AddStudent(model.Student{ID: "s1", Name: "Ada", Year: 2})
	p.AddStudent(model.Student{ID: "s2", Name: "Ben", Year: 3})
	p.AddGrade(model.Grade{ID: "g1", StudentID: "s1", Course: "Mathematics", Score: 92, RecordedAt: time.Now()})
	p.AddGrade(model.Grade{ID: "g2", StudentID: "s1", Course: "Physics", Score: 78, RecordedAt: time.Now()})
	p.AddGrade(model.Grade{ID: "g3", StudentID: "s2", Course: "Mathematics", Score: 55, RecordedAt: time.Now()})
	return p
}

func newTestDaemon(t *testing.T, interval time.Duration) *Daemon {
	t.Helper()
	p := testProvider()
	c := cache.NewAggregateCache(p, zaptest.NewLogger(t))
	return NewDaemon(p, c, zaptest.NewLogger(t), Config{Interval: interval})
}

func TestStartPublishesSnapshotSynchronously(t *testing.T) {
	d := newTestDaemon(t, 30*time.Second)
	require.NoError(t, d.Start())
	defer d.Stop()

	snap := d.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.StudentCount)
	assert.Equal(t, 3, snap.GradeCount)
	assert.InDelta(t, 75.0, snap.MeanScore, 0.001)
	assert.InDelta(t, 78.0, snap.MedianScore, 0.001)
	assert.Equal(t, 1, snap.Histogram[model.GradeBandA])
	assert.Equal(t, 1, snap.Histogram[model.GradeBandC])
	assert.Equal(t, 1, snap.Histogram[model.GradeBandF])
	assert.Equal(t, 3, snap.RecentGrades)
	assert.Empty(t, snap.Error)
	require.Len(t, snap.TopPerformers, 2)
	assert.Equal(t, "s1", snap.TopPerformers[0].StudentID)

	assert.Equal(t, StateRunning, d.CurrentState())
}

func TestStartIsIdempotent(t *testing.T) {
	d := newTestDaemon(t, 30*time.Second)
	require.NoError(t, d.Start())
	defer d.Stop()

	first := d.Snapshot()
	require.NoError(t, d.Start())
	assert.Same(t, first, d.Snapshot())
}

func TestPauseSuspendsPublishing(t *testing.T) {
	d := newTestDaemon(t, 50*time.Millisecond)
	require.NoError(t, d.Start())
	defer d.Stop()

	d.Pause()
	assert.Equal(t, StatePaused, d.CurrentState())

	// Let any recompute triggered before the pause land first.
	time.Sleep(150 * time.Millisecond)
	before := d.Snapshot().GeneratedAt

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, before, d.Snapshot().GeneratedAt, "no snapshot may be published while paused")

	// A manual refresh works even while paused.
	d.RefreshNow()
	require.Eventually(t, func() bool {
		return d.Snapshot().GeneratedAt.After(before)
	}, time.Second, 10*time.Millisecond)

	d.Resume()
	assert.Equal(t, StateRunning, d.CurrentState())

	refreshed := d.Snapshot().GeneratedAt
	require.Eventually(t, func() bool {
		return d.Snapshot().GeneratedAt.After(refreshed)
	}, time.Second, 10*time.Millisecond)
}

func TestStopHaltsUpdates(t *testing.T) {
	d := newTestDaemon(t, 50*time.Millisecond)
	require.NoError(t, d.Start())

	d.Stop()
	assert.Equal(t, StateStopped, d.CurrentState())

	before := d.Snapshot().GeneratedAt
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, d.Snapshot().GeneratedAt)

	// Stop is idempotent
	d.Stop()
}

func TestSetIntervalBounds(t *testing.T) {
	d := newTestDaemon(t, 0)

	assert.ErrorIs(t, d.SetInterval(500*time.Millisecond), ErrInvalidInterval)
	assert.ErrorIs(t, d.SetInterval(61*time.Second), ErrInvalidInterval)
	assert.NoError(t, d.SetInterval(time.Second))
	assert.NoError(t, d.SetInterval(60*time.Second))
}

// gatedProvider blocks reads until released, honoring the read context
type gatedProvider struct {
	*provider.MemoryProvider
	gate chan struct{}
}

func (p *gatedProvider) ListStudents(ctx context.Context) ([]model.Student, error) {
	select {
	case <-p.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.MemoryProvider.ListStudents(ctx)
}

func TestStartDoesNotBlockLifecycleCalls(t *testing.T) {
	p := &gatedProvider{MemoryProvider: testProvider(), gate: make(chan struct{})}
	d := NewDaemon(p, nil, zaptest.NewLogger(t), Config{Interval: 30 * time.Second})

	started := make(chan struct{})
	go func() {
		defer close(started)
		assert.NoError(t, d.Start())
	}()

	// State reads must answer while the startup recomputation is still
	// waiting on the provider.
	require.Eventually(t, func() bool {
		return d.CurrentState() == StateRunning
	}, time.Second, 20*time.Millisecond)

	close(p.gate)
	<-started
	defer d.Stop()

	require.NotNil(t, d.Snapshot())
	assert.Equal(t, 2, d.Snapshot().StudentCount)
}

// failingProvider errors on every read
type failingProvider struct{}

func (failingProvider) ListStudents(ctx context.Context) ([]model.Student, error) {
	return nil, errors.New("provider offline")
}

func (failingProvider) FindStudent(ctx context.Context, id string) (model.Student, error) {
	return model.Student{}, errors.New("provider offline")
}

func (failingProvider) GradesFor(ctx context.Context, id string) ([]model.Grade, error) {
	return nil, errors.New("provider offline")
}

func TestRecomputeErrorPublishesErrorSnapshot(t *testing.T) {
	d := NewDaemon(failingProvider{}, nil, zaptest.NewLogger(t), Config{Interval: 30 * time.Second})
	require.NoError(t, d.Start())
	defer d.Stop()

	snap := d.Snapshot()
	require.NotNil(t, snap, "even a failed first recompute must publish a snapshot")
	assert.Contains(t, snap.Error, "provider offline")
	assert.False(t, snap.GeneratedAt.IsZero())
}
