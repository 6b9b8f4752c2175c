package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/t77yq/gradeflow/internal/model"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"Empty", nil, 0},
		{"Single", []float64{42}, 42},
		{"Odd", []float64{3, 1, 2}, 2},
		{"Even", []float64{4, 1, 3, 2}, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, median(tt.values))
		})
	}
}

func TestStdDevIsPopulation(t *testing.T) {
	// Known population: mean 5, population stddev 2
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, stdDev(values), 0.0001)
	assert.Equal(t, 0.0, stdDev(nil))
}

func TestTopPerformers(t *testing.T) {
	performers := []model.PerformerStat{
		{StudentID: "s1", Average: 71},
		{StudentID: "s2", Average: 95},
		{StudentID: "s3", Average: 84},
		{StudentID: "s4", Average: 84},
	}

	top := topPerformers(performers, 3)

	assert.Len(t, top, 3)
	assert.Equal(t, "s2", top[0].StudentID)
	// Ties break on student ID for a stable ordering
	assert.Equal(t, "s3", top[1].StudentID)
	assert.Equal(t, "s4", top[2].StudentID)

	// Input order is untouched
	assert.Equal(t, "s1", performers[0].StudentID)
}

func TestRecentTrackerCountsNewGrades(t *testing.T) {
	tracker := newRecentTracker(5 * time.Minute)
	now := time.Now()

	assert.Equal(t, 2, tracker.observe([]string{"g1", "g2"}, now))

	// Re-observing the same grades adds nothing
	assert.Equal(t, 2, tracker.observe([]string{"g1", "g2"}, now.Add(time.Minute)))

	// A new grade bumps the count
	assert.Equal(t, 3, tracker.observe([]string{"g1", "g2", "g3"}, now.Add(2*time.Minute)))

	// Past the window the originals drop out of the count
	assert.Equal(t, 1, tracker.observe([]string{"g1", "g2", "g3"}, now.Add(6*time.Minute)))

	// A grade that aged out while still present is never re-counted as new
	assert.Equal(t, 0, tracker.observe([]string{"g1", "g2", "g3"}, now.Add(20*time.Minute)))
}

func TestRecentTrackerPrunesRemovedGrades(t *testing.T) {
	tracker := newRecentTracker(5 * time.Minute)
	now := time.Now()

	tracker.observe([]string{"g1"}, now)
	tracker.observe(nil, now.Add(10*time.Minute))

	assert.NotContains(t, tracker.firstSeen, "g1")
}
