package stats

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/t77yq/gradeflow/internal/model"
)

// compute performs one full recomputation over an immutable read of the
// data provider. Pure computation; the only shared state it touches is
// the recent-grade tracker, which is owned by the daemon loop.
func (d *Daemon) compute(ctx context.Context) (*model.StatsSnapshot, error) {
	students, err := d.provider.ListStudents(ctx)
	if err != nil {
		return nil, err
	}

	var scores []float64
	var gradeIDs []string
	histogram := make(map[model.GradeBand]int)
	performers := make([]model.PerformerStat, 0, len(students))
	gradeTimes := make(map[string]time.Time)

	for _, s := range students {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		grades, err := d.provider.GradesFor(ctx, s.ID)
		if err != nil {
			return nil, err
		}

		var sum float64
		for _, g := range grades {
			scores = append(scores, g.Score)
			gradeIDs = append(gradeIDs, g.ID)
			gradeTimes[g.ID] = g.RecordedAt
			histogram[model.BandFor(g.Score)]++
			sum += g.Score
		}

		if len(grades) > 0 {
			performers = append(performers, model.PerformerStat{
				StudentID: s.ID,
				Name:      s.Name,
				Average:   sum / float64(len(grades)),
			})
		}
	}

	snap := &model.StatsSnapshot{
		GeneratedAt:   time.Now(),
		StudentCount:  len(students),
		GradeCount:    len(scores),
		MeanScore:     mean(scores),
		MedianScore:   median(scores),
		StdDevScore:   stdDev(scores),
		Histogram:     histogram,
		TopPerformers: topPerformers(performers, d.cfg.TopN),
		RecentGrades:  d.tracker.observe(gradeIDs, time.Now()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if d.cache != nil {
		snap.CacheHitRate = d.cache.HitRate()
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		d.logger.Warn("Failed to read memory stats")
	} else {
		snap.MemoryUsedBytes = vm.Used
		snap.MemoryTotalBytes = vm.Total
	}

	return snap, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// stdDev computes the population standard deviation
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func topPerformers(performers []model.PerformerStat, n int) []model.PerformerStat {
	sorted := make([]model.PerformerStat, len(performers))
	copy(sorted, performers)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Average != sorted[j].Average {
			return sorted[i].Average > sorted[j].Average
		}
		return sorted[i].StudentID < sorted[j].StudentID
	})

	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// recentTracker counts grades first seen within a rolling window using a
// first-seen timestamp map. Entries older than the window that have left
// the data set are pruned; entries still present are kept so a grade is
// never counted as new twice.
type recentTracker struct {
	window    time.Duration
	firstSeen map[string]time.Time
}

func newRecentTracker(window time.Duration) *recentTracker {
	return &recentTracker{
		window:    window,
		firstSeen: make(map[string]time.Time),
	}
}

func (t *recentTracker) observe(ids []string, now time.Time) int {
	current := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		current[id] = struct{}{}
		if _, ok := t.firstSeen[id]; !ok {
			t.firstSeen[id] = now
		}
	}

	cutoff := now.Add(-t.window)
	count := 0
	for id, seen := range t.firstSeen {
		if seen.After(cutoff) {
			count++
			continue
		}
		if _, ok := current[id]; !ok {
			delete(t.firstSeen, id)
		}
	}
	return count
}
