package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/provider"
)

// AggregateCache caches per-student grade averages. Reads are served from
// the cache when possible; misses compute through the data provider. Hit
// and miss counters feed the dashboard's cache hit rate.
type AggregateCache struct {
	logger   *zap.Logger
	provider provider.DataProvider

	mu       sync.RWMutex
	averages map[string]float64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewAggregateCache creates an empty aggregate cache
func NewAggregateCache(p provider.DataProvider, logger *zap.Logger) *AggregateCache {
	return &AggregateCache{
		logger:   logger.Named("aggregate-cache"),
		provider: p,
		averages: make(map[string]float64),
	}
}

// AverageFor returns the cached grade average for a student, computing
// and caching it on a miss
func (c *AggregateCache) AverageFor(ctx context.Context, studentID string) (float64, error) {
	c.mu.RLock()
	avg, ok := c.averages[studentID]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		return avg, nil
	}
	c.misses.Add(1)

	avg, err := c.compute(ctx, studentID)
	if err != nil {
		return 0, err
	}

	c.Store(studentID, avg)
	return avg, nil
}

// Store records a precomputed average for a student
func (c *AggregateCache) Store(studentID string, avg float64) {
	c.mu.Lock()
	c.averages[studentID] = avg
	c.mu.Unlock()
}

// InvalidateAll drops all cached aggregates
func (c *AggregateCache) InvalidateAll() {
	c.mu.Lock()
	c.averages = make(map[string]float64)
	c.mu.Unlock()

	c.logger.Debug("Aggregate cache invalidated")
}

// Rebuild recomputes aggregates for every student and returns the number
// of entries rebuilt
func (c *AggregateCache) Rebuild(ctx context.Context) (int, error) {
	students, err := c.provider.ListStudents(ctx)
	if err != nil {
		return 0, err
	}

	for _, s := range students {
		avg, err := c.compute(ctx, s.ID)
		if err != nil {
			return 0, err
		}
		c.Store(s.ID, avg)
	}

	c.logger.Info("Aggregate cache rebuilt", zap.Int("entries", len(students)))
	return len(students), nil
}

// HitRate returns the fraction of lookups served from the cache
func (c *AggregateCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len returns the number of cached entries
func (c *AggregateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.averages)
}

func (c *AggregateCache) compute(ctx context.Context, studentID string) (float64, error) {
	grades, err := c.provider.GradesFor(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return averageScore(grades), nil
}

func averageScore(grades []model.Grade) float64 {
	if len(grades) == 0 {
		return 0
	}
	var sum float64
	for _, g := range grades {
		sum += g.Score
	}
	return sum / float64(len(grades))
}
