package model

import "time"

// PerformerStat is one entry in the top-N performers list
type PerformerStat struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Average   float64 `json:"average"`
}

// StatsSnapshot is an immutable view of computed statistics published by
// the live stats daemon. Readers always observe a complete snapshot; the
// daemon replaces it wholesale with an atomic swap.
type StatsSnapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	StudentCount int `json:"student_count"`
	GradeCount   int `json:"grade_count"`

	MeanScore   float64 `json:"mean_score"`
	MedianScore float64 `json:"median_score"`
	StdDevScore float64 `json:"stddev_score"`

	Histogram     map[GradeBand]int `json:"histogram"`
	TopPerformers []PerformerStat   `json:"top_performers"`

	// RecentGrades counts grades first seen within the last five minutes
	RecentGrades int `json:"recent_grades"`

	Goroutines       int     `json:"goroutines"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	CacheHitRate     float64 `json:"cache_hit_rate"`

	// Error carries the failure of the recomputation that produced this
	// snapshot; empty on success.
	Error string `json:"error,omitempty"`
}
