package model

import "time"

// JobKind represents the kind of work a batch job performs
type JobKind string

const (
	JobKindReport JobKind = "report"
	JobKindBackup JobKind = "backup"
)

// JobStatus represents the terminal status of a batch job
type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents one unit of batch work for a single student.
// Jobs live for exactly one batch run and are never persisted.
type Job struct {
	StudentID   string    `json:"student_id"`
	Kind        JobKind   `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobResult represents the outcome of a single batch job
type JobResult struct {
	StudentID string        `json:"student_id"`
	Status    JobStatus     `json:"status"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason,omitempty"`
}

// BatchRunStats aggregates the outcome of one batch run. It is owned by
// the run that created it and is read-only once the run finishes.
type BatchRunStats struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	WallTime  time.Duration `json:"wall_time"`

	// PerJobDurations is keyed by student ID
	PerJobDurations map[string]time.Duration `json:"per_job_durations"`

	// AvgDuration is computed over successful jobs only
	AvgDuration time.Duration `json:"avg_duration"`

	// Throughput is completed jobs per second over wall time
	Throughput float64 `json:"throughput"`

	// EstimatedSequential is avg duration multiplied by total job count.
	// Reporting-only; never used as a scheduling input.
	EstimatedSequential time.Duration `json:"estimated_sequential"`
	SpeedupRatio        float64       `json:"speedup_ratio"`
}
