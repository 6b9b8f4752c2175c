package model

import (
	"fmt"
	"time"
)

// ScheduleKind represents the cadence of a recurring task
type ScheduleKind string

const (
	ScheduleDaily  ScheduleKind = "daily"
	ScheduleHourly ScheduleKind = "hourly"
	ScheduleWeekly ScheduleKind = "weekly"
)

// Period returns the fixed-rate period for the schedule kind
func (k ScheduleKind) Period() time.Duration {
	switch k {
	case ScheduleHourly:
		return time.Hour
	case ScheduleWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ExecutionStatus represents the status of one firing of a scheduled task
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// ScheduledTask represents a named recurring job definition. Mutated by the
// scheduler on each firing and on cancellation; persisted keyed by ID.
type ScheduledTask struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Kind             ScheduleKind `json:"kind"`
	AnchorHour       int          `json:"anchor_hour"`
	AnchorMinute     int          `json:"anchor_minute"`
	Scope            string       `json:"scope,omitempty"`
	WorkerCount      int          `json:"worker_count"`
	Active           bool         `json:"active"`
	NotifyOnComplete bool         `json:"notify_on_complete"`
	LogToFile        bool         `json:"log_to_file"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CronExpression translates the cadence and anchor into a 6-field cron
// expression (with seconds). Weekly tasks fire on Sunday.
func (t *ScheduledTask) CronExpression() string {
	switch t.Kind {
	case ScheduleHourly:
		return fmt.Sprintf("0 %d * * * *", t.AnchorMinute)
	case ScheduleWeekly:
		return fmt.Sprintf("0 %d %d * * 0", t.AnchorMinute, t.AnchorHour)
	default:
		return fmt.Sprintf("0 %d %d * * *", t.AnchorMinute, t.AnchorHour)
	}
}

// ExecutionLogEntry records one firing of a scheduled task
type ExecutionLogEntry struct {
	TaskID       string          `json:"task_id"`
	TaskName     string          `json:"task_name"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       ExecutionStatus `json:"status"`
	Duration     time.Duration   `json:"duration"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
