package scheduler

import "errors"

var (
	// ErrInvalidSchedule is returned when a task has a bad cadence or anchor
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrUnknownJob is returned when a task names a job body that does not exist
	ErrUnknownJob = errors.New("unknown job")
)
