package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/cache"
	"github.com/t77yq/gradeflow/internal/executor"
	"github.com/t77yq/gradeflow/internal/export"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/monitor"
	"github.com/t77yq/gradeflow/internal/provider"
)

// Fixed set of job bodies a scheduled task can name
const (
	JobGPARecompute = "gpa_recompute"
	JobCacheRefresh = "cache_refresh"
	JobBatchReports = "batch_reports"
	JobBackup       = "backup"
)

const (
	defaultJobWorkers = 4
	executorDrain     = 5 * time.Second
)

// RunnerConfig defines configuration for the job runner
type RunnerConfig struct {
	// BackupDir receives backup snapshot files
	BackupDir string

	// ExportMode selects the report format for batch report runs
	ExportMode export.Mode

	// Executor configures batch executors constructed for report runs
	Executor executor.Config
}

// JobRunner executes the job bodies scheduled tasks dispatch to
type JobRunner struct {
	logger   *zap.Logger
	provider provider.DataProvider
	cache    *cache.AggregateCache
	exporter export.Exporter
	metrics  *monitor.Publisher
	cfg      RunnerConfig
}

// NewJobRunner creates a job runner
func NewJobRunner(p provider.DataProvider, c *cache.AggregateCache, exporter export.Exporter, metrics *monitor.Publisher, logger *zap.Logger, cfg RunnerConfig) *JobRunner {
	return &JobRunner{
		logger:   logger.Named("job-runner"),
		provider: p,
		cache:    c,
		exporter: exporter,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Knows reports whether name maps to a job body
func (r *JobRunner) Knows(name string) bool {
	switch name {
	case JobGPARecompute, JobCacheRefresh, JobBatchReports, JobBackup:
		return true
	}
	return false
}

// Run dispatches one firing of a scheduled task to its job body
func (r *JobRunner) Run(ctx context.Context, task *model.ScheduledTask) error {
	switch task.Name {
	case JobGPARecompute:
		return r.runGPARecompute(ctx, task)
	case JobCacheRefresh:
		return r.runCacheRefresh(ctx)
	case JobBatchReports:
		return r.runBatchReports(ctx, task)
	case JobBackup:
		return r.runBackup(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJob, task.Name)
	}
}

// runGPARecompute recomputes grade averages across a small worker pool
// and stores them in the aggregate cache
func (r *JobRunner) runGPARecompute(ctx context.Context, task *model.ScheduledTask) error {
	students, err := r.provider.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}
	students = filterByScope(students, task.Scope)

	workers := task.WorkerCount
	if workers < 2 || workers > 8 {
		workers = defaultJobWorkers
	}

	ids := make(chan string)
	var wg sync.WaitGroup
	var failures atomic.Int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				grades, err := r.provider.GradesFor(ctx, id)
				if err != nil {
					failures.Add(1)
					r.logger.Warn("Failed to recompute GPA",
						zap.String("student_id", id),
						zap.Error(err))
					continue
				}

				var sum float64
				for _, g := range grades {
					sum += g.Score
				}
				var avg float64
				if len(grades) > 0 {
					avg = sum / float64(len(grades))
				}
				r.cache.Store(id, avg)
			}
		}()
	}

	for _, s := range students {
		select {
		case ids <- s.ID:
		case <-ctx.Done():
			close(ids)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(ids)
	wg.Wait()

	if n := failures.Load(); n > 0 {
		return fmt.Errorf("gpa recompute failed for %d of %d students", n, len(students))
	}

	r.logger.Info("GPA recompute finished",
		zap.Int("students", len(students)),
		zap.Int("workers", workers))
	return nil
}

// runCacheRefresh invalidates and rebuilds the cached aggregates
func (r *JobRunner) runCacheRefresh(ctx context.Context) error {
	r.cache.InvalidateAll()

	entries, err := r.cache.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild cache: %w", err)
	}

	r.logger.Info("Cache refreshed", zap.Int("entries", entries))
	return nil
}

// runBatchReports constructs a bounded batch executor and runs a full
// report generation pass over the task's scope
func (r *JobRunner) runBatchReports(ctx context.Context, task *model.ScheduledTask) error {
	students, err := r.provider.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}
	students = filterByScope(students, task.Scope)

	workers := task.WorkerCount
	if workers < 2 || workers > 8 {
		workers = defaultJobWorkers
	}

	exec := executor.NewBatchExecutor(r.provider, r.exporter, r.metrics, r.logger, r.cfg.Executor)
	if !exec.Initialize(workers) {
		return fmt.Errorf("failed to initialize batch executor with %d workers", workers)
	}
	defer exec.Shutdown(executorDrain)

	stats, err := exec.Run(ctx, students, model.JobKindReport, r.cfg.ExportMode)
	if err != nil {
		return fmt.Errorf("batch report run failed: %w", err)
	}

	r.logger.Info("Batch report run finished",
		zap.Int("total", stats.Total),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed))

	if stats.Failed > 0 {
		return fmt.Errorf("batch report run completed with %d failures", stats.Failed)
	}
	return nil
}

// runBackup writes a JSON snapshot of students and grades to the backup
// directory
func (r *JobRunner) runBackup(ctx context.Context) error {
	students, err := r.provider.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}

	snapshot := struct {
		GeneratedAt time.Time       `json:"generated_at"`
		Students    []model.Student `json:"students"`
		Grades      []model.Grade   `json:"grades"`
	}{
		GeneratedAt: time.Now(),
		Students:    students,
	}

	for _, s := range students {
		grades, err := r.provider.GradesFor(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("failed to read grades for %s: %w", s.ID, err)
		}
		snapshot.Grades = append(snapshot.Grades, grades...)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup: %w", err)
	}

	if err := os.MkdirAll(r.cfg.BackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(r.cfg.BackupDir, fmt.Sprintf("backup-%s.json", time.Now().Format("20060102-150405")))

	start := time.Now()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	r.metrics.RecordIOOperation("backup", path, time.Since(start), int64(len(data)), false)

	r.logger.Info("Backup written",
		zap.String("path", path),
		zap.Int("students", len(snapshot.Students)),
		zap.Int("grades", len(snapshot.Grades)))
	return nil
}

// filterByScope narrows a student list. Supported scopes: "" or "all"
// for everyone, "year:N" for one year cohort.
func filterByScope(students []model.Student, scope string) []model.Student {
	if scope == "" || scope == "all" {
		return students
	}

	if yearStr, ok := strings.CutPrefix(scope, "year:"); ok {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return students
		}
		filtered := make([]model.Student, 0, len(students))
		for _, s := range students {
			if s.Year == year {
				filtered = append(filtered, s)
			}
		}
		return filtered
	}

	return students
}
