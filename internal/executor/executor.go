package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/export"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/monitor"
	"github.com/t77yq/gradeflow/internal/provider"
)

const (
	minWorkers = 2
	maxWorkers = 8

	defaultPerJobTimeout    = 30 * time.Second
	defaultProgressInterval = 200 * time.Millisecond
)

// Config defines configuration for the batch executor
type Config struct {
	// PerJobTimeout bounds the execution of a single job. Zero means the
	// 30 second default.
	PerJobTimeout time.Duration

	// ProgressInterval is the refresh rate of the progress line
	ProgressInterval time.Duration

	// ProgressWriter receives the progress line. Defaults to stdout.
	ProgressWriter io.Writer
}

// submission is one queued job plus its result future
type submission struct {
	job     model.Job
	student model.Student
	mode    export.Mode
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan model.JobResult
}

// BatchExecutor fans independent per-student jobs out across a fixed
// worker pool. A failing, panicking, or timed-out job is recorded and
// counted without affecting its siblings.
type BatchExecutor struct {
	logger   *zap.Logger
	provider provider.DataProvider
	exporter export.Exporter
	metrics  *monitor.Publisher
	cfg      Config

	mu          sync.Mutex
	initialized bool
	closed      bool
	workerCount int
	jobs        chan *submission
	cancelPool  context.CancelFunc
	workerWG    sync.WaitGroup
	runWG       sync.WaitGroup

	// exportMu serializes access to the export sink, which is not
	// assumed thread-safe
	exportMu sync.Mutex
}

// NewBatchExecutor creates an executor. Initialize must be called before Run.
func NewBatchExecutor(p provider.DataProvider, exporter export.Exporter, metrics *monitor.Publisher, logger *zap.Logger, cfg Config) *BatchExecutor {
	if cfg.PerJobTimeout <= 0 {
		cfg.PerJobTimeout = defaultPerJobTimeout
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = os.Stdout
	}

	return &BatchExecutor{
		logger:   logger.Named("batch-executor"),
		provider: p,
		exporter: exporter,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Initialize starts the worker pool. Worker counts outside [2,8] are
// rejected and leave the executor unusable until a valid call succeeds.
func (e *BatchExecutor) Initialize(workerCount int) bool {
	if workerCount < minWorkers || workerCount > maxWorkers {
		e.logger.Error("Invalid worker count",
			zap.Int("workers", workerCount),
			zap.Int("min", minWorkers),
			zap.Int("max", maxWorkers))
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	if e.initialized {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.jobs = make(chan *submission)
	e.cancelPool = cancel
	e.workerCount = workerCount
	e.initialized = true

	for i := 0; i < workerCount; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx, i)
	}

	e.metrics.RegisterThreadPool("batch-executor", workerCount)

	e.logger.Info("Executor initialized", zap.Int("workers", workerCount))
	return true
}

// Run partitions students into one job each, submits them all at once,
// and blocks until every job resolves. The returned stats are complete
// even under partial failure.
func (e *BatchExecutor) Run(ctx context.Context, students []model.Student, kind model.JobKind, mode export.Mode) (*model.BatchRunStats, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	jobs := e.jobs
	e.runWG.Add(1)
	e.mu.Unlock()
	defer e.runWG.Done()

	start := time.Now()
	total := len(students)
	var completed, failed atomic.Int64

	subs := make([]*submission, 0, total)
	for _, s := range students {
		jctx, cancel := context.WithTimeout(ctx, e.cfg.PerJobTimeout)
		subs = append(subs, &submission{
			job: model.Job{
				StudentID:   s.ID,
				Kind:        kind,
				SubmittedAt: time.Now(),
			},
			student: s,
			mode:    mode,
			ctx:     jctx,
			cancel:  cancel,
			done:    make(chan model.JobResult, 1),
		})
	}

	// Feed the pool from a separate goroutine so submission never blocks
	// the caller; the queue is effectively unbounded.
	go func() {
		for _, sub := range subs {
			select {
			case jobs <- sub:
			case <-sub.ctx.Done():
				sub.done <- model.JobResult{
					StudentID: sub.student.ID,
					Status:    model.JobStatusFailed,
					Duration:  time.Since(sub.job.SubmittedAt),
					Reason:    "timed out waiting for a worker",
				}
			}
		}
	}()

	reporter := newProgressReporter(e.cfg.ProgressWriter, total, start, &completed, &failed)
	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go reporter.loop(e.cfg.ProgressInterval, stopProgress, progressDone)

	// Await each future with the per-job timeout. A timed-out job is
	// counted as failed; siblings keep running.
	results := make([]model.JobResult, 0, total)
	for _, sub := range subs {
		var res model.JobResult
		select {
		case res = <-sub.done:
		case <-sub.ctx.Done():
			select {
			case res = <-sub.done:
			default:
				res = model.JobResult{
					StudentID: sub.student.ID,
					Status:    model.JobStatusFailed,
					Duration:  time.Since(sub.job.SubmittedAt),
					Reason:    "job timed out",
				}
			}
		}
		sub.cancel()

		if res.Status == model.JobStatusCompleted {
			completed.Add(1)
		} else {
			failed.Add(1)
		}
		results = append(results, res)
	}

	close(stopProgress)
	<-progressDone

	stats := aggregate(results, time.Since(start))
	e.metrics.PublishBatchStats(stats)

	e.logger.Info("Batch run finished",
		zap.Int("total", stats.Total),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Duration("wall_time", stats.WallTime),
		zap.Float64("speedup", stats.SpeedupRatio))

	return stats, nil
}

// Shutdown drains active runs, then forces cancellation once the timeout
// elapses. Safe to call more than once.
func (e *BatchExecutor) Shutdown(timeout time.Duration) {
	e.mu.Lock()
	if !e.initialized || e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancelPool
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.runWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		e.logger.Info("Executor drained")
	case <-time.After(timeout):
		e.logger.Warn("Shutdown timeout reached, forcing cancellation",
			zap.Duration("timeout", timeout))
	}

	cancel()
	e.workerWG.Wait()
}

func (e *BatchExecutor) worker(ctx context.Context, id int) {
	defer e.workerWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-e.jobs:
			e.execute(sub)
		}
	}
}

// execute runs one job. All failures, including panics, are converted
// into a failed result at this boundary and never propagate.
func (e *BatchExecutor) execute(sub *submission) {
	start := time.Now()
	res := model.JobResult{StudentID: sub.student.ID}

	defer func() {
		if r := recover(); r != nil {
			res.Status = model.JobStatusFailed
			res.Reason = fmt.Sprintf("panic: %v", r)
			res.Duration = time.Since(start)
		}
		select {
		case sub.done <- res:
		default:
		}
	}()

	if err := sub.ctx.Err(); err != nil {
		res.Status = model.JobStatusFailed
		res.Duration = time.Since(start)
		res.Reason = "canceled before execution"
		return
	}

	grades, err := e.provider.GradesFor(sub.ctx, sub.student.ID)
	if err != nil {
		res.Status = model.JobStatusFailed
		res.Duration = time.Since(start)
		res.Reason = fmt.Sprintf("failed to read grades: %v", err)
		return
	}

	report := export.BuildReport(sub.student, grades)
	data, err := report.Render(sub.mode)
	if err != nil {
		res.Status = model.JobStatusFailed
		res.Duration = time.Since(start)
		res.Reason = fmt.Sprintf("failed to render report: %v", err)
		return
	}

	name := fmt.Sprintf("%s%s", sub.student.ID, sub.mode.Extension())

	e.exportMu.Lock()
	_, err = e.exporter.Write(data, name)
	e.exportMu.Unlock()

	if err != nil {
		res.Status = model.JobStatusFailed
		res.Duration = time.Since(start)
		res.Reason = fmt.Sprintf("failed to export report: %v", err)
		return
	}

	res.Status = model.JobStatusCompleted
	res.Duration = time.Since(start)
}

// aggregate folds per-job results into run-level statistics
func aggregate(results []model.JobResult, wall time.Duration) *model.BatchRunStats {
	stats := &model.BatchRunStats{
		Total:           len(results),
		WallTime:        wall,
		PerJobDurations: make(map[string]time.Duration, len(results)),
	}

	var successTotal time.Duration
	for _, res := range results {
		stats.PerJobDurations[res.StudentID] = res.Duration
		if res.Status == model.JobStatusCompleted {
			stats.Completed++
			successTotal += res.Duration
		} else {
			stats.Failed++
		}
	}

	if stats.Completed > 0 {
		stats.AvgDuration = successTotal / time.Duration(stats.Completed)
	}
	if wall > 0 {
		stats.Throughput = float64(stats.Completed) / wall.Seconds()
	}

	stats.EstimatedSequential = stats.AvgDuration * time.Duration(stats.Total)
	if wall > 0 {
		stats.SpeedupRatio = float64(stats.EstimatedSequential) / float64(wall)
	}

	return stats
}
