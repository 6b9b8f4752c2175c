package executor

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

const progressBarWidth = 24

// progressReporter renders a single overwritten console line with a bar,
// percent, elapsed time, ETA, and throughput for one batch run.
type progressReporter struct {
	w         io.Writer
	total     int
	start     time.Time
	completed *atomic.Int64
	failed    *atomic.Int64
}

func newProgressReporter(w io.Writer, total int, start time.Time, completed, failed *atomic.Int64) *progressReporter {
	return &progressReporter{
		w:         w,
		total:     total,
		start:     start,
		completed: completed,
		failed:    failed,
	}
}

// loop polls completion counts until stop is closed, then renders one
// final line and terminates it with a newline.
func (r *progressReporter) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			r.render()
			fmt.Fprintln(r.w)
			return
		case <-ticker.C:
			r.render()
		}
	}
}

func (r *progressReporter) render() {
	resolved := int(r.completed.Load() + r.failed.Load())
	elapsed := time.Since(r.start)

	var pct float64
	if r.total > 0 {
		pct = float64(resolved) / float64(r.total)
	}

	filled := int(pct * progressBarWidth)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressBarWidth-filled)

	// ETA is average per-job duration so far times the remaining count
	var eta time.Duration
	if resolved > 0 {
		avg := elapsed / time.Duration(resolved)
		eta = avg * time.Duration(r.total-resolved)
	}

	var throughput float64
	if elapsed > 0 {
		throughput = float64(r.completed.Load()) / elapsed.Seconds()
	}

	fmt.Fprintf(r.w, "\r[%s] %3.0f%% (%d/%d) elapsed %s eta %s %.1f jobs/s",
		bar,
		pct*100,
		resolved,
		r.total,
		elapsed.Truncate(100*time.Millisecond),
		eta.Truncate(100*time.Millisecond),
		throughput)
}
