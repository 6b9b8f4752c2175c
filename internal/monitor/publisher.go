package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/model"
)

const (
	metricsStreamName = "METRICS"

	ioSubject     = "metrics.io"
	poolSubject   = "metrics.pool"
	batchSubject  = "metrics.batch"
	notifySubject = "notify.task"
)

// Publisher publishes observability events and task notifications to
// JetStream. All methods are fire-and-forget: publish failures are logged
// and swallowed, and a nil Publisher (or one without a connection) is a
// no-op, so engine behavior never depends on the sink being present.
type Publisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewPublisher creates a publisher. js may be nil.
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger: logger.Named("monitor"),
		js:     js,
	}
}

// EnsureStream creates the metrics stream if it does not exist
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(metricsStreamName)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     metricsStreamName,
		Subjects: []string{"metrics.*", "notify.*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  -1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// RecordIOOperation records a file I/O operation
func (p *Publisher) RecordIOOperation(op, file string, duration time.Duration, bytes int64, isRead bool) {
	p.publish(ioSubject, struct {
		Operation  string    `json:"operation"`
		File       string    `json:"file"`
		DurationMs int64     `json:"duration_ms"`
		Bytes      int64     `json:"bytes"`
		IsRead     bool      `json:"is_read"`
		Timestamp  time.Time `json:"timestamp"`
	}{op, file, duration.Milliseconds(), bytes, isRead, time.Now()})
}

// RegisterThreadPool records the creation of a worker pool
func (p *Publisher) RegisterThreadPool(name string, maxWorkers int) {
	p.publish(poolSubject, struct {
		Name       string    `json:"name"`
		MaxWorkers int       `json:"max_workers"`
		Timestamp  time.Time `json:"timestamp"`
	}{name, maxWorkers, time.Now()})
}

// PublishBatchStats publishes the aggregate outcome of a batch run
func (p *Publisher) PublishBatchStats(stats *model.BatchRunStats) {
	p.publish(batchSubject, stats)
}

// NotifyTaskComplete publishes a notification for a scheduled task firing
func (p *Publisher) NotifyTaskComplete(entry model.ExecutionLogEntry) {
	p.publish(notifySubject, entry)
}

func (p *Publisher) publish(subject string, v interface{}) {
	if p == nil || p.js == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
