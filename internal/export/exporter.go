package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/monitor"
)

// Exporter writes serialized report data to a destination. Implementations
// are not assumed thread-safe; callers must serialize access.
type Exporter interface {
	// Write writes data under the given name and returns the final path
	Write(data []byte, name string) (string, error)
}

// FileExporter writes reports to files under a fixed directory
type FileExporter struct {
	logger  *zap.Logger
	metrics *monitor.Publisher
	dir     string
}

// NewFileExporter creates a file exporter rooted at dir
func NewFileExporter(dir string, logger *zap.Logger, metrics *monitor.Publisher) (*FileExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &FileExporter{
		logger:  logger.Named("exporter"),
		metrics: metrics,
		dir:     dir,
	}, nil
}

// Write implements Exporter.Write
func (e *FileExporter) Write(data []byte, name string) (string, error) {
	path := filepath.Join(e.dir, name)

	start := time.Now()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	e.metrics.RecordIOOperation("export", path, time.Since(start), int64(len(data)), false)

	e.logger.Debug("Report exported",
		zap.String("path", path),
		zap.Int("bytes", len(data)))

	return path, nil
}
