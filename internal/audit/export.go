package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// exportRow is the flat schema written to parquet. Timestamps are
// stored as Unix milliseconds.
type exportRow struct {
	ID           string `parquet:"id"`
	Type         string `parquet:"type"`
	Jurisdiction string `parquet:"jurisdiction"`
	Detail       string `parquet:"detail"`
	Count        int64  `parquet:"count"`
	TimestampMS  int64  `parquet:"timestamp_ms"`
}

// Exporter writes audit trail snapshots to timestamped parquet files,
// typically on a cron schedule.
type Exporter struct {
	trail  *Trail
	dir    string
	logger *zap.Logger
}

func NewExporter(trail *Trail, dir string, log *logger.Logger) *Exporter {
	return &Exporter{
		trail:  trail,
		dir:    dir,
		logger: log.WithComponent("audit-export").Logger,
	}
}

// Export writes all buffered events to a new parquet file and returns
// its path with the exported event count. An empty trail is a no-op.
func (e *Exporter) Export() (string, int, error) {
	events := e.trail.snapshot()
	if len(events) == 0 {
		e.logger.Debug("No audit events to export")
		return "", 0, nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("audit_%s.parquet", time.Now().UTC().Format("20060102_150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create export file: %w", err)
	}

	writer := parquet.NewWriter(file)
	for _, event := range events {
		row := exportRow{
			ID:           event.ID,
			Type:         event.Type,
			Jurisdiction: event.Jurisdiction,
			Detail:       event.Detail,
			Count:        int64(event.Count),
			TimestampMS:  event.Timestamp.UnixMilli(),
		}
		if err := writer.Write(&row); err != nil {
			file.Close()
			os.Remove(path)
			return "", 0, fmt.Errorf("failed to write audit row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close export file: %w", err)
	}

	e.logger.Info("Audit trail exported",
		zap.String("path", path),
		zap.Int("events", len(events)))
	return path, len(events), nil
}
