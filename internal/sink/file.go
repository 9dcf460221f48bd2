package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/skobkin/erwait-web/internal/sampler"
)

// FileSink appends CSV rows to a flat file. The file is created on first
// append and existing content is never rewritten.
type FileSink struct {
	path   string
	logger *slog.Logger
}

// NewFileSink constructs a FileSink writing to the given path.
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		path:   path,
		logger: logger.With("component", "file_sink"),
	}, nil
}

// Append writes one CSV row. The file is opened per call so each tick stays
// independent and a crash between ticks cannot corrupt prior rows.
func (s *FileSink) Append(ctx context.Context, sample sampler.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open sink file: %w", err)
	}

	if _, err := file.WriteString(sample.CSVRow() + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("append row: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close sink file: %w", err)
	}

	s.logger.Debug("row appended", "path", s.path)
	return nil
}
