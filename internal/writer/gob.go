package writer

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/tablerr"

	"go.uber.org/zap"
)

// GobWriter writes each window of a batch to <root>/<window>/<table>/records.dat as a
// gob-encoded []FlowRecord, next to a summary.json.
type GobWriter struct {
	rootPath string
	tables   *tablerr.Selector
	logger   *zap.Logger
}

// NewGobWriter creates a gob file writer.
func NewGobWriter(rootPath string, tables *tablerr.Selector, logger *zap.Logger) *GobWriter {
	return &GobWriter{rootPath: rootPath, tables: tables, logger: logger}
}

func (w *GobWriter) Name() string { return "gob" }

// Write serializes the batch to one directory per window, each holding the
// window's records and a summary.
func (w *GobWriter) Write(ctx context.Context, b *cache.Batch) error {
	for i, wr := range b.Windows() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.writeWindow(b, wr, i == 0); err != nil {
			return err
		}
	}
	return nil
}

func (w *GobWriter) writeWindow(b *cache.Batch, wr cache.WindowRecords, first bool) error {
	table := w.tables.Pick(wr.Basetime)
	dir := filepath.Join(w.rootPath, windowDir(wr.Basetime), table)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}

	dataPath := filepath.Join(dir, "records.dat")
	if err := writeGob(dataPath, FlowRecords(wr.Records)); err != nil {
		return err
	}

	summary := summarize(table, b, wr, first)
	summaryPath := filepath.Join(dir, "summary.json")
	summaryFile, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	enc := json.NewEncoder(summaryFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	w.logger.Debug("Wrote window", zap.String("path", dir), zap.Int("records", summary.TotalRecords))
	return nil
}

func writeGob(path string, records []FlowRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create batch file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(records); err != nil {
		return fmt.Errorf("failed to encode records to gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadGob loads the records written by a GobWriter.
func ReadGob(path string) ([]FlowRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []FlowRecord
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return records, nil
}

func (w *GobWriter) Close() error { return nil }
