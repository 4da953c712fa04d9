package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// Loader reads tabular files into memory
type Loader struct {
	config LoaderConfig
	logger *zap.Logger
}

// NewLoader creates a new dataset loader
func NewLoader(config LoaderConfig, logger *zap.Logger) *Loader {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.Comma == "" {
		config.Comma = ","
	}
	return &Loader{config: config, logger: logger}
}

// LoadFile loads a dataset file (CSV, Parquet, or JSON lines)
func (l *Loader) LoadFile(ctx context.Context, filePath string) (*Dataset, *LoadResult, error) {
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	format := DetectFileFormat(filePath)
	result := &LoadResult{Path: filePath, Format: format}

	l.logger.Info("Loading dataset",
		zap.String("file", filePath),
		zap.String("format", string(format)))

	var (
		ds  *Dataset
		err error
	)
	switch format {
	case FormatCSV:
		ds, err = l.loadCSV(ctx, filePath, result)
	case FormatParquet:
		ds, err = l.loadParquet(ctx, filePath, result)
	case FormatJSON:
		ds, err = l.loadJSON(ctx, filePath, result)
	default:
		return nil, result, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, result, fmt.Errorf("%s loading failed: %w", format, err)
	}

	result.Rows = ds.Len()
	result.Columns = len(ds.Columns())
	result.Duration = time.Since(start)

	l.logger.Info("Dataset loaded",
		zap.Int("rows", result.Rows),
		zap.Int("columns", result.Columns),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return ds, result, nil
}

// loadCSV reads a CSV file with a header row
func (l *Loader) loadCSV(ctx context.Context, filePath string, result *LoadResult) (*Dataset, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return l.ReadCSV(ctx, file, result)
}

// ReadCSV reads CSV content from r. The first record is the header.
func (l *Loader) ReadCSV(ctx context.Context, r io.Reader, result *LoadResult) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = []rune(l.config.Comma)[0]
	reader.TrimLeadingSpace = l.config.TrimSpace

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	l.logger.Debug("CSV header detected", zap.Strings("columns", header))

	var rows [][]any
	err = l.readBatches(ctx, func() (int, error) {
		n := 0
		for n < l.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				return n, io.EOF
			}
			if err != nil {
				l.logger.Warn("Failed to read CSV record", zap.Error(err))
				l.skip(result, err)
				continue
			}

			row := make([]any, len(record))
			for i, cell := range record {
				row[i] = l.cell(cell)
			}
			rows = append(rows, row)
			n++
			if l.full(len(rows)) {
				return n, io.EOF
			}
		}
		return n, nil
	}, result)
	if err != nil {
		return nil, err
	}

	return New(header, rows)
}

// loadParquet reads a flat Parquet file
func (l *Loader) loadParquet(ctx context.Context, filePath string, result *LoadResult) (ds *Dataset, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	// the reader panics on malformed footers
	defer func() {
		if r := recover(); r != nil {
			ds, err = nil, fmt.Errorf("invalid Parquet file: %v", r)
		}
	}()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var header []string
	for _, path := range reader.Schema().Columns() {
		header = append(header, strings.Join(path, "."))
	}

	var rows [][]any
	buf := make([]parquet.Row, l.config.BatchSize)
	err = l.readBatches(ctx, func() (int, error) {
		n, readErr := reader.ReadRows(buf)
		for _, prow := range buf[:n] {
			row := make([]any, len(header))
			for _, v := range prow {
				if col := v.Column(); col >= 0 && col < len(row) {
					row[col] = parquetValue(v)
				}
			}
			rows = append(rows, row)
			if l.full(len(rows)) {
				return n, io.EOF
			}
		}
		if readErr != nil && readErr != io.EOF {
			return n, fmt.Errorf("failed to read Parquet rows: %w", readErr)
		}
		return n, readErr
	}, result)
	if err != nil {
		return nil, err
	}

	return New(header, rows)
}

// loadJSON reads JSON files (one JSON object per line)
func (l *Loader) loadJSON(ctx context.Context, filePath string, result *LoadResult) (*Dataset, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.UseNumber()

	var records []map[string]any
	err = l.readBatches(ctx, func() (int, error) {
		n := 0
		for n < l.config.BatchSize {
			var record map[string]any
			err := decoder.Decode(&record)
			if err == io.EOF {
				return n, io.EOF
			}
			if err != nil {
				// a syntax error leaves the decoder unusable
				return n, fmt.Errorf("failed to decode JSON record: %w", err)
			}
			for k, v := range record {
				if num, ok := v.(json.Number); ok {
					record[k] = num.String()
				}
			}
			records = append(records, record)
			n++
			if l.full(len(records)) {
				return n, io.EOF
			}
		}
		return n, nil
	}, result)
	if err != nil {
		return nil, err
	}

	return FromRecords(records), nil
}

// readBatches calls readBatch until it reports io.EOF, checking for cancellation between batches
func (l *Loader) readBatches(ctx context.Context, readBatch func() (int, error), result *LoadResult) error {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := readBatch()
		total += n
		if l.config.ProgressReport > 0 && n > 0 && total%l.config.ProgressReport < n {
			l.logger.Info("Loading progress", zap.Int("rows_read", total), zap.Int("skipped", result.Skipped))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (l *Loader) cell(raw string) any {
	if l.config.TrimSpace {
		raw = strings.TrimSpace(raw)
	}
	for _, token := range l.config.NullTokens {
		if raw == token {
			return nil
		}
	}
	return raw
}

func (l *Loader) full(rows int) bool {
	return l.config.MaxRows > 0 && rows >= l.config.MaxRows
}

func (l *Loader) skip(result *LoadResult, err error) {
	result.Skipped++
	if len(result.Errors) < 20 {
		result.Errors = append(result.Errors, err.Error())
	}
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return fmt.Sprintf("%v", v)
	}
}
