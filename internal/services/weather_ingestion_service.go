package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cultivation-platform/internal/models"
	"cultivation-platform/internal/repository"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// WeatherIngestionService loads daily weather CSV exports into the
// weather_daily table. The prediction pipeline only ever reads that table;
// this service is the sole writer.
type WeatherIngestionService struct {
	repo    repository.CultivationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// NewWeatherIngestionService creates a new weather ingestion service
func NewWeatherIngestionService(repo repository.CultivationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WeatherIngestionService {
	return &WeatherIngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests all weather CSV files from a directory
func (s *WeatherIngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting weather ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	result := &IngestionResult{
		Errors: make([]string, 0),
	}

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no weather files found in %s", dataDir)
	}

	result.TotalFiles = len(files)

	for _, filePath := range files {
		total, ok, failed, err := s.ingestFile(ctx, filePath, batchSize)
		result.TotalRecords += total
		result.SuccessfulRecords += ok
		result.FailedRecords += failed
		if err != nil {
			errMsg := fmt.Sprintf("failed to ingest %s: %v", filePath, err)
			result.Errors = append(result.Errors, errMsg)
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", logging.Fields{
			"file_path":          filePath,
			"total_records":      total,
			"successful_records": ok,
			"failed_records":     failed,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[INGEST_COMPLETE] Weather ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"stage":              "COMPLETE",
	})

	return result, nil
}

// ingestFile parses one CSV file (date, temp_avg, temp_max, temp_min,
// variation) and upserts rows in batches.
func (s *WeatherIngestionService) ingestFile(ctx context.Context, filePath string, batchSize int) (total, ok, failed int, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	batch := make([]*models.WeatherDaily, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.repo.UpsertWeatherBatch(ctx, batch); err != nil {
			return err
		}
		ok += len(batch)
		batch = batch[:0]
		return nil
	}

	first := true
	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, ok, failed, fmt.Errorf("failed to read record: %w", readErr)
		}

		// Skip a header line if present
		if first {
			first = false
			if len(record) > 0 && record[0] == "date" {
				continue
			}
		}

		total++

		row, parseErr := parseWeatherRecord(record)
		if parseErr != nil {
			failed++
			s.metrics.RecordIngestionError("parse_error")
			s.logger.Debug(ctx, "[INGEST_PARSE_ERROR] Skipping malformed record", logging.Fields{
				"file_path": filePath,
				"record":    fmt.Sprintf("%v", record),
				"error":     parseErr.Error(),
			})
			continue
		}

		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, ok, failed, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, ok, failed, err
	}

	return total, ok, failed, nil
}

// parseWeatherRecord converts one CSV record to a WeatherDaily row. Empty
// numeric fields become NULL; variation is optional entirely.
func parseWeatherRecord(record []string) (*models.WeatherDaily, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("expected at least 4 fields, got %d", len(record))
	}

	date, err := time.Parse("2006-01-02", record[0])
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", record[0], err)
	}

	row := &models.WeatherDaily{Date: date}

	if row.TempAvg, err = parseOptionalFloat(record[1]); err != nil {
		return nil, fmt.Errorf("invalid temp_avg %q: %w", record[1], err)
	}
	if row.TempMax, err = parseOptionalFloat(record[2]); err != nil {
		return nil, fmt.Errorf("invalid temp_max %q: %w", record[2], err)
	}
	if row.TempMin, err = parseOptionalFloat(record[3]); err != nil {
		return nil, fmt.Errorf("invalid temp_min %q: %w", record[3], err)
	}
	if len(record) > 4 {
		if row.Variation, err = parseOptionalFloat(record[4]); err != nil {
			return nil, fmt.Errorf("invalid variation %q: %w", record[4], err)
		}
	}

	return row, nil
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
