package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cultivation-platform/internal/models"
	"cultivation-platform/internal/pipeline"
	"cultivation-platform/pkg/database"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// CultivationRepository provides data access for cultivation tracking
type CultivationRepository interface {
	// Read operations
	ListActiveBeds(ctx context.Context) ([]*models.Bed, error)
	GetCycle(ctx context.Context, cycleID int64) (*models.Cycle, error)
	BedHistory(ctx context.Context, bedID int64) ([]*models.CycleEvent, error)
	LatestPrediction(ctx context.Context, cycleID int64) (*models.Prediction, error)

	// Harvest recording
	RecordHarvest(ctx context.Context, harvest *models.Harvest) error

	// Weather ingestion
	UpsertWeatherBatch(ctx context.Context, rows []*models.WeatherDaily) error

	// Pipeline transaction boundary
	WithinTx(ctx context.Context, fn func(store pipeline.Store) error) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// cultivationRepository implements CultivationRepository
type cultivationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCultivationRepository creates a new cultivation repository
func NewCultivationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) CultivationRepository {
	return &cultivationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListActiveBeds retrieves all active beds ordered by name
func (r *cultivationRepository) ListActiveBeds(ctx context.Context) ([]*models.Bed, error) {
	query := `
		SELECT id, name, group_type, active, created_at
		FROM beds
		WHERE active
		ORDER BY name
	`

	var beds []*models.Bed
	if err := r.db.SelectContext(ctx, "list_beds", &beds, query); err != nil {
		return nil, fmt.Errorf("failed to list beds: %w", err)
	}

	return beds, nil
}

// GetCycle retrieves a cycle by ID
func (r *cultivationRepository) GetCycle(ctx context.Context, cycleID int64) (*models.Cycle, error) {
	query := `
		SELECT id, bed_id, sow_date, plant_date, harvest_start, harvest_end,
		       expected_harvest, sales_adjust_days, created_at
		FROM cycles
		WHERE id = $1
	`

	var cycle models.Cycle
	err := r.db.GetContext(ctx, "get_cycle", &cycle, query, cycleID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "cycle", ID: fmt.Sprintf("%d", cycleID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}

	return &cycle, nil
}

// BedHistory retrieves the planting/harvest timeline of a bed
func (r *cultivationRepository) BedHistory(ctx context.Context, bedID int64) ([]*models.CycleEvent, error) {
	query := `
		SELECT c.plant_date AS date, 'planted' AS action
		FROM cycles c
		WHERE c.bed_id = $1
		UNION ALL
		SELECT h.harvest_date AS date, 'harvested' AS action
		FROM harvests h
		JOIN cycles c ON c.id = h.cycle_id
		WHERE c.bed_id = $2
		ORDER BY date ASC
	`

	var events []*models.CycleEvent
	if err := r.db.SelectContext(ctx, "bed_history", &events, query, bedID, bedID); err != nil {
		return nil, fmt.Errorf("failed to get bed history: %w", err)
	}

	return events, nil
}

// LatestPrediction retrieves the most recent prediction for a cycle
func (r *cultivationRepository) LatestPrediction(ctx context.Context, cycleID int64) (*models.Prediction, error) {
	query := `
		SELECT id, cycle_id, model_id, pred_days, pred_total_kg, created_at
		FROM predictions
		WHERE cycle_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var pred models.Prediction
	err := r.db.GetContext(ctx, "latest_prediction", &pred, query, cycleID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "prediction", ID: fmt.Sprintf("%d", cycleID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}

	return &pred, nil
}

// RecordHarvest inserts an append-only harvest row and stamps the owning
// cycle's harvest_start on the first harvest.
func (r *cultivationRepository) RecordHarvest(ctx context.Context, harvest *models.Harvest) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	harvest.CreatedAt = time.Now().UTC()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO harvests (cycle_id, harvest_date, harvest_kg, loss_type_id, user_id, harvest_ratio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		harvest.CycleID,
		harvest.HarvestDate,
		harvest.HarvestKg,
		harvest.LossTypeID,
		harvest.UserID,
		harvest.HarvestRatio,
		harvest.CreatedAt,
	).Scan(&harvest.ID)
	if err != nil {
		return fmt.Errorf("failed to insert harvest: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cycles SET harvest_start = COALESCE(harvest_start, $2) WHERE id = $1
	`, harvest.CycleID, harvest.HarvestDate)
	if err != nil {
		return fmt.Errorf("failed to stamp harvest start: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit harvest: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_RECORD_HARVEST] Harvest recorded", logging.Fields{
		"cycle_id":   harvest.CycleID,
		"harvest_kg": harvest.HarvestKg,
	})

	return nil
}

// UpsertWeatherBatch upserts daily weather rows in a single transaction
func (r *cultivationRepository) UpsertWeatherBatch(ctx context.Context, rows []*models.WeatherDaily) error {
	if len(rows) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(rows)))
		r.logger.Debug(ctx, "[REPO_WEATHER_BATCH] Batch upsert completed", logging.Fields{
			"count":       len(rows),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO weather_daily (date, temp_avg, temp_max, temp_min, variation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			temp_avg = EXCLUDED.temp_avg,
			temp_max = EXCLUDED.temp_max,
			temp_min = EXCLUDED.temp_min,
			variation = EXCLUDED.variation
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Date, row.TempAvg, row.TempMax, row.TempMin, row.Variation); err != nil {
			return fmt.Errorf("failed to upsert weather row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(rows)))

	return nil
}

// WithinTx runs fn against a transaction-scoped store. Any error from fn
// rolls the whole transaction back.
func (r *cultivationRepository) WithinTx(ctx context.Context, fn func(store pipeline.Store) error) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{ext: tx, metrics: r.metrics}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("transaction_commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck performs a repository health check
func (r *cultivationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
