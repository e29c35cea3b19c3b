package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"cultivation-platform/internal/models"
	"cultivation-platform/pkg/metrics"
)

// foreignKeyViolation is the Postgres error code for a missing referenced row.
const foreignKeyViolation = pq.ErrorCode("23503")

// txStore is the transaction-scoped implementation of pipeline.Store. All
// reads and writes go through the one transaction owned by WithinTx.
type txStore struct {
	ext     sqlx.ExtContext
	metrics *metrics.Collector
}

func (s *txStore) observe(queryType string, start time.Time) {
	s.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}

// CycleContext loads the cycle/bed join the feature builder derives from
func (s *txStore) CycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error) {
	defer s.observe("cycle_context", time.Now())

	query := `
		SELECT c.id, c.bed_id, c.sow_date, c.plant_date,
		       COALESCE(c.sales_adjust_days, 0) AS sales_adjust_days,
		       b.group_type
		FROM cycles c
		JOIN beds b ON b.id = c.bed_id
		WHERE c.id = $1
	`

	var cc models.CycleContext
	err := sqlx.GetContext(ctx, s.ext, &cc, query, cycleID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "cycle", ID: fmt.Sprintf("%d", cycleID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle context: %w", err)
	}

	return &cc, nil
}

// LatestWeatherDate returns the authoritative as-of horizon: the maximum
// recorded weather date, capped at today. Nil when no weather exists.
func (s *txStore) LatestWeatherDate(ctx context.Context) (*time.Time, error) {
	defer s.observe("latest_weather_date", time.Now())

	query := `
		SELECT CASE WHEN MAX(date) IS NULL THEN NULL
		            ELSE LEAST(CURRENT_DATE, MAX(date)) END AS asof
		FROM weather_daily
	`

	var asof sql.NullTime
	if err := sqlx.GetContext(ctx, s.ext, &asof, query); err != nil {
		return nil, fmt.Errorf("failed to resolve latest weather date: %w", err)
	}

	if !asof.Valid {
		return nil, nil
	}
	return &asof.Time, nil
}

// TemperatureStats aggregates daily weather over [from, to]. All columns
// come back NULL when the window holds no rows.
func (s *txStore) TemperatureStats(ctx context.Context, from, to time.Time) (*models.TemperatureStats, error) {
	defer s.observe("temperature_stats", time.Now())

	query := `
		SELECT
			AVG(temp_avg) AS temp_avg_mean,
			MAX(temp_max) AS temp_max_max,
			MIN(temp_min) AS temp_min_min,
			STDDEV_POP(temp_avg) AS temp_avg_std,
			AVG(COALESCE(variation, temp_max - temp_min)) AS swing_mean,
			STDDEV_POP(COALESCE(variation, temp_max - temp_min)) AS swing_std
		FROM weather_daily
		WHERE date BETWEEN $1 AND $2
	`

	var stats models.TemperatureStats
	if err := sqlx.GetContext(ctx, s.ext, &stats, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate temperature: %w", err)
	}

	return &stats, nil
}

// FinishedCycleStats aggregates total yield and days-to-first-harvest over
// finished cycles matching the filter.
func (s *txStore) FinishedCycleStats(ctx context.Context, filter models.CycleStatsFilter) (*models.CycleStats, error) {
	defer s.observe("finished_cycle_stats", time.Now())

	query := `
		SELECT COUNT(*) AS k,
		       COALESCE(AVG(t.total_yield), 0) AS mean_yield,
		       COALESCE(AVG(t.days_to_first), 0) AS mean_days
		FROM (
			SELECT c2.id,
			       c2.harvest_start - c2.plant_date AS days_to_first,
			       (SELECT COALESCE(SUM(h.harvest_kg), 0) FROM harvests h WHERE h.cycle_id = c2.id) AS total_yield
			FROM cycles c2
			JOIN beds b2 ON b2.id = c2.bed_id
			WHERE c2.harvest_start IS NOT NULL AND c2.harvest_end IS NOT NULL
	`
	args := []interface{}{}
	argNum := 1

	if filter.HarvestEndWithinDays > 0 {
		query += fmt.Sprintf(" AND c2.harvest_end BETWEEN CURRENT_DATE - $%d::int AND CURRENT_DATE", argNum)
		args = append(args, filter.HarvestEndWithinDays)
		argNum++
	}

	if filter.GroupType != nil {
		query += fmt.Sprintf(" AND b2.group_type = $%d", argNum)
		args = append(args, *filter.GroupType)
		argNum++
	}

	if filter.BedID != nil {
		query += fmt.Sprintf(" AND c2.bed_id = $%d", argNum)
		args = append(args, *filter.BedID)
		argNum++
	}

	if filter.PlantedFrom != nil {
		query += fmt.Sprintf(" AND c2.plant_date >= $%d", argNum)
		args = append(args, *filter.PlantedFrom)
		argNum++
	}

	if filter.PlantedTo != nil {
		query += fmt.Sprintf(" AND c2.plant_date <= $%d", argNum)
		args = append(args, *filter.PlantedTo)
		argNum++
	}

	query += `
		) t
	`

	var stats models.CycleStats
	if err := sqlx.GetContext(ctx, s.ext, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate finished cycles: %w", err)
	}

	return &stats, nil
}

// InsertCycle inserts a new cycle row and sets its identifier
func (s *txStore) InsertCycle(ctx context.Context, cycle *models.Cycle) error {
	defer s.observe("insert_cycle", time.Now())

	cycle.CreatedAt = time.Now().UTC()

	err := s.ext.QueryRowxContext(ctx, `
		INSERT INTO cycles (bed_id, sow_date, plant_date, sales_adjust_days, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		cycle.BedID,
		cycle.SowDate,
		cycle.PlantDate,
		cycle.SalesAdjustDays,
		cycle.CreatedAt,
	).Scan(&cycle.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return &NotFoundError{Resource: "bed", ID: fmt.Sprintf("%d", cycle.BedID)}
		}
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	return nil
}

// UpsertFeatureSnapshot stores the latest derived vector for (cycle, asof).
// A repeat derivation overwrites the vector and hash rather than duplicating.
func (s *txStore) UpsertFeatureSnapshot(ctx context.Context, snapshot *models.FeatureSnapshot) error {
	defer s.observe("upsert_feature_snapshot", time.Now())

	err := s.ext.QueryRowxContext(ctx, `
		INSERT INTO features_cache (cycle_id, asof, features_json, hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (cycle_id, asof) DO UPDATE SET
			features_json = EXCLUDED.features_json,
			hash = EXCLUDED.hash,
			updated_at = NOW()
		RETURNING id
	`,
		snapshot.CycleID,
		snapshot.Asof,
		snapshot.FeaturesJSON,
		snapshot.Hash,
	).Scan(&snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert feature snapshot: %w", err)
	}

	return nil
}

// InsertPrediction inserts an immutable prediction row
func (s *txStore) InsertPrediction(ctx context.Context, pred *models.Prediction) error {
	defer s.observe("insert_prediction", time.Now())

	pred.CreatedAt = time.Now().UTC()

	err := s.ext.QueryRowxContext(ctx, `
		INSERT INTO predictions (cycle_id, model_id, pred_days, pred_total_kg, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		pred.CycleID,
		pred.ModelID,
		pred.PredDays,
		pred.PredTotalKg,
		pred.CreatedAt,
	).Scan(&pred.ID)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	return nil
}

// InsertAlert inserts an open alert row
func (s *txStore) InsertAlert(ctx context.Context, alert *models.Alert) error {
	defer s.observe("insert_alert", time.Now())

	err := s.ext.QueryRowxContext(ctx, `
		INSERT INTO alerts (date, type, payload_json, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`,
		alert.Date,
		alert.Type,
		alert.PayloadJSON,
		alert.Status,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// SetExpectedHarvest derives the expected harvest date from the predicted
// days to first harvest.
func (s *txStore) SetExpectedHarvest(ctx context.Context, cycleID int64, predDays float64) error {
	defer s.observe("set_expected_harvest", time.Now())

	_, err := s.ext.ExecContext(ctx, `
		UPDATE cycles
		SET expected_harvest = plant_date + ROUND($2)::int
		WHERE id = $1
	`, cycleID, predDays)
	if err != nil {
		return fmt.Errorf("failed to set expected harvest: %w", err)
	}

	return nil
}
