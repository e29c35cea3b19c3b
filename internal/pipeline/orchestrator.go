package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cultivation-platform/internal/features"
	"cultivation-platform/internal/models"
	"cultivation-platform/internal/prediction"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// Outcome is the terminal state of a planting pipeline run.
type Outcome string

const (
	// OutcomePredicted means the cycle was created and a prediction persisted.
	OutcomePredicted Outcome = "predicted"
	// OutcomePending means the cycle was created but feature derivation
	// could not proceed; an open alert flags it for reconciliation.
	OutcomePending Outcome = "pending"

	outcomeFailed = "failed" // metrics label only; failures surface as errors
)

// Store is the transaction-scoped data access the pipeline writes through.
type Store interface {
	features.Store

	InsertCycle(ctx context.Context, cycle *models.Cycle) error
	UpsertFeatureSnapshot(ctx context.Context, snapshot *models.FeatureSnapshot) error
	InsertPrediction(ctx context.Context, pred *models.Prediction) error
	InsertAlert(ctx context.Context, alert *models.Alert) error
	SetExpectedHarvest(ctx context.Context, cycleID int64, predDays float64) error
}

// TxRunner executes fn inside a single database transaction; fn returning
// an error rolls everything back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(store Store) error) error
}

// Predictor is the external prediction service contract.
type Predictor interface {
	Predict(ctx context.Context, vector *models.FeatureVector) (*prediction.Result, error)
}

// PlantingRequest describes a new cultivation cycle to record.
type PlantingRequest struct {
	BedID           int64
	SowDate         *time.Time
	PlantDate       time.Time
	SalesAdjustDays int
}

// PlantingResult is the committed outcome of a pipeline run. Prediction is
// nil when the run degraded to pending.
type PlantingResult struct {
	CycleID    int64              `json:"cycle_id"`
	Outcome    Outcome            `json:"outcome"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
}

// Orchestrator owns the planting pipeline: cycle creation, feature
// derivation, snapshot caching, prediction, and persistence, all inside one
// transaction per invocation.
type Orchestrator struct {
	tx        TxRunner
	builder   *features.Builder
	predictor Predictor
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(tx TxRunner, builder *features.Builder, predictor Predictor, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		tx:        tx,
		builder:   builder,
		predictor: predictor,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
	}
}

// PlantCycle records a planting and runs the prediction pipeline. Missing
// weather data commits the cycle with an open data_missing alert and returns
// OutcomePending; any other failure rolls the whole transaction back,
// including the cycle row.
func (o *Orchestrator) PlantCycle(ctx context.Context, req PlantingRequest) (*PlantingResult, error) {
	runLog := o.logger.WithFields(logging.Fields{
		"run_id": uuid.NewString(),
		"bed_id": req.BedID,
	})

	runLog.Info(ctx, "[PIPELINE_START] Planting pipeline started", logging.Fields{
		"plant_date": req.PlantDate.Format("2006-01-02"),
	})

	stage := "create_cycle"
	result := &PlantingResult{}

	err := o.tx.WithinTx(ctx, func(store Store) error {
		cycle := &models.Cycle{
			BedID:           req.BedID,
			SowDate:         req.SowDate,
			PlantDate:       req.PlantDate,
			SalesAdjustDays: req.SalesAdjustDays,
		}
		if err := store.InsertCycle(ctx, cycle); err != nil {
			return err
		}
		result.CycleID = cycle.ID

		stage = "build_features"
		stageTimer := o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues(stage))
		vector, asof, err := o.builder.Build(ctx, store, cycle.ID, nil)
		stageTimer.ObserveDuration()
		if err != nil {
			if !errors.Is(err, features.ErrDataUnavailable) {
				return err
			}
			// Designed degraded path: keep the cycle, flag it, commit.
			alert := models.NewDataMissingAlert(cycle.ID, o.now())
			if insertErr := store.InsertAlert(ctx, alert); insertErr != nil {
				return insertErr
			}
			o.metrics.RecordAlert(alert.Type)
			runLog.Warn(ctx, "[PIPELINE_DATA_MISSING] Feature derivation deferred", logging.Fields{
				"cycle_id": cycle.ID,
				"reason":   err.Error(),
			})
			result.Outcome = OutcomePending
			return nil
		}

		stage = "cache_features"
		snapshot, err := models.NewFeatureSnapshot(cycle.ID, asof, vector)
		if err != nil {
			return err
		}
		if err := store.UpsertFeatureSnapshot(ctx, snapshot); err != nil {
			return err
		}

		stage = "predict"
		stageTimer = o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues(stage))
		res, err := o.predictor.Predict(ctx, vector)
		stageTimer.ObserveDuration()
		if err != nil {
			return err
		}

		stage = "persist_prediction"
		pred := &models.Prediction{
			CycleID:     cycle.ID,
			ModelID:     res.ModelID,
			PredDays:    res.PredDays,
			PredTotalKg: res.PredYield,
		}
		if err := store.InsertPrediction(ctx, pred); err != nil {
			return err
		}
		if err := store.SetExpectedHarvest(ctx, cycle.ID, res.PredDays); err != nil {
			return err
		}

		result.Outcome = OutcomePredicted
		result.Prediction = pred
		return nil
	})

	if err != nil {
		o.metrics.RecordPipelineRun(outcomeFailed)
		runLog.Error(ctx, "[PIPELINE_FAILED] Planting pipeline rolled back", logging.Fields{
			"stage": stage,
		}, err)
		return nil, fmt.Errorf("planting pipeline failed at %s: %w", stage, err)
	}

	o.metrics.RecordPipelineRun(string(result.Outcome))
	runLog.Info(ctx, "[PIPELINE_COMPLETE] Planting pipeline committed", logging.Fields{
		"cycle_id": result.CycleID,
		"outcome":  string(result.Outcome),
	})

	return result, nil
}

// RebuildFeatures re-derives and re-caches the feature vector for an
// existing cycle, typically after late weather data lands. A nil asof
// anchors to the latest available weather date. The snapshot for the same
// (cycle, as-of) key is overwritten, not duplicated.
func (o *Orchestrator) RebuildFeatures(ctx context.Context, cycleID int64, asof *time.Time) (*models.FeatureSnapshot, error) {
	var snapshot *models.FeatureSnapshot

	err := o.tx.WithinTx(ctx, func(store Store) error {
		vector, resolvedAsof, err := o.builder.Build(ctx, store, cycleID, asof)
		if err != nil {
			return err
		}

		snapshot, err = models.NewFeatureSnapshot(cycleID, resolvedAsof, vector)
		if err != nil {
			return err
		}
		return store.UpsertFeatureSnapshot(ctx, snapshot)
	})
	if err != nil {
		return nil, fmt.Errorf("feature rebuild failed for cycle %d: %w", cycleID, err)
	}

	o.logger.Info(ctx, "[FEATURES_REBUILT] Feature snapshot refreshed", logging.Fields{
		"cycle_id": cycleID,
		"asof":     snapshot.Asof.Format("2006-01-02"),
		"hash":     snapshot.Hash,
	})

	return snapshot, nil
}
