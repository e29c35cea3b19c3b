package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cultivation-platform/internal/features"
	"cultivation-platform/internal/models"
	"cultivation-platform/internal/prediction"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

var testMetrics = metrics.NewCollector("pipeline_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("pipeline-test", "test", logging.FatalLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func f64(v float64) *float64 { return &v }

// fakeStore is an in-memory Store double recording every write.
type fakeStore struct {
	latest *time.Time
	temps  *models.TemperatureStats
	stats  *models.CycleStats

	cycles      []*models.Cycle
	snapshots   []*models.FeatureSnapshot
	predictions []*models.Prediction
	alerts      []*models.Alert
	expected    map[int64]float64
}

func healthyFakeStore() *fakeStore {
	latest := date(2025, 4, 20)
	return &fakeStore{
		latest: &latest,
		temps: &models.TemperatureStats{
			MeanTempAvg: f64(18.5),
			MaxTempMax:  f64(27.0),
			MinTempMin:  f64(9.5),
			StdTempAvg:  f64(2.1),
			MeanSwing:   f64(8.3),
			StdSwing:    f64(1.4),
		},
		stats:    &models.CycleStats{MeanYield: 100, MeanDays: 50, K: 2},
		expected: make(map[int64]float64),
	}
}

func (s *fakeStore) CycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error) {
	for _, cycle := range s.cycles {
		if cycle.ID == cycleID {
			return &models.CycleContext{
				CycleID:         cycle.ID,
				BedID:           cycle.BedID,
				GroupType:       models.GroupTypeNormal,
				SowDate:         cycle.SowDate,
				PlantDate:       cycle.PlantDate,
				SalesAdjustDays: cycle.SalesAdjustDays,
			}, nil
		}
	}
	return nil, errors.New("cycle not found")
}

func (s *fakeStore) LatestWeatherDate(ctx context.Context) (*time.Time, error) {
	return s.latest, nil
}

func (s *fakeStore) TemperatureStats(ctx context.Context, from, to time.Time) (*models.TemperatureStats, error) {
	return s.temps, nil
}

func (s *fakeStore) FinishedCycleStats(ctx context.Context, filter models.CycleStatsFilter) (*models.CycleStats, error) {
	return s.stats, nil
}

func (s *fakeStore) InsertCycle(ctx context.Context, cycle *models.Cycle) error {
	cycle.ID = int64(len(s.cycles) + 42)
	s.cycles = append(s.cycles, cycle)
	return nil
}

func (s *fakeStore) UpsertFeatureSnapshot(ctx context.Context, snapshot *models.FeatureSnapshot) error {
	for i, existing := range s.snapshots {
		if existing.CycleID == snapshot.CycleID && existing.Asof.Equal(snapshot.Asof) {
			s.snapshots[i] = snapshot
			return nil
		}
	}
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *fakeStore) InsertPrediction(ctx context.Context, pred *models.Prediction) error {
	pred.ID = int64(len(s.predictions) + 1)
	s.predictions = append(s.predictions, pred)
	return nil
}

func (s *fakeStore) InsertAlert(ctx context.Context, alert *models.Alert) error {
	alert.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *fakeStore) SetExpectedHarvest(ctx context.Context, cycleID int64, predDays float64) error {
	s.expected[cycleID] = predDays
	return nil
}

// clone deep-copies the mutable state so a rollback restores it exactly.
func (s *fakeStore) clone() *fakeStore {
	copied := *s
	copied.cycles = append([]*models.Cycle(nil), s.cycles...)
	copied.snapshots = append([]*models.FeatureSnapshot(nil), s.snapshots...)
	copied.predictions = append([]*models.Prediction(nil), s.predictions...)
	copied.alerts = append([]*models.Alert(nil), s.alerts...)
	copied.expected = make(map[int64]float64, len(s.expected))
	for k, v := range s.expected {
		copied.expected[k] = v
	}
	return &copied
}

// fakeTx mimics transactional semantics: on error nothing written through
// the store survives.
type fakeTx struct {
	store      *fakeStore
	commitErr  error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(store Store) error) error {
	backup := f.store.clone()
	if err := fn(f.store); err != nil {
		*f.store = *backup
		f.rolledBack = true
		return err
	}
	if f.commitErr != nil {
		*f.store = *backup
		f.rolledBack = true
		return f.commitErr
	}
	f.committed = true
	return nil
}

type fakePredictor struct {
	result *prediction.Result
	err    error
	calls  int
}

func (p *fakePredictor) Predict(ctx context.Context, vector *models.FeatureVector) (*prediction.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func newTestOrchestrator(store *fakeStore, predictor Predictor) (*Orchestrator, *fakeTx) {
	logger := testLogger()
	tx := &fakeTx{store: store}
	builder := features.NewBuilder(logger, testMetrics)
	return NewOrchestrator(tx, builder, predictor, logger, testMetrics), tx
}

func plantingRequest() PlantingRequest {
	sow := date(2025, 3, 20)
	return PlantingRequest{
		BedID:           3,
		SowDate:         &sow,
		PlantDate:       date(2025, 4, 10),
		SalesAdjustDays: 2,
	}
}

func TestPlantCycle_PredictedPath(t *testing.T) {
	store := healthyFakeStore()
	predictor := &fakePredictor{
		result: &prediction.Result{PredDays: 48.5, PredYield: 120.25, ModelID: "2025q2"},
	}
	orchestrator, tx := newTestOrchestrator(store, predictor)

	result, err := orchestrator.PlantCycle(context.Background(), plantingRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomePredicted, result.Outcome)
	assert.Equal(t, int64(42), result.CycleID)
	assert.True(t, tx.committed)

	require.Len(t, store.cycles, 1)
	assert.Equal(t, int64(3), store.cycles[0].BedID)

	require.Len(t, store.snapshots, 1)
	snapshot := store.snapshots[0]
	assert.Equal(t, int64(42), snapshot.CycleID)
	assert.Equal(t, date(2025, 4, 20), snapshot.Asof)
	assert.NotEmpty(t, snapshot.Hash)

	require.Len(t, store.predictions, 1)
	pred := store.predictions[0]
	assert.Equal(t, int64(42), pred.CycleID)
	assert.Equal(t, "2025q2", pred.ModelID)
	assert.Equal(t, 48.5, pred.PredDays)
	assert.Equal(t, 120.25, pred.PredTotalKg)
	assert.Equal(t, pred, result.Prediction)

	assert.Equal(t, 48.5, store.expected[42])
	assert.Empty(t, store.alerts)
}

func TestPlantCycle_MissingWeatherCommitsPending(t *testing.T) {
	store := healthyFakeStore()
	store.latest = nil
	predictor := &fakePredictor{}
	orchestrator, tx := newTestOrchestrator(store, predictor)

	result, err := orchestrator.PlantCycle(context.Background(), plantingRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomePending, result.Outcome)
	assert.Nil(t, result.Prediction)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)

	// The cycle survives the degraded path
	require.Len(t, store.cycles, 1)
	assert.Equal(t, result.CycleID, store.cycles[0].ID)

	// Flagged for reconciliation, nothing predicted or cached
	require.Len(t, store.alerts, 1)
	assert.Equal(t, models.AlertTypeDataMissing, store.alerts[0].Type)
	assert.Equal(t, models.AlertStatusOpen, store.alerts[0].Status)
	assert.Contains(t, store.alerts[0].PayloadJSON, "42")
	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.predictions)
	assert.Zero(t, predictor.calls)
}

func TestPlantCycle_PredictorFailureRollsBackEverything(t *testing.T) {
	store := healthyFakeStore()
	predictor := &fakePredictor{err: prediction.ErrPredictionUnavailable}
	orchestrator, tx := newTestOrchestrator(store, predictor)

	result, err := orchestrator.PlantCycle(context.Background(), plantingRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, prediction.ErrPredictionUnavailable)
	assert.ErrorContains(t, err, "failed at predict")

	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)

	// Nothing survives, including the cycle row
	assert.Empty(t, store.cycles)
	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.predictions)
	assert.Empty(t, store.alerts)
}

func TestPlantCycle_CommitFailureDiscardsState(t *testing.T) {
	store := healthyFakeStore()
	predictor := &fakePredictor{
		result: &prediction.Result{PredDays: 48.5, PredYield: 120.25, ModelID: "2025q2"},
	}
	orchestrator, tx := newTestOrchestrator(store, predictor)
	tx.commitErr = errors.New("serialization failure")

	result, err := orchestrator.PlantCycle(context.Background(), plantingRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, tx.rolledBack)

	// Every write is discarded, including the expected-harvest stamp
	assert.Empty(t, store.cycles)
	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.predictions)
	assert.Empty(t, store.expected)
}

func TestPlantCycle_EmptyTemperatureWindowAlsoDegrades(t *testing.T) {
	store := healthyFakeStore()
	store.temps = &models.TemperatureStats{}
	predictor := &fakePredictor{}
	orchestrator, tx := newTestOrchestrator(store, predictor)

	result, err := orchestrator.PlantCycle(context.Background(), plantingRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomePending, result.Outcome)
	assert.True(t, tx.committed)
	require.Len(t, store.alerts, 1)
	assert.Equal(t, models.AlertTypeDataMissing, store.alerts[0].Type)
}

func TestRebuildFeatures(t *testing.T) {
	store := healthyFakeStore()
	predictor := &fakePredictor{}
	orchestrator, tx := newTestOrchestrator(store, predictor)

	// Seed an existing cycle the rebuild can target
	cycle := &models.Cycle{BedID: 3, PlantDate: date(2025, 4, 10)}
	require.NoError(t, store.InsertCycle(context.Background(), cycle))

	snapshot, err := orchestrator.RebuildFeatures(context.Background(), cycle.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, cycle.ID, snapshot.CycleID)
	assert.Equal(t, date(2025, 4, 20), snapshot.Asof)
	assert.NotEmpty(t, snapshot.FeaturesJSON)
	assert.Equal(t,
		models.SnapshotHash(cycle.ID, snapshot.Asof, []byte(snapshot.FeaturesJSON)),
		snapshot.Hash)

	assert.True(t, tx.committed)
	require.Len(t, store.snapshots, 1)
}

func TestRebuildFeatures_SameKeyOverwrites(t *testing.T) {
	store := healthyFakeStore()
	orchestrator, _ := newTestOrchestrator(store, &fakePredictor{})

	cycle := &models.Cycle{BedID: 3, PlantDate: date(2025, 4, 10)}
	require.NoError(t, store.InsertCycle(context.Background(), cycle))

	first, err := orchestrator.RebuildFeatures(context.Background(), cycle.ID, nil)
	require.NoError(t, err)

	// Late weather correction changes the derived vector for the same as-of
	store.temps.MeanTempAvg = f64(20.0)

	second, err := orchestrator.RebuildFeatures(context.Background(), cycle.ID, nil)
	require.NoError(t, err)

	require.Len(t, store.snapshots, 1)
	stored := store.snapshots[0]
	assert.Equal(t, second.FeaturesJSON, stored.FeaturesJSON)
	assert.Contains(t, stored.FeaturesJSON, `"temp_avg_mean":20`)
	assert.NotEqual(t, first.Hash, stored.Hash)
	assert.Equal(t,
		models.SnapshotHash(cycle.ID, stored.Asof, []byte(stored.FeaturesJSON)),
		stored.Hash)
}

func TestRebuildFeatures_AsofOverride(t *testing.T) {
	store := healthyFakeStore()
	orchestrator, _ := newTestOrchestrator(store, &fakePredictor{})

	cycle := &models.Cycle{BedID: 3, PlantDate: date(2025, 4, 10)}
	require.NoError(t, store.InsertCycle(context.Background(), cycle))

	asof := date(2025, 4, 15)
	snapshot, err := orchestrator.RebuildFeatures(context.Background(), cycle.ID, &asof)
	require.NoError(t, err)
	assert.Equal(t, asof, snapshot.Asof)
}

func TestRebuildFeatures_DataStillMissing(t *testing.T) {
	store := healthyFakeStore()
	store.latest = nil
	orchestrator, tx := newTestOrchestrator(store, &fakePredictor{})

	cycle := &models.Cycle{BedID: 3, PlantDate: date(2025, 4, 10)}
	require.NoError(t, store.InsertCycle(context.Background(), cycle))

	_, err := orchestrator.RebuildFeatures(context.Background(), cycle.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrDataUnavailable)
	assert.False(t, tx.committed)
	assert.Empty(t, store.snapshots)
}
