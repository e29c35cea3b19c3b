package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cultivation-platform/internal/features"
	"cultivation-platform/internal/models"
	"cultivation-platform/internal/pipeline"
	"cultivation-platform/internal/prediction"
	"cultivation-platform/internal/repository"
	"cultivation-platform/internal/services"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

var testMetrics = metrics.NewCollector("handlers_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.FatalLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func f64(v float64) *float64 { return &v }

// fakeStore backs the pipeline with canned aggregates; insertCycleErr lets a
// test simulate a referenced bed that does not exist.
type fakeStore struct {
	latest         *time.Time
	insertCycleErr error
	cycles         []*models.Cycle
}

func healthyFakeStore() *fakeStore {
	latest := time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC)
	return &fakeStore{latest: &latest}
}

func (s *fakeStore) CycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error) {
	for _, cycle := range s.cycles {
		if cycle.ID == cycleID {
			return &models.CycleContext{
				CycleID:   cycle.ID,
				BedID:     cycle.BedID,
				GroupType: models.GroupTypeNormal,
				PlantDate: cycle.PlantDate,
			}, nil
		}
	}
	return nil, &repository.NotFoundError{Resource: "cycle", ID: "unknown"}
}

func (s *fakeStore) LatestWeatherDate(ctx context.Context) (*time.Time, error) {
	return s.latest, nil
}

func (s *fakeStore) TemperatureStats(ctx context.Context, from, to time.Time) (*models.TemperatureStats, error) {
	return &models.TemperatureStats{
		MeanTempAvg: f64(18.5),
		MaxTempMax:  f64(27.0),
		MinTempMin:  f64(9.5),
		StdTempAvg:  f64(2.1),
		MeanSwing:   f64(8.3),
		StdSwing:    f64(1.4),
	}, nil
}

func (s *fakeStore) FinishedCycleStats(ctx context.Context, filter models.CycleStatsFilter) (*models.CycleStats, error) {
	return &models.CycleStats{MeanYield: 100, MeanDays: 50, K: 2}, nil
}

func (s *fakeStore) InsertCycle(ctx context.Context, cycle *models.Cycle) error {
	if s.insertCycleErr != nil {
		return s.insertCycleErr
	}
	cycle.ID = 42
	s.cycles = append(s.cycles, cycle)
	return nil
}

func (s *fakeStore) UpsertFeatureSnapshot(ctx context.Context, snapshot *models.FeatureSnapshot) error {
	return nil
}

func (s *fakeStore) InsertPrediction(ctx context.Context, pred *models.Prediction) error {
	pred.ID = 1
	return nil
}

func (s *fakeStore) InsertAlert(ctx context.Context, alert *models.Alert) error {
	alert.ID = 1
	return nil
}

func (s *fakeStore) SetExpectedHarvest(ctx context.Context, cycleID int64, predDays float64) error {
	return nil
}

type fakeTx struct {
	store *fakeStore
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(store pipeline.Store) error) error {
	return fn(f.store)
}

type fakePredictor struct {
	result *prediction.Result
	err    error
}

func (p *fakePredictor) Predict(ctx context.Context, vector *models.FeatureVector) (*prediction.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func newTestHandler(store *fakeStore, predictor pipeline.Predictor) *CultivationHandler {
	logger := testLogger()
	builder := features.NewBuilder(logger, testMetrics)
	orchestrator := pipeline.NewOrchestrator(&fakeTx{store: store}, builder, predictor, logger, testMetrics)
	service := services.NewCultivationService(nil, logger, testMetrics)
	return NewCultivationHandler(service, orchestrator, logger, testMetrics)
}

func postPlanting(t *testing.T, handler *CultivationHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/plantings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreatePlanting(rec, req)
	return rec
}

func TestCreatePlanting_Predicted(t *testing.T) {
	handler := newTestHandler(healthyFakeStore(), &fakePredictor{
		result: &prediction.Result{PredDays: 48.5, PredYield: 120.25, ModelID: "2025q2"},
	})

	rec := postPlanting(t, handler, `{"bed_id": 3, "plant_date": "2025-04-10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result pipeline.PlantingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.OutcomePredicted, result.Outcome)
	assert.Equal(t, int64(42), result.CycleID)
	require.NotNil(t, result.Prediction)
	assert.Equal(t, "2025q2", result.Prediction.ModelID)
}

func TestCreatePlanting_PendingWhenWeatherMissing(t *testing.T) {
	store := healthyFakeStore()
	store.latest = nil
	handler := newTestHandler(store, &fakePredictor{})

	rec := postPlanting(t, handler, `{"bed_id": 3, "plant_date": "2025-04-10"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var result pipeline.PlantingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.OutcomePending, result.Outcome)
	assert.Nil(t, result.Prediction)
}

func TestCreatePlanting_UnknownBedReturns404(t *testing.T) {
	store := healthyFakeStore()
	store.insertCycleErr = &repository.NotFoundError{Resource: "bed", ID: "99"}
	handler := newTestHandler(store, &fakePredictor{})

	rec := postPlanting(t, handler, `{"bed_id": 99, "plant_date": "2025-04-10"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "bed not found")
}

func TestCreatePlanting_PredictionFailureReturns502(t *testing.T) {
	handler := newTestHandler(healthyFakeStore(), &fakePredictor{
		err: prediction.ErrPredictionUnavailable,
	})

	rec := postPlanting(t, handler, `{"bed_id": 3, "plant_date": "2025-04-10"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreatePlanting_BadRequests(t *testing.T) {
	handler := newTestHandler(healthyFakeStore(), &fakePredictor{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"bed_id": `},
		{name: "missing bed id", body: `{"plant_date": "2025-04-10"}`},
		{name: "bad plant date", body: `{"bed_id": 3, "plant_date": "10/04/2025"}`},
		{name: "bad sow date", body: `{"bed_id": 3, "plant_date": "2025-04-10", "sow_date": "bad"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postPlanting(t, handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
