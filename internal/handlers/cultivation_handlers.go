package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"cultivation-platform/internal/features"
	"cultivation-platform/internal/models"
	"cultivation-platform/internal/pipeline"
	"cultivation-platform/internal/repository"
	"cultivation-platform/internal/services"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// CultivationHandler handles cultivation API endpoints
type CultivationHandler struct {
	service      *services.CultivationService
	orchestrator *pipeline.Orchestrator
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewCultivationHandler creates a new cultivation handler
func NewCultivationHandler(
	service *services.CultivationService,
	orchestrator *pipeline.Orchestrator,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CultivationHandler {
	return &CultivationHandler{
		service:      service,
		orchestrator: orchestrator,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PlantingRequestBody is the POST /api/plantings payload
type PlantingRequestBody struct {
	BedID           int64  `json:"bed_id"`
	PlantDate       string `json:"plant_date"`
	SowDate         string `json:"sow_date,omitempty"`
	SalesAdjustDays int    `json:"sales_adjust_days,omitempty"`
}

// HarvestRequestBody is the POST /api/harvests payload
type HarvestRequestBody struct {
	CycleID      int64    `json:"cycle_id"`
	HarvestDate  string   `json:"harvest_date"`
	HarvestKg    float64  `json:"harvest_kg"`
	LossTypeID   *int64   `json:"loss_type_id,omitempty"`
	HarvestRatio *float64 `json:"harvest_ratio,omitempty"`
	UserID       *int64   `json:"user_id,omitempty"`
}

// CreatePlanting handles POST /api/plantings. A predicted outcome returns
// 201; the degraded data-missing outcome returns 202 so callers can tell
// "recorded but not yet predictable" from both success and failure.
func (h *CultivationHandler) CreatePlanting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/plantings").Observe(duration.Seconds())
	}()

	var body PlantingRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.BedID <= 0 {
		h.sendError(w, r, "bed_id is required", http.StatusBadRequest)
		return
	}

	plantDate, err := time.Parse("2006-01-02", body.PlantDate)
	if err != nil {
		h.sendError(w, r, "invalid plant_date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	req := pipeline.PlantingRequest{
		BedID:           body.BedID,
		PlantDate:       plantDate,
		SalesAdjustDays: body.SalesAdjustDays,
	}

	if body.SowDate != "" {
		sowDate, err := time.Parse("2006-01-02", body.SowDate)
		if err != nil {
			h.sendError(w, r, "invalid sow_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		req.SowDate = &sowDate
	}

	result, err := h.orchestrator.PlantCycle(ctx, req)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_PLANTING_ERROR] Planting pipeline failed", logging.Fields{
			"bed_id": body.BedID,
		}, err)
		h.metrics.RecordAPIError("pipeline_error", "/api/plantings")
		h.sendError(w, r, "planting could not be completed", http.StatusBadGateway)
		return
	}

	status := http.StatusCreated
	if result.Outcome == pipeline.OutcomePending {
		status = http.StatusAccepted
	}

	h.metrics.RecordAPIRequest("/api/plantings", "POST", strconv.Itoa(status))
	h.sendJSON(w, result, status)
}

// CreateHarvest handles POST /api/harvests
func (h *CultivationHandler) CreateHarvest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body HarvestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	harvestDate, err := time.Parse("2006-01-02", body.HarvestDate)
	if err != nil {
		h.sendError(w, r, "invalid harvest_date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	harvest := &models.Harvest{
		CycleID:      body.CycleID,
		HarvestDate:  harvestDate,
		HarvestKg:    body.HarvestKg,
		LossTypeID:   body.LossTypeID,
		HarvestRatio: body.HarvestRatio,
		UserID:       body.UserID,
	}

	if err := h.service.RecordHarvest(ctx, harvest); err != nil {
		h.logger.Error(ctx, "[API_HARVEST_ERROR] Failed to record harvest", logging.Fields{
			"cycle_id": body.CycleID,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/harvests")
		h.sendError(w, r, "failed to record harvest", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/harvests", "POST", "201")
	h.sendJSON(w, harvest, http.StatusCreated)
}

// GetBeds handles GET /api/beds
func (h *CultivationHandler) GetBeds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	beds, err := h.service.ListBeds(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_BEDS_ERROR] Failed to list beds", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/beds")
		h.sendError(w, r, "failed to retrieve beds", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/beds", "GET", "200")
	h.sendJSON(w, beds, http.StatusOK)
}

// GetBedHistory handles GET /api/beds/{id}/history
func (h *CultivationHandler) GetBedHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bedID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid bed id", http.StatusBadRequest)
		return
	}

	events, err := h.service.BedHistory(ctx, bedID)
	if err != nil {
		h.logger.Error(ctx, "[API_BED_HISTORY_ERROR] Failed to get bed history", logging.Fields{
			"bed_id": bedID,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/beds/history")
		h.sendError(w, r, "failed to retrieve bed history", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/beds/{id}/history", "GET", "200")
	h.sendJSON(w, events, http.StatusOK)
}

// GetCycle handles GET /api/cycles/{id}
func (h *CultivationHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cycleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid cycle id", http.StatusBadRequest)
		return
	}

	cycle, err := h.service.GetCycle(ctx, cycleID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}
		h.metrics.RecordAPIError("internal_error", "/api/cycles")
		h.sendError(w, r, "failed to retrieve cycle", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/cycles/{id}", "GET", "200")
	h.sendJSON(w, cycle, http.StatusOK)
}

// GetCyclePrediction handles GET /api/cycles/{id}/prediction
func (h *CultivationHandler) GetCyclePrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cycleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid cycle id", http.StatusBadRequest)
		return
	}

	pred, err := h.service.LatestPrediction(ctx, cycleID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}
		h.metrics.RecordAPIError("internal_error", "/api/cycles/prediction")
		h.sendError(w, r, "failed to retrieve prediction", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/cycles/{id}/prediction", "GET", "200")
	h.sendJSON(w, pred, http.StatusOK)
}

// RebuildCycleFeatures handles POST /api/cycles/{id}/features/rebuild,
// re-deriving the cached feature snapshot once late weather data arrives.
func (h *CultivationHandler) RebuildCycleFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cycleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid cycle id", http.StatusBadRequest)
		return
	}

	var asof *time.Time
	if asofStr := r.URL.Query().Get("asof"); asofStr != "" {
		parsed, err := time.Parse("2006-01-02", asofStr)
		if err != nil {
			h.sendError(w, r, "invalid asof format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asof = &parsed
	}

	snapshot, err := h.orchestrator.RebuildFeatures(ctx, cycleID, asof)
	if err != nil {
		var notFound *repository.NotFoundError
		switch {
		case errors.As(err, &notFound):
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
		case errors.Is(err, features.ErrDataUnavailable):
			h.sendError(w, r, "weather data still unavailable for this cycle", http.StatusConflict)
		default:
			h.logger.Error(ctx, "[API_REBUILD_ERROR] Feature rebuild failed", logging.Fields{
				"cycle_id": cycleID,
			}, err)
			h.metrics.RecordAPIError("internal_error", "/api/cycles/features/rebuild")
			h.sendError(w, r, "failed to rebuild features", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordAPIRequest("/api/cycles/{id}/features/rebuild", "POST", "200")
	h.sendJSON(w, snapshot, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *CultivationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *CultivationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *CultivationHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all cultivation API routes
func (h *CultivationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/plantings", h.CreatePlanting).Methods("POST")
	router.HandleFunc("/api/harvests", h.CreateHarvest).Methods("POST")
	router.HandleFunc("/api/beds", h.GetBeds).Methods("GET")
	router.HandleFunc("/api/beds/{id:[0-9]+}/history", h.GetBedHistory).Methods("GET")
	router.HandleFunc("/api/cycles/{id:[0-9]+}", h.GetCycle).Methods("GET")
	router.HandleFunc("/api/cycles/{id:[0-9]+}/prediction", h.GetCyclePrediction).Methods("GET")
	router.HandleFunc("/api/cycles/{id:[0-9]+}/features/rebuild", h.RebuildCycleFeatures).Methods("POST")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
