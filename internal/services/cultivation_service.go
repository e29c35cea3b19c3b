package services

import (
	"context"
	"fmt"

	"cultivation-platform/internal/models"
	"cultivation-platform/internal/repository"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// CultivationService handles bed, cycle, and harvest operations outside the
// planting pipeline.
type CultivationService struct {
	repo    repository.CultivationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCultivationService creates a new cultivation service
func NewCultivationService(repo repository.CultivationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CultivationService {
	return &CultivationService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListBeds retrieves all active beds
func (s *CultivationService) ListBeds(ctx context.Context) ([]*models.Bed, error) {
	return s.repo.ListActiveBeds(ctx)
}

// GetCycle retrieves a cycle by ID
func (s *CultivationService) GetCycle(ctx context.Context, cycleID int64) (*models.Cycle, error) {
	return s.repo.GetCycle(ctx, cycleID)
}

// BedHistory retrieves the planting/harvest timeline of a bed
func (s *CultivationService) BedHistory(ctx context.Context, bedID int64) ([]*models.CycleEvent, error) {
	return s.repo.BedHistory(ctx, bedID)
}

// LatestPrediction retrieves the most recent prediction for a cycle
func (s *CultivationService) LatestPrediction(ctx context.Context, cycleID int64) (*models.Prediction, error) {
	return s.repo.LatestPrediction(ctx, cycleID)
}

// RecordHarvest validates and records one harvesting event
func (s *CultivationService) RecordHarvest(ctx context.Context, harvest *models.Harvest) error {
	if harvest.CycleID == 0 {
		return fmt.Errorf("cycle id is required")
	}
	if harvest.HarvestKg < 0 {
		return fmt.Errorf("harvest mass must not be negative, got %f", harvest.HarvestKg)
	}

	if err := s.repo.RecordHarvest(ctx, harvest); err != nil {
		return err
	}

	s.logger.Info(ctx, "[HARVEST_RECORDED] Harvest recorded", logging.Fields{
		"cycle_id":     harvest.CycleID,
		"harvest_date": harvest.HarvestDate.Format("2006-01-02"),
		"harvest_kg":   harvest.HarvestKg,
	})

	return nil
}
