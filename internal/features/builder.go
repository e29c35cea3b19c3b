package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cultivation-platform/internal/models"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// ErrDataUnavailable reports that the feature vector cannot be derived
// because the required weather coverage is missing. Callers downgrade this
// to an alert instead of failing the request.
var ErrDataUnavailable = errors.New("weather data unavailable")

// Store provides the read aggregates the feature builder derives from.
// Implementations may be backed by the database or by an in-memory double.
type Store interface {
	CycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error)
	LatestWeatherDate(ctx context.Context) (*time.Time, error)
	TemperatureStats(ctx context.Context, from, to time.Time) (*models.TemperatureStats, error)
	FinishedCycleStats(ctx context.Context, filter models.CycleStatsFilter) (*models.CycleStats, error)
}

// Builder derives feature vectors for cultivation cycles. The store is
// passed per call so derivation can run inside a caller-owned transaction.
type Builder struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewBuilder creates a new feature builder
func NewBuilder(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Builder {
	return &Builder{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Build derives the feature vector for a cycle at the given as-of date.
// A nil asofOverride anchors to the latest available weather date. Returns
// ErrDataUnavailable when no as-of date exists or the temperature window
// holds no observations; identical inputs always produce identical vectors.
func (b *Builder) Build(ctx context.Context, store Store, cycleID int64, asofOverride *time.Time) (*models.FeatureVector, time.Time, error) {
	timer := time.Now()
	defer func() {
		b.metrics.FeatureBuildDuration.Observe(time.Since(timer).Seconds())
	}()

	var asof time.Time
	if asofOverride != nil {
		asof = *asofOverride
	} else {
		latest, err := store.LatestWeatherDate(ctx)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to resolve as-of date: %w", err)
		}
		if latest == nil {
			return nil, time.Time{}, fmt.Errorf("no weather observations recorded: %w", ErrDataUnavailable)
		}
		asof = *latest
	}

	cycle, err := store.CycleContext(ctx, cycleID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load cycle %d: %w", cycleID, err)
	}

	temp, err := b.aggregateTemperature(ctx, store, cycle.PlantDate, asof)
	if err != nil {
		return nil, time.Time{}, err
	}
	if temp.Empty() {
		return nil, time.Time{}, fmt.Errorf("no temperature coverage for cycle %d at %s: %w",
			cycleID, asof.Format("2006-01-02"), ErrDataUnavailable)
	}

	peer, err := b.resolvePeerStats(ctx, store, cycle.GroupType)
	if err != nil {
		return nil, time.Time{}, err
	}

	yoy, err := b.resolveYoyStats(ctx, store, cycle.BedID, cycle.GroupType, cycle.PlantDate)
	if err != nil {
		return nil, time.Time{}, err
	}
	// No comparable cycle a year back: degrade to the peer estimate,
	// never to zero.
	if yoy.K == 0 {
		yoy.MeanYield = peer.MeanYield
		yoy.MeanDays = peer.MeanDays
	}

	groupNormal := 0
	if cycle.GroupType == models.GroupTypeNormal {
		groupNormal = 1
	}

	vector := &models.FeatureVector{
		NurseryDays:     cycle.NurseryDays(),
		PlantMonth:      int(cycle.PlantDate.Month()),
		GroupNormal:     groupNormal,
		TempAvgMean:     deref(temp.MeanTempAvg),
		TempMaxMax:      deref(temp.MaxTempMax),
		TempMinMin:      deref(temp.MinTempMin),
		TempAvgStd:      deref(temp.StdTempAvg),
		SwingAvgMean:    deref(temp.MeanSwing),
		SwingAvgStd:     deref(temp.StdSwing),
		PeerMeanYield:   peer.MeanYield,
		PeerMeanDays:    peer.MeanDays,
		PeerCount:       peer.K,
		YoyMeanYield:    yoy.MeanYield,
		YoyMeanDays:     yoy.MeanDays,
		YoyCount:        yoy.K,
		YieldGapYoy:     peer.MeanYield - yoy.MeanYield,
		DaysGapYoy:      peer.MeanDays - yoy.MeanDays,
		SalesAdjustDays: cycle.SalesAdjustDays,
	}

	b.logger.Debug(ctx, "[FEATURES_BUILT] Feature vector derived", logging.Fields{
		"cycle_id":   cycleID,
		"asof":       asof.Format("2006-01-02"),
		"peer_count": peer.K,
		"yoy_count":  yoy.K,
	})

	return vector, asof, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
