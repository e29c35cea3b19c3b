package features

import (
	"context"
	"fmt"
	"time"

	"cultivation-platform/internal/models"
)

// lagWindowDays is the trailing window used when weather data lags behind
// the planting date.
const lagWindowDays = 7

// temperatureWindow selects the aggregation window for a cycle. When the
// as-of date is on or after the planting date the window covers the whole
// grown-so-far period; otherwise it is the trailing 7 days ending at as-of.
func temperatureWindow(plantDate, asof time.Time) (time.Time, time.Time) {
	if !asof.Before(plantDate) {
		return plantDate, asof
	}
	return asof.AddDate(0, 0, -(lagWindowDays - 1)), asof
}

// aggregateTemperature computes summary temperature statistics for the
// cycle's window. An empty result (no rows in the window) is returned as-is,
// not as an error; the builder decides how to degrade.
func (b *Builder) aggregateTemperature(ctx context.Context, store Store, plantDate, asof time.Time) (*models.TemperatureStats, error) {
	from, to := temperatureWindow(plantDate, asof)

	stats, err := store.TemperatureStats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate temperature %s..%s: %w",
			from.Format("2006-01-02"), to.Format("2006-01-02"), err)
	}

	return stats, nil
}
