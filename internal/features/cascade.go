package features

import (
	"context"
	"fmt"
	"time"

	"cultivation-platform/internal/models"
)

// peerRecencyWindows are the harvest_end recency windows tried in order,
// narrowest first.
var peerRecencyWindows = []int{5, 10, 14}

// yoyWindowSlackDays widens the year-over-year planting window on each side.
const yoyWindowSlackDays = 5

// resolveCascade evaluates an ordered list of candidate query filters and
// returns the first aggregate matching at least one cycle. When every filter
// comes up empty the last result is returned (K = 0, zero means), so the
// final entry of each cascade acts as its fallback.
func resolveCascade(ctx context.Context, store Store, filters []models.CycleStatsFilter) (*models.CycleStats, error) {
	var last *models.CycleStats
	for _, filter := range filters {
		stats, err := store.FinishedCycleStats(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate finished cycles: %w", err)
		}
		if stats.K >= 1 {
			return stats, nil
		}
		last = stats
	}
	return last, nil
}

// resolvePeerStats estimates mean total yield and mean days-to-first-harvest
// across recently finished comparable cycles. The cascade trades specificity
// for availability: narrow recent windows with a group match come first, then
// the same windows unmatched, then wider windows, then all finished cycles.
func (b *Builder) resolvePeerStats(ctx context.Context, store Store, groupType string) (*models.CycleStats, error) {
	filters := make([]models.CycleStatsFilter, 0, 2*len(peerRecencyWindows)+1)
	for _, window := range peerRecencyWindows {
		group := groupType
		filters = append(filters,
			models.CycleStatsFilter{HarvestEndWithinDays: window, GroupType: &group},
			models.CycleStatsFilter{HarvestEndWithinDays: window},
		)
	}
	// unrestricted fallback over all finished cycles
	filters = append(filters, models.CycleStatsFilter{})

	return resolveCascade(ctx, store, filters)
}

// resolveYoyStats estimates the same pair from cycles planted within a
// ±5-day window around one year before the planting date: same bed first,
// then same group, then any bed. K = 0 means no comparable exists at all;
// the builder substitutes peer values in that case.
func (b *Builder) resolveYoyStats(ctx context.Context, store Store, bedID int64, groupType string, plantDate time.Time) (*models.CycleStats, error) {
	target := plantDate.AddDate(-1, 0, 0)
	from := target.AddDate(0, 0, -yoyWindowSlackDays)
	to := target.AddDate(0, 0, yoyWindowSlackDays)

	bed := bedID
	group := groupType
	filters := []models.CycleStatsFilter{
		{PlantedFrom: &from, PlantedTo: &to, BedID: &bed},
		{PlantedFrom: &from, PlantedTo: &to, GroupType: &group},
		{PlantedFrom: &from, PlantedTo: &to},
	}

	return resolveCascade(ctx, store, filters)
}
