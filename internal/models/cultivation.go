package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultNurseryDays is assumed when a cycle has no recorded sow date.
const DefaultNurseryDays = 21

// GroupTypeNormal is the bed group label the feature vector flags explicitly.
const GroupTypeNormal = "normal"

// Alert classification values
const (
	AlertTypeDataMissing = "data_missing"
	AlertStatusOpen      = "open"
)

// Bed represents a raised cultivation bed. Long-lived, rarely mutated.
type Bed struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	GroupType string    `json:"group_type" db:"group_type"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Cycle represents one sow/plant-to-harvest lifecycle for a single bed.
// HarvestStart/HarvestEnd stay NULL until harvesting begins/ends.
type Cycle struct {
	ID              int64      `json:"id" db:"id"`
	BedID           int64      `json:"bed_id" db:"bed_id"`
	SowDate         *time.Time `json:"sow_date,omitempty" db:"sow_date"`
	PlantDate       time.Time  `json:"plant_date" db:"plant_date"`
	HarvestStart    *time.Time `json:"harvest_start,omitempty" db:"harvest_start"`
	HarvestEnd      *time.Time `json:"harvest_end,omitempty" db:"harvest_end"`
	ExpectedHarvest *time.Time `json:"expected_harvest,omitempty" db:"expected_harvest"`
	SalesAdjustDays int        `json:"sales_adjust_days" db:"sales_adjust_days"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Harvest is an append-only record of one harvesting event.
type Harvest struct {
	ID           int64     `json:"id" db:"id"`
	CycleID      int64     `json:"cycle_id" db:"cycle_id"`
	HarvestDate  time.Time `json:"harvest_date" db:"harvest_date"`
	HarvestKg    float64   `json:"harvest_kg" db:"harvest_kg"`
	LossTypeID   *int64    `json:"loss_type_id,omitempty" db:"loss_type_id"`
	HarvestRatio *float64  `json:"harvest_ratio,omitempty" db:"harvest_ratio"`
	UserID       *int64    `json:"user_id,omitempty" db:"user_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// WeatherDaily is one row of the external daily weather series.
// Variation is the recorded diurnal swing; when NULL, max-min is used instead.
type WeatherDaily struct {
	Date      time.Time `json:"date" db:"date"`
	TempAvg   *float64  `json:"temp_avg,omitempty" db:"temp_avg"`
	TempMax   *float64  `json:"temp_max,omitempty" db:"temp_max"`
	TempMin   *float64  `json:"temp_min,omitempty" db:"temp_min"`
	Variation *float64  `json:"variation,omitempty" db:"variation"`
}

// Prediction is one immutable prediction result for a cycle.
type Prediction struct {
	ID          int64     `json:"id" db:"id"`
	CycleID     int64     `json:"cycle_id" db:"cycle_id"`
	ModelID     string    `json:"model_id" db:"model_id"`
	PredDays    float64   `json:"pred_days" db:"pred_days"`
	PredTotalKg float64   `json:"pred_total_kg" db:"pred_total_kg"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Alert flags a cycle for downstream reconciliation tooling.
type Alert struct {
	ID          int64     `json:"id" db:"id"`
	Date        time.Time `json:"date" db:"date"`
	Type        string    `json:"type" db:"type"`
	PayloadJSON string    `json:"payload_json" db:"payload_json"`
	Status      string    `json:"status" db:"status"`
}

// NewDataMissingAlert builds an open data_missing alert referencing a cycle.
func NewDataMissingAlert(cycleID int64, date time.Time) *Alert {
	return &Alert{
		Date:        date,
		Type:        AlertTypeDataMissing,
		PayloadJSON: fmt.Sprintf(`{"cycle_id": %d}`, cycleID),
		Status:      AlertStatusOpen,
	}
}

// CycleContext is the cycle/bed join the feature builder derives from.
type CycleContext struct {
	CycleID         int64      `db:"id"`
	BedID           int64      `db:"bed_id"`
	GroupType       string     `db:"group_type"`
	SowDate         *time.Time `db:"sow_date"`
	PlantDate       time.Time  `db:"plant_date"`
	SalesAdjustDays int        `db:"sales_adjust_days"`
}

// NurseryDays returns plant_date - sow_date in whole days, or the
// default when no sow date was recorded.
func (c *CycleContext) NurseryDays() int {
	if c.SowDate == nil {
		return DefaultNurseryDays
	}
	return int(c.PlantDate.Sub(*c.SowDate).Hours() / 24)
}

// TemperatureStats holds aggregate temperature statistics over a date window.
// All fields are NULL when the window contains no observations; a missing
// MeanTempAvg means the feature vector cannot be derived.
type TemperatureStats struct {
	MeanTempAvg *float64 `db:"temp_avg_mean"`
	MaxTempMax  *float64 `db:"temp_max_max"`
	MinTempMin  *float64 `db:"temp_min_min"`
	StdTempAvg  *float64 `db:"temp_avg_std"`
	MeanSwing   *float64 `db:"swing_mean"`
	StdSwing    *float64 `db:"swing_std"`
}

// Empty reports whether the window held no usable observations.
func (t *TemperatureStats) Empty() bool {
	return t == nil || t.MeanTempAvg == nil
}

// CycleStats is the aggregate over a set of comparable finished cycles.
// K is the number of cycles matched; means are 0 when K is 0.
type CycleStats struct {
	MeanYield float64 `db:"mean_yield"`
	MeanDays  float64 `db:"mean_days"`
	K         int     `db:"k"`
}

// CycleStatsFilter narrows the finished-cycle aggregate query. The zero
// value selects all finished cycles with no time or group restriction.
type CycleStatsFilter struct {
	// HarvestEndWithinDays restricts to cycles whose harvest_end falls in
	// the last N days. 0 means no recency restriction.
	HarvestEndWithinDays int
	GroupType            *string
	BedID                *int64
	PlantedFrom          *time.Time
	PlantedTo            *time.Time
}

// CycleEvent is one row of a bed's planting/harvest timeline.
type CycleEvent struct {
	Date   time.Time `json:"date" db:"date"`
	Action string    `json:"action" db:"action"`
}

// FeatureVector is the named numeric input submitted to the prediction
// service. Field order is fixed so serialization is deterministic and the
// snapshot hash is reproducible for identical inputs.
type FeatureVector struct {
	NurseryDays     int     `json:"nursery_days"`
	PlantMonth      int     `json:"plant_month"`
	GroupNormal     int     `json:"group_normal"`
	TempAvgMean     float64 `json:"temp_avg_mean"`
	TempMaxMax      float64 `json:"temp_max_max"`
	TempMinMin      float64 `json:"temp_min_min"`
	TempAvgStd      float64 `json:"temp_avg_std"`
	SwingAvgMean    float64 `json:"swing_avg_mean"`
	SwingAvgStd     float64 `json:"swing_avg_std"`
	PeerMeanYield   float64 `json:"peer_mean_yield"`
	PeerMeanDays    float64 `json:"peer_mean_days"`
	PeerCount       int     `json:"peer_count"`
	YoyMeanYield    float64 `json:"yoy_mean_yield"`
	YoyMeanDays     float64 `json:"yoy_mean_days"`
	YoyCount        int     `json:"yoy_count"`
	YieldGapYoy     float64 `json:"yield_gap_yoy"`
	DaysGapYoy      float64 `json:"days_gap_yoy"`
	SalesAdjustDays int     `json:"sales_adjust_days"`
}

// Serialize renders the vector as canonical JSON.
func (v *FeatureVector) Serialize() ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize feature vector: %w", err)
	}
	return data, nil
}

// FeatureSnapshot caches the latest derived vector for a (cycle, asof) pair.
// Hash covers the keys and the serialized vector so consumers can detect
// changes; it is recomputed on every derivation.
type FeatureSnapshot struct {
	ID           int64     `json:"id" db:"id"`
	CycleID      int64     `json:"cycle_id" db:"cycle_id"`
	Asof         time.Time `json:"asof" db:"asof"`
	FeaturesJSON string    `json:"features_json" db:"features_json"`
	Hash         string    `json:"hash" db:"hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewFeatureSnapshot serializes the vector and computes its content hash.
func NewFeatureSnapshot(cycleID int64, asof time.Time, vector *FeatureVector) (*FeatureSnapshot, error) {
	data, err := vector.Serialize()
	if err != nil {
		return nil, err
	}

	return &FeatureSnapshot{
		CycleID:      cycleID,
		Asof:         asof,
		FeaturesJSON: string(data),
		Hash:         SnapshotHash(cycleID, asof, data),
	}, nil
}

// SnapshotHash computes sha256(cycle_id|asof|serialized_vector) as lowercase hex.
func SnapshotHash(cycleID int64, asof time.Time, serialized []byte) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", cycleID, asof.Format("2006-01-02"), serialized)))
	return hex.EncodeToString(sum[:])
}
