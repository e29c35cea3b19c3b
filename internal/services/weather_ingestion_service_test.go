package services

import (
	"testing"
	"time"

	"cultivation-platform/internal/models"
)

// TestParseWeatherRecord tests CSV record conversion
func TestParseWeatherRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  []string
		wantErr bool
		check   func(*testing.T, *models.WeatherDaily)
	}{
		{
			name:   "full record with variation",
			record: []string{"2025-04-15", "18.5", "27.0", "9.5", "8.3"},
			check: func(t *testing.T, row *models.WeatherDaily) {
				if !row.Date.Equal(time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("Date = %v", row.Date)
				}
				if row.TempAvg == nil || *row.TempAvg != 18.5 {
					t.Errorf("TempAvg = %v, want 18.5", row.TempAvg)
				}
				if row.Variation == nil || *row.Variation != 8.3 {
					t.Errorf("Variation = %v, want 8.3", row.Variation)
				}
			},
		},
		{
			name:   "record without variation column",
			record: []string{"2025-04-15", "18.5", "27.0", "9.5"},
			check: func(t *testing.T, row *models.WeatherDaily) {
				if row.Variation != nil {
					t.Errorf("Variation = %v, want nil", row.Variation)
				}
			},
		},
		{
			name:   "empty numeric fields become NULL",
			record: []string{"2025-04-15", "", "27.0", "", ""},
			check: func(t *testing.T, row *models.WeatherDaily) {
				if row.TempAvg != nil {
					t.Errorf("TempAvg = %v, want nil", row.TempAvg)
				}
				if row.TempMax == nil || *row.TempMax != 27.0 {
					t.Errorf("TempMax = %v, want 27.0", row.TempMax)
				}
				if row.TempMin != nil {
					t.Errorf("TempMin = %v, want nil", row.TempMin)
				}
			},
		},
		{
			name:    "invalid date",
			record:  []string{"15/04/2025", "18.5", "27.0", "9.5"},
			wantErr: true,
		},
		{
			name:    "non-numeric temperature",
			record:  []string{"2025-04-15", "warm", "27.0", "9.5"},
			wantErr: true,
		},
		{
			name:    "too few fields",
			record:  []string{"2025-04-15", "18.5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := parseWeatherRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWeatherRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.check != nil {
				tt.check(t, row)
			}
		})
	}
}
