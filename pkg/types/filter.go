package types

import "time"

// ZoneFilter narrows a QueryZones call. Zero-value fields are unconstrained,
// except Limit/Offset which default to 0 (no limit, no skip).
type ZoneFilter struct {
	Symbol      string
	Timeframe   Timeframe
	Type        ZoneType
	Status      ZoneStatus
	MinStrength float64
	MaxAgeHours float64
	Limit       int
	Offset      int
}

// HistoryQuery bounds a GetZoneHistory/GetTestEvents call.
type HistoryQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// ZoneStatistics summarizes a single zone's lifetime, returned by
// GetZoneStatistics.
type ZoneStatistics struct {
	ZoneID           string    `json:"zoneId"`
	TestCount        int       `json:"testCount"`
	SuccessCount     int       `json:"successCount"`
	SuccessRate      float64   `json:"successRate"`
	AgeHours         float64   `json:"ageHours"`
	CurrentStatus    ZoneStatus `json:"currentStatus"`
	FirstTestedAt    time.Time `json:"firstTestedAt,omitempty"`
	LastTestedAt     time.Time `json:"lastTestedAt,omitempty"`
}
