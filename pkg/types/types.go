// Package types provides the shared data model for the market structure
// analyzer: bars, fractals, swings, Fibonacci sets, base ranges, impulse
// moves, supply/demand zones, and their lifecycle events.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe represents a bar aggregation period.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// FractalKind distinguishes a swing-high pivot from a swing-low pivot.
type FractalKind string

const (
	FractalHigh FractalKind = "high"
	FractalLow  FractalKind = "low"
)

// SwingDirection is the direction of travel between a swing's endpoints.
type SwingDirection string

const (
	SwingUp   SwingDirection = "up"
	SwingDown SwingDirection = "down"
)

// ZoneType classifies a supply/demand zone.
type ZoneType string

const (
	ZoneSupply       ZoneType = "supply"
	ZoneDemand       ZoneType = "demand"
	ZoneContinuation ZoneType = "continuation"
)

// ZoneStatus is a zone's position in its lifecycle state machine (spec §4.7).
type ZoneStatus string

const (
	ZoneStatusActive  ZoneStatus = "active"
	ZoneStatusTested  ZoneStatus = "tested"
	ZoneStatusBroken  ZoneStatus = "broken"
	ZoneStatusFlipped ZoneStatus = "flipped"
	ZoneStatusExpired ZoneStatus = "expired"
)

// MoveDirection is the direction of an impulse move.
type MoveDirection string

const (
	MoveBullish MoveDirection = "bullish"
	MoveBearish MoveDirection = "bearish"
)

// TestEventKind classifies how far a bar penetrated a zone.
type TestEventKind string

const (
	TestTouch       TestEventKind = "touch"
	TestPenetration TestEventKind = "penetration"
	TestBreak       TestEventKind = "break"
)

// StateTransitionReason explains why a ZoneStateUpdate occurred.
type StateTransitionReason string

const (
	ReasonZoneTest   StateTransitionReason = "zone_test"
	ReasonPriceBreak StateTransitionReason = "price_break"
	ReasonZoneFlip   StateTransitionReason = "zone_flip"
	ReasonAgeExpiry  StateTransitionReason = "age_expiry"
)

// DominantType is the bias implied by the strongest nearby zone, as
// returned from a confluence query.
type DominantType string

const (
	DominantSupply  DominantType = "supply"
	DominantDemand  DominantType = "demand"
	DominantNeutral DominantType = "neutral"
)

// Bar is a single OHLCV candlestick for one (symbol, timeframe) series.
// Invariant: Low <= min(Open,Close) <= max(Open,Close) <= High.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Time      time.Time       `json:"time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the bar's OHLC relation holds and volume is
// non-negative, per spec §3's Bar invariant.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	lo := decimal.Min(b.Open, b.Close)
	hi := decimal.Max(b.Open, b.Close)
	if b.Low.GreaterThan(lo) || hi.GreaterThan(b.High) {
		return false
	}
	return !b.Low.GreaterThan(b.High)
}

// Fractal is a confirmed n-bar pivot. Immutable once created.
type Fractal struct {
	Index    int             `json:"index"`
	Time     time.Time       `json:"time"`
	Price    decimal.Decimal `json:"price"`
	Kind     FractalKind     `json:"kind"`
	Strength float64         `json:"strength"`
}

// Swing links two opposite-kind fractals into a directed price move.
type Swing struct {
	Start           Fractal         `json:"start"`
	End             Fractal         `json:"end"`
	Direction       SwingDirection  `json:"direction"`
	MagnitudePoints decimal.Decimal `json:"magnitudePoints"`
	BarSpan         int             `json:"barSpan"`
	IsDominant      bool            `json:"isDominant"`
	Invalidated     bool            `json:"invalidated"`
}

// FibonacciLevel is one named retracement or extension level.
type FibonacciLevel struct {
	Ratio float64         `json:"ratio"` // e.g. 0.618, 1.272
	Price decimal.Decimal `json:"price"`
}

// FibonacciSet is a snapshot of retracement/extension levels anchored to
// the current dominant swing.
type FibonacciSet struct {
	SwingStart   decimal.Decimal  `json:"swingStart"`
	SwingEnd     decimal.Decimal  `json:"swingEnd"`
	Direction    SwingDirection   `json:"direction"`
	Retracements []FibonacciLevel `json:"retracements"`
	Extensions   []FibonacciLevel `json:"extensions"`
	ComputedAt   time.Time        `json:"computedAt"`
}

// BaseRange is a maximal run of consolidation candles.
type BaseRange struct {
	StartIndex        int             `json:"startIndex"`
	EndIndex          int             `json:"endIndex"`
	High               decimal.Decimal `json:"high"`
	Low                decimal.Decimal `json:"low"`
	ATRAtCreation      decimal.Decimal `json:"atrAtCreation"`
	CandleCount        int             `json:"candleCount"`
	ConsolidationScore float64         `json:"consolidationScore"`
}

// BigMove is an impulse run following a BaseRange.
type BigMove struct {
	StartIndex      int             `json:"startIndex"`
	EndIndex        int             `json:"endIndex"`
	Direction       MoveDirection   `json:"direction"`
	MagnitudeInATR  float64         `json:"magnitudeInAtr"`
	MomentumScore   float64         `json:"momentumScore"`
	BreakoutLevel   decimal.Decimal `json:"breakoutLevel"`
	VolumeConfirmed bool            `json:"volumeConfirmed"`
}

// SupplyDemandZone is a price interval where institutional orders are
// presumed to rest, per the eWavesHarmonics placement rules (spec §4.6).
type SupplyDemandZone struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Timeframe        Timeframe       `json:"timeframe"`
	Type             ZoneType        `json:"type"`
	Top              decimal.Decimal `json:"top"`
	Bottom           decimal.Decimal `json:"bottom"`
	LeftTime         time.Time       `json:"leftTime"`
	RightTime        time.Time       `json:"rightTime"`
	Strength         float64         `json:"strength"`
	TestCount        int             `json:"testCount"`
	SuccessCount     int             `json:"successCount"`
	Status           ZoneStatus      `json:"status"`
	BaseRange        BaseRange       `json:"baseRange"`
	BigMove          BigMove         `json:"bigMove"`
	ATRAtCreation    decimal.Decimal `json:"atrAtCreation"`
	VolumeAtCreation decimal.Decimal `json:"volumeAtCreation"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Height returns top - bottom.
func (z SupplyDemandZone) Height() decimal.Decimal {
	return z.Top.Sub(z.Bottom)
}

// Center returns the zone's midpoint price.
func (z SupplyDemandZone) Center() decimal.Decimal {
	return z.Bottom.Add(z.Height().Div(decimal.NewFromInt(2)))
}

// ZoneStateUpdate records one lifecycle transition of a zone.
type ZoneStateUpdate struct {
	ZoneID       string                `json:"zoneId"`
	OldStatus    ZoneStatus            `json:"oldStatus"`
	NewStatus    ZoneStatus            `json:"newStatus"`
	Time         time.Time             `json:"time"`
	TriggerPrice decimal.Decimal       `json:"triggerPrice"`
	Reason       StateTransitionReason `json:"reason"`
	TestSuccess  bool                  `json:"testSuccess"`
}

// ZoneTestEvent records one bar's interaction with a zone.
type ZoneTestEvent struct {
	ZoneID           string          `json:"zoneId"`
	Time             time.Time       `json:"time"`
	Price            decimal.Decimal `json:"price"`
	Kind             TestEventKind   `json:"kind"`
	Success          bool            `json:"success"`
	ReactionStrength float64         `json:"reactionStrength"`
}

// AnalysisDelta is the atomic batch of changes produced by processing one
// bar (spec §4.9, §5: "events emitted in a single bar are stamped with the
// same bar timestamp; consumers must treat them as an atomic batch").
type AnalysisDelta struct {
	Symbol          string             `json:"symbol"`
	Timeframe       Timeframe          `json:"timeframe"`
	BarTime         time.Time          `json:"barTime"`
	NewFractal      *Fractal           `json:"newFractal,omitempty"`
	NewSwing        *Swing             `json:"newSwing,omitempty"`
	DominanceChange bool               `json:"dominanceChange"`
	NewZones        []SupplyDemandZone `json:"newZones,omitempty"`
	StateUpdates    []ZoneStateUpdate  `json:"stateUpdates,omitempty"`
	TestEvents      []ZoneTestEvent    `json:"testEvents,omitempty"`
	Fibonacci       *FibonacciSet      `json:"fibonacci,omitempty"`
}

// StructureSnapshot is the read-only view exposed to dashboard consumers.
type StructureSnapshot struct {
	Symbol        string             `json:"symbol"`
	Timeframe     Timeframe          `json:"timeframe"`
	Fractals      []Fractal          `json:"fractals"`
	Swings        []Swing            `json:"swings"`
	DominantSwing *Swing             `json:"dominantSwing,omitempty"`
	Fibonacci     *FibonacciSet      `json:"fibonacci,omitempty"`
	ActiveZones   []SupplyDemandZone `json:"activeZones"`
	AsOf          time.Time          `json:"asOf"`
}

// ZoneConfluenceScore is the per-zone breakdown of a confluence query.
type ZoneConfluenceScore struct {
	ZoneID           string   `json:"zoneId"`
	ZoneType         ZoneType `json:"zoneType"`
	ProximityScore   float64  `json:"proximityScore"`
	StrengthScore    float64  `json:"strengthScore"`
	FreshnessScore   float64  `json:"freshnessScore"`
	TestHistoryScore float64  `json:"testHistoryScore"`
	Total            float64  `json:"total"`
	DistancePips     float64  `json:"distancePips"`
}

// ConfluenceResult is the response to a confluence query (spec §6).
type ConfluenceResult struct {
	Total        float64                `json:"total"`
	DominantType DominantType           `json:"dominantType"`
	PerTimeframe map[Timeframe]float64  `json:"perTimeframe"`
	PerZone      []ZoneConfluenceScore  `json:"perZone"`
}
