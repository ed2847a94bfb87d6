// Package zone pairs base ranges with impulse moves into supply/demand
// zones, places their boundaries per the eWavesHarmonics rules, and
// resolves overlaps within a (symbol, timeframe) zone set (C7).
package zone

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

// pricePlaces is the decimal precision zone boundaries are rounded to,
// matching standard FX quote precision.
const pricePlaces = 5

// Detector creates and retires SupplyDemandZone entities for a single
// (symbol, timeframe) pipeline.
type Detector struct {
	cfg   types.ZoneConfig
	moveCfg types.MoveConfig
	active []types.SupplyDemandZone
}

// New creates a ZoneDetector from the given configuration.
func New(cfg types.ZoneConfig, moveCfg types.MoveConfig) *Detector {
	return &Detector{cfg: cfg, moveCfg: moveCfg}
}

// Create places a new zone from a (BaseRange, BigMove) pair, applies
// overlap resolution against the currently active set, and returns the
// zone if it survives (nil if it was discarded as a weaker overlap or the
// timeframe's zone cap was already full of stronger zones).
func (d *Detector) Create(symbol string, timeframe types.Timeframe, baseCandles, moveCandles []types.Bar, base types.BaseRange, move types.BigMove, leftTime, rightTime time.Time) *types.SupplyDemandZone {
	zoneType := types.ZoneDemand
	if move.Direction == types.MoveBearish {
		zoneType = types.ZoneSupply
	}

	top, bottom := place(zoneType, baseCandles, base)
	top = utils.RoundToDecimalPlaces(top, pricePlaces)
	bottom = utils.RoundToDecimalPlaces(bottom, pricePlaces)
	if !top.GreaterThan(bottom) {
		return nil
	}

	strength := d.strength(base, move, baseCandles, moveCandles)
	if strength < d.cfg.MinStrength {
		return nil
	}

	z := types.SupplyDemandZone{
		ID:               utils.GenerateID("zone"),
		Symbol:           symbol,
		Timeframe:        timeframe,
		Type:             zoneType,
		Top:              top,
		Bottom:           bottom,
		LeftTime:         leftTime,
		RightTime:        rightTime,
		Strength:         strength,
		Status:           types.ZoneStatusActive,
		BaseRange:        base,
		BigMove:          move,
		ATRAtCreation:    base.ATRAtCreation,
		VolumeAtCreation: meanVolume(moveCandles),
		CreatedAt:        rightTime,
		UpdatedAt:        rightTime,
	}

	return d.admit(z)
}

// place computes top/bottom per the eWavesHarmonics rules (spec §4.6).
func place(zoneType types.ZoneType, candles []types.Bar, base types.BaseRange) (top, bottom decimal.Decimal) {
	switch zoneType {
	case types.ZoneDemand:
		top = base.High
		bottom = minOpenWhere(candles, bearish, base.Low)
		return top, bottom
	case types.ZoneSupply:
		bottom = base.Low
		top = maxOpenWhere(candles, bullish, base.High)
		return top, bottom
	default:
		return base.High, base.Low
	}
}

func bearish(b types.Bar) bool { return b.Close.LessThan(b.Open) }
func bullish(b types.Bar) bool { return b.Close.GreaterThan(b.Open) }

func minOpenWhere(candles []types.Bar, pred func(types.Bar) bool, fallback decimal.Decimal) decimal.Decimal {
	found := false
	min := fallback
	for _, c := range candles {
		if pred(c) {
			if !found || c.Open.LessThan(min) {
				min = c.Open
				found = true
			}
		}
	}
	if !found {
		return fallback
	}
	return min
}

func maxOpenWhere(candles []types.Bar, pred func(types.Bar) bool, fallback decimal.Decimal) decimal.Decimal {
	found := false
	max := fallback
	for _, c := range candles {
		if pred(c) {
			if !found || c.Open.GreaterThan(max) {
				max = c.Open
				found = true
			}
		}
	}
	if !found {
		return fallback
	}
	return max
}

func (d *Detector) strength(base types.BaseRange, move types.BigMove, baseCandles, moveCandles []types.Bar) float64 {
	magnitudeComponent := clamp01(move.MagnitudeInATR / (d.moveCfg.MinMoveInATR * 2))
	baseQuality := clamp01(base.ConsolidationScore)
	momentum := clamp01(move.MomentumScore)

	volumeComponent := 0.5
	if bm := meanVolume(baseCandles); bm.IsPositive() {
		mm := meanVolume(moveCandles)
		volumeComponent = clamp01(mm.Div(bm.Mul(decimal.NewFromFloat(2))).InexactFloat64())
	}

	return clamp01(0.4*volumeComponent + 0.3*magnitudeComponent + 0.2*baseQuality + 0.1*momentum)
}

func meanVolume(candles []types.Bar) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}

// admit checks the new zone against the active set for overlaps, evicting
// the weaker party, then enforces the per-timeframe zone cap. Returns the
// admitted zone, or nil if it was discarded.
func (d *Detector) admit(z types.SupplyDemandZone) *types.SupplyDemandZone {
	kept := d.active[:0]
	survives := true
	for _, existing := range d.active {
		if overlaps(existing, z, d.cfg.OverlapMergeRatio) {
			if existing.Strength >= z.Strength {
				survives = false
				kept = append(kept, existing)
				continue
			}
			// existing is discarded in favor of the new, stronger zone
			continue
		}
		kept = append(kept, existing)
	}
	d.active = kept

	if !survives {
		return nil
	}

	d.active = append(d.active, z)
	d.enforceCap(100)
	for i := range d.active {
		if d.active[i].ID == z.ID {
			out := d.active[i]
			return &out
		}
	}
	return nil
}

// enforceCap keeps at most max zones, discarding the weakest survivors.
func (d *Detector) enforceCap(max int) {
	if len(d.active) <= max {
		return
	}
	sorted := make([]types.SupplyDemandZone, len(d.active))
	copy(sorted, d.active)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Strength > sorted[i].Strength {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	d.active = sorted[:max]
}

// overlaps reports whether two zones' price intervals intersect by at
// least tolerance of the shorter zone's height.
func overlaps(a, b types.SupplyDemandZone, tolerance float64) bool {
	top := utils.MinDecimal(a.Top, b.Top)
	bottom := utils.MaxDecimal(a.Bottom, b.Bottom)
	if !top.GreaterThan(bottom) {
		return false
	}
	intersection := top.Sub(bottom)

	shorter := utils.MinDecimal(a.Height(), b.Height())
	if !shorter.IsPositive() {
		return false
	}
	return intersection.Div(shorter).GreaterThanOrEqual(decimal.NewFromFloat(tolerance))
}

// Adopt inserts a zone that was created outside this detector (for example
// one spawned by a lifecycle flip) into the active set it considers during
// future overlap resolution.
func (d *Detector) Adopt(z types.SupplyDemandZone) {
	d.active = append(d.active, z)
}

// Active returns a copy of all currently active zones.
func (d *Detector) Active() []types.SupplyDemandZone {
	out := make([]types.SupplyDemandZone, len(d.active))
	copy(out, d.active)
	return out
}

// Remove drops a zone from the active set, e.g. once it has transitioned
// to a terminal state elsewhere.
func (d *Detector) Remove(id string) {
	kept := d.active[:0]
	for _, z := range d.active {
		if z.ID != id {
			kept = append(kept, z)
		}
	}
	d.active = kept
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
