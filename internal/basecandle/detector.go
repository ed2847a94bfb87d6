// Package basecandle finds consolidation ranges using ATR-relative range
// and body thresholds (C5).
package basecandle

import (
	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/indicator"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// run tracks an in-progress maximal sequence of consolidation candles.
type run struct {
	bars  []types.Bar
	atrs  []decimal.Decimal
	start int
}

// Detector streams bars and emits a BaseRange whenever a maximal run of
// consolidation candles completes within [min_base, max_base].
type Detector struct {
	cfg   types.BaseConfig
	atr   *indicator.ATR
	cur   *run
	index int
}

// New creates a BaseCandleDetector from the given configuration.
func New(cfg types.BaseConfig) *Detector {
	return &Detector{
		cfg: cfg,
		atr: indicator.NewATR(cfg.ATRPeriod),
	}
}

// Add feeds the next bar and returns a confirmed BaseRange if a run just
// completed, or nil otherwise.
func (d *Detector) Add(bar types.Bar) (*types.BaseRange, error) {
	if !bar.Valid() {
		return nil, &types.InvalidBarError{Symbol: bar.Symbol, Reason: "OHLCV invariant violated"}
	}
	atrVal := d.atr.Add(bar)
	idx := d.index
	d.index++

	if isConsolidation(bar, atrVal, d.cfg) {
		if d.cur == nil {
			d.cur = &run{start: idx}
		}
		d.cur.bars = append(d.cur.bars, bar)
		d.cur.atrs = append(d.cur.atrs, atrVal)

		if len(d.cur.bars) >= d.cfg.MaxBaseCandles {
			br := d.finalize()
			return br, nil
		}
		return nil, nil
	}

	// Consolidation run broke; finalize whatever accumulated so far.
	if d.cur != nil {
		br := d.finalize()
		return br, nil
	}
	return nil, nil
}

func (d *Detector) finalize() *types.BaseRange {
	r := d.cur
	d.cur = nil
	if r == nil || len(r.bars) < d.cfg.MinBaseCandles {
		return nil
	}

	high := r.bars[0].High
	low := r.bars[0].Low
	for _, b := range r.bars {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}

	score := consolidationScore(r, d.cfg)
	if score < d.cfg.MinScore {
		return nil
	}

	return &types.BaseRange{
		StartIndex:         r.start,
		EndIndex:           r.start + len(r.bars) - 1,
		High:               high,
		Low:                low,
		ATRAtCreation:      r.atrs[len(r.atrs)-1],
		CandleCount:        len(r.bars),
		ConsolidationScore: score,
	}
}

func isConsolidation(bar types.Bar, atr decimal.Decimal, cfg types.BaseConfig) bool {
	if !atr.IsPositive() {
		return false
	}
	rangeRatio := bar.High.Sub(bar.Low).Div(atr)
	bodyRatio := bar.Close.Sub(bar.Open).Abs().Div(atr)
	return rangeRatio.LessThanOrEqual(decimal.NewFromFloat(cfg.ConsolidationThreshold)) &&
		bodyRatio.LessThanOrEqual(decimal.NewFromFloat(cfg.BodySizeThreshold))
}

// consolidationScore blends range tightness (50%), body-size consistency
// (30%), and temporal consistency (20%), clamped to [0,1].
func consolidationScore(r *run, cfg types.BaseConfig) float64 {
	n := len(r.bars)
	if n == 0 {
		return 0
	}

	rangeSum, bodySum := 0.0, 0.0
	for i, b := range r.bars {
		atr := r.atrs[i]
		if !atr.IsPositive() {
			continue
		}
		rangeRatio := b.High.Sub(b.Low).Div(atr).InexactFloat64()
		bodyRatio := b.Close.Sub(b.Open).Abs().Div(atr).InexactFloat64()
		rangeSum += clamp01(1 - rangeRatio/cfg.ConsolidationThreshold)
		bodySum += clamp01(1 - bodyRatio/cfg.BodySizeThreshold)
	}
	rangeTightness := rangeSum / float64(n)
	bodyConsistency := bodySum / float64(n)

	// Temporal consistency rewards runs closer to the configured band's
	// center rather than its extremes.
	mid := float64(cfg.MinBaseCandles+cfg.MaxBaseCandles) / 2
	spread := float64(cfg.MaxBaseCandles-cfg.MinBaseCandles) / 2
	temporal := 1.0
	if spread > 0 {
		temporal = clamp01(1 - abs(float64(n)-mid)/spread)
	}

	score := 0.5*rangeTightness + 0.3*bodyConsistency + 0.2*temporal
	return clamp01(score)
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
