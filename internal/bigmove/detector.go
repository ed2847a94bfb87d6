// Package bigmove detects impulse moves following a base range, scoring
// magnitude, momentum, and volume confirmation (C6).
package bigmove

import (
	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// scan tracks one in-progress forward search for an impulse following a
// single BaseRange.
type scan struct {
	base          types.BaseRange
	volumeBefore  decimal.Decimal
	fractalLevels []decimal.Decimal
	bars          []types.Bar
	best          *types.BigMove
}

// Detector streams bars and, for every registered BaseRange, searches
// forward up to maxScanDistance bars for the best qualifying impulse move.
type Detector struct {
	cfg             types.MoveConfig
	maxScanDistance int
	pending         []*scan
}

// New creates a BigMoveDetector. maxScanDistance bounds how far past a base
// range the detector will look before giving up.
func New(cfg types.MoveConfig, maxScanDistance int) *Detector {
	if maxScanDistance <= 0 {
		maxScanDistance = 20
	}
	return &Detector{cfg: cfg, maxScanDistance: maxScanDistance}
}

// RegisterBase starts a forward scan for impulses following base.
// volumeBefore is the mean volume over the 20 bars preceding the base, used
// for the optional volume confirmation condition.
func (d *Detector) RegisterBase(base types.BaseRange, volumeBefore decimal.Decimal, fractalLevels []decimal.Decimal) {
	d.pending = append(d.pending, &scan{
		base:          base,
		volumeBefore:  volumeBefore,
		fractalLevels: fractalLevels,
	})
}

// Add feeds the next bar to every pending scan and returns the best
// qualifying BigMove of each scan whose maxScanDistance window closed on
// this bar. A scan is only ever completed by exhausting its window; one
// that found no qualifying move is dropped without output.
func (d *Detector) Add(bar types.Bar) ([]types.BigMove, error) {
	if !bar.Valid() {
		return nil, &types.InvalidBarError{Symbol: bar.Symbol, Reason: "OHLCV invariant violated"}
	}

	var completed []types.BigMove
	remaining := d.pending[:0]
	for _, s := range d.pending {
		s.bars = append(s.bars, bar)
		d.evaluate(s)

		if len(s.bars) >= d.maxScanDistance {
			if s.best != nil {
				completed = append(completed, *s.best)
			}
			continue
		}
		remaining = append(remaining, s)
	}
	d.pending = remaining
	return completed, nil
}

// evaluate checks whether the scan's current window qualifies as the new
// best candidate move.
func (d *Detector) evaluate(s *scan) {
	if len(s.bars) < d.cfg.MinMoveCandles() {
		return
	}
	startBar := s.bars[0]
	endBar := s.bars[len(s.bars)-1]

	atr := s.base.ATRAtCreation
	if !atr.IsPositive() {
		return
	}
	magnitude := endBar.Close.Sub(startBar.Close).Abs().Div(atr).InexactFloat64()
	if magnitude < d.cfg.MinMoveInATR {
		return
	}

	momentum := momentumScore(s.bars)
	if momentum < d.cfg.MinMomentumScore {
		return
	}

	volumeConfirmed := true
	if d.cfg.RequireVolumeConfirm {
		volumeConfirmed = volumeConfirms(s.bars, s.volumeBefore, d.cfg.VolumeMultiplier)
		if !volumeConfirmed {
			return
		}
	}

	direction := types.MoveBullish
	if endBar.Close.LessThan(startBar.Close) {
		direction = types.MoveBearish
	}

	breakout := breakoutLevel(s.bars, s.fractalLevels, direction)

	candidate := types.BigMove{
		StartIndex:      s.base.EndIndex + 1,
		EndIndex:        s.base.EndIndex + len(s.bars),
		Direction:       direction,
		MagnitudeInATR:  magnitude,
		MomentumScore:   momentum,
		BreakoutLevel:   breakout,
		VolumeConfirmed: volumeConfirmed,
	}

	if s.best == nil || candidate.MagnitudeInATR > s.best.MagnitudeInATR {
		s.best = &candidate
	}
}

// momentumScore blends directional consistency (40%), average body
// strength (30%), and momentum persistence (30%), each in [0,1].
//
// The persistence term normalizes by the window's total move and scales by
// bar count, which can push the raw value above 1 before the final clamp;
// the clamp is authoritative (spec's open question on this formula).
func momentumScore(bars []types.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	overallUp := bars[len(bars)-1].Close.GreaterThan(bars[0].Close)

	sameDir := 0
	bodySum := 0.0
	netMove := decimal.Zero
	totalMove := decimal.Zero
	for i, b := range bars {
		up := b.Close.GreaterThan(b.Open)
		if up == overallUp {
			sameDir++
		}
		rng := b.High.Sub(b.Low)
		if rng.IsPositive() {
			bodySum += b.Close.Sub(b.Open).Abs().Div(rng).InexactFloat64()
		}
		if i > 0 {
			step := b.Close.Sub(bars[i-1].Close)
			if (step.IsPositive() && overallUp) || (step.IsNegative() && !overallUp) {
				netMove = netMove.Add(step.Abs())
			}
			totalMove = totalMove.Add(step.Abs())
		}
	}

	directionalConsistency := float64(sameDir) / float64(len(bars))
	avgBodyStrength := bodySum / float64(len(bars))

	persistence := clamp01(rawPersistence(netMove, totalMove, len(bars)))

	score := 0.4*directionalConsistency + 0.3*avgBodyStrength + 0.3*persistence
	return clamp01(score)
}

// rawPersistence returns the unclamped momentum-persistence term: the
// fraction of total bar-to-bar movement that ran in the dominant direction,
// scaled by n/(n-1). The scale-up is a genuine non-identity multiplier
// (mirroring the original detector's scaling of mean momentum by bar count)
// and can push the result above 1; callers must clamp it themselves.
func rawPersistence(netMove, totalMove decimal.Decimal, n int) float64 {
	if !totalMove.IsPositive() || n <= 1 {
		return 0
	}
	return netMove.Div(totalMove).InexactFloat64() * float64(n) / float64(n-1)
}

func volumeConfirms(bars []types.Bar, volumeBefore decimal.Decimal, multiplier float64) bool {
	if !volumeBefore.IsPositive() {
		return false
	}
	sum := decimal.Zero
	for _, b := range bars {
		sum = sum.Add(b.Volume)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(bars))))
	return mean.GreaterThanOrEqual(volumeBefore.Mul(decimal.NewFromFloat(multiplier)))
}

// breakoutLevel returns the first provided fractal level, in the order
// given, that the move's extreme broke in its direction, or the move's own
// extreme if no provided level was broken.
func breakoutLevel(bars []types.Bar, levels []decimal.Decimal, direction types.MoveDirection) decimal.Decimal {
	extreme := bars[0].Close
	for _, b := range bars {
		if direction == types.MoveBullish && b.High.GreaterThan(extreme) {
			extreme = b.High
		}
		if direction == types.MoveBearish && b.Low.LessThan(extreme) {
			extreme = b.Low
		}
	}
	for _, lvl := range levels {
		if direction == types.MoveBullish && extreme.GreaterThan(lvl) {
			return lvl
		}
		if direction == types.MoveBearish && extreme.LessThan(lvl) {
			return lvl
		}
	}
	return extreme
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
