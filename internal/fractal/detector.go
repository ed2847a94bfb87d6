// Package fractal implements the n-bar pivot detector (C2): it confirms
// swing-high/swing-low fractals once a bar's full neighborhood has arrived.
package fractal

import (
	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/indicator"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// Detector maintains a ring of the last 2n+1 bars and confirms a fractal at
// the center bar exactly when its neighborhood fills, per spec §4.1.
type Detector struct {
	n       int
	atr     *indicator.ATR
	ring    []types.Bar
	atrRing []decimal.Decimal
	index   int // count of bars seen so far
}

// New creates a FractalDetector with pivot window n (must be odd, >= 3) and
// the ATR period used for strength scoring.
func New(n, atrPeriod int) (*Detector, error) {
	if n < 3 || n%2 == 0 {
		return nil, &types.ConfigurationError{Field: "fractal.pivotN", Reason: "must be odd and >= 3"}
	}
	return &Detector{
		n:   n,
		atr: indicator.NewATR(atrPeriod),
	}, nil
}

// Add feeds the next bar in strictly increasing timestamp order and returns
// a newly confirmed fractal, or nil if no pivot was confirmed at the
// center of the current window (including when the window isn't full).
func (d *Detector) Add(bar types.Bar) (*types.Fractal, error) {
	if !bar.Valid() {
		return nil, &types.InvalidBarError{Symbol: bar.Symbol, Reason: "OHLCV invariant violated"}
	}
	if len(d.ring) > 0 {
		last := d.ring[len(d.ring)-1]
		if !bar.Time.After(last.Time) {
			return nil, &types.InvalidSequenceError{Symbol: bar.Symbol, Timeframe: bar.Timeframe, Reason: "timestamp not strictly increasing"}
		}
	}

	atrVal := d.atr.Add(bar)
	d.ring = append(d.ring, bar)
	d.atrRing = append(d.atrRing, atrVal)
	d.index++

	want := 2*d.n + 1
	if len(d.ring) > want {
		d.ring = d.ring[1:]
		d.atrRing = d.atrRing[1:]
	}
	if len(d.ring) < want {
		return nil, nil
	}

	center := d.n
	centerBar := d.ring[center]
	centerIndex := d.index - d.n - 1

	if f := d.confirm(center, centerBar, centerIndex, true); f != nil {
		return f, nil
	}
	if f := d.confirm(center, centerBar, centerIndex, false); f != nil {
		return f, nil
	}
	return nil, nil
}

// confirm checks whether the center bar is a high-kind (high=true) or
// low-kind pivot across the whole window, and if so scores its strength
// against the window's second-most-extreme price.
func (d *Detector) confirm(center int, centerBar types.Bar, centerIndex int, high bool) *types.Fractal {
	var secondExtreme decimal.Decimal
	first := true
	for j := 0; j < len(d.ring); j++ {
		if j == center {
			continue
		}
		if high {
			if !centerBar.High.GreaterThan(d.ring[j].High) {
				return nil
			}
			if first || d.ring[j].High.GreaterThan(secondExtreme) {
				secondExtreme = d.ring[j].High
				first = false
			}
		} else {
			if !centerBar.Low.LessThan(d.ring[j].Low) {
				return nil
			}
			if first || d.ring[j].Low.LessThan(secondExtreme) {
				secondExtreme = d.ring[j].Low
				first = false
			}
		}
	}

	atr := d.atrRing[center]
	strength := 0.0
	if atr.IsPositive() {
		if high {
			strength = centerBar.High.Sub(secondExtreme).Div(atr).InexactFloat64()
		} else {
			strength = secondExtreme.Sub(centerBar.Low).Div(atr).InexactFloat64()
		}
	}
	if strength < 0 {
		strength = 0
	}

	kind := types.FractalLow
	price := centerBar.Low
	if high {
		kind = types.FractalHigh
		price = centerBar.High
	}

	return &types.Fractal{
		Index:    centerIndex,
		Time:     centerBar.Time,
		Price:    price,
		Kind:     kind,
		Strength: strength,
	}
}
