// Package indicator provides true-range/ATR computation and pip conversion
// shared by the detectors upstream of zone creation.
package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

// zeroFloor is the minimum ATR value used wherever a division by ATR would
// otherwise risk a divide-by-zero on a perfectly flat market.
var zeroFloor = decimal.NewFromFloat(0.00001)

// ATR computes a Wilder-smoothed average true range over a trailing window.
// It is fed bars one at a time and keeps the minimal state needed to resume:
// a simple moving average seeds the first period bars, then a Wilder-style
// EMA takes over for every bar after.
type ATR struct {
	period   int
	prevBar  *types.Bar
	seedAvg  *utils.SMA
	smoothed *utils.EMA
	seeded   bool
}

// NewATR creates an ATR calculator for the given period.
func NewATR(period int) *ATR {
	if period <= 0 {
		period = 14
	}
	return &ATR{period: period, seedAvg: utils.NewSMA(period)}
}

// TrueRange computes the true range of bar given the previous bar, or just
// high-low when prev is nil (series start).
func TrueRange(bar types.Bar, prev *types.Bar) decimal.Decimal {
	hl := bar.High.Sub(bar.Low)
	if prev == nil {
		return hl
	}
	hc := bar.High.Sub(prev.Close).Abs()
	lc := bar.Low.Sub(prev.Close).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// Add feeds one bar and returns the updated ATR, floored at zeroFloor.
func (a *ATR) Add(bar types.Bar) decimal.Decimal {
	tr := TrueRange(bar, a.prevBar)
	cp := bar
	a.prevBar = &cp

	if !a.seeded {
		avg := a.seedAvg.Add(tr)
		if a.seedAvg.Count() >= a.period {
			a.smoothed = utils.NewWilderEMA(a.period)
			a.smoothed.Add(avg)
			a.seeded = true
		}
		return a.floor(avg)
	}

	return a.floor(a.smoothed.Add(tr))
}

// Current returns the last computed ATR value without advancing state.
func (a *ATR) Current() decimal.Decimal {
	if a.seeded {
		return a.floor(a.smoothed.Current())
	}
	return a.floor(a.seedAvg.Current())
}

func (a *ATR) floor(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(zeroFloor) {
		return zeroFloor
	}
	return v
}

// ZeroFloor returns the minimum ATR value used throughout the core.
func ZeroFloor() decimal.Decimal {
	return zeroFloor
}
