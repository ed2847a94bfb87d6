// Package fibonacci derives retracement and extension levels from the
// current dominant swing (C4).
package fibonacci

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

// pricePlaces is the decimal precision projected levels are rounded to,
// matching standard FX quote precision.
const pricePlaces = 5

// noUpperPriceBound effectively disables the upper side of ClampDecimal;
// only the zero floor below matters for projected levels.
var noUpperPriceBound = decimal.NewFromFloat(1e12)

// Projector recomputes a FibonacciSet whenever the dominant swing or its
// endpoints change.
type Projector struct {
	cfg types.FibonacciConfig
}

// New creates a FibonacciProjector from the given configuration.
func New(cfg types.FibonacciConfig) *Projector {
	return &Projector{cfg: cfg}
}

// Project derives a FibonacciSet from the dominant swing. For an up-swing,
// 0% is the start (low) and 100% is the end (high); retracements are
// measured top-down. For a down-swing the mapping is inverted.
func (p *Projector) Project(dom types.Swing, now time.Time) types.FibonacciSet {
	lowPrice, highPrice := dom.Start.Price, dom.End.Price
	if dom.Direction == types.SwingDown {
		lowPrice, highPrice = dom.End.Price, dom.Start.Price
	}
	span := highPrice.Sub(lowPrice)

	retr := make([]types.FibonacciLevel, 0, len(p.cfg.RetracementRatios))
	for _, ratio := range p.cfg.RetracementRatios {
		var price decimal.Decimal
		if dom.Direction == types.SwingUp {
			price = highPrice.Sub(span.Mul(decimal.NewFromFloat(ratio)))
		} else {
			price = lowPrice.Add(span.Mul(decimal.NewFromFloat(ratio)))
		}
		price = utils.RoundToDecimalPlaces(utils.ClampDecimal(price, decimal.Zero, noUpperPriceBound), pricePlaces)
		retr = append(retr, types.FibonacciLevel{Ratio: ratio, Price: price})
	}

	ext := make([]types.FibonacciLevel, 0, len(p.cfg.ExtensionRatios))
	for _, ratio := range p.cfg.ExtensionRatios {
		var price decimal.Decimal
		if dom.Direction == types.SwingUp {
			price = lowPrice.Add(span.Mul(decimal.NewFromFloat(ratio)))
		} else {
			price = highPrice.Sub(span.Mul(decimal.NewFromFloat(ratio)))
		}
		price = utils.RoundToDecimalPlaces(utils.ClampDecimal(price, decimal.Zero, noUpperPriceBound), pricePlaces)
		ext = append(ext, types.FibonacciLevel{Ratio: ratio, Price: price})
	}

	return types.FibonacciSet{
		SwingStart:   dom.Start.Price,
		SwingEnd:     dom.End.Price,
		Direction:    dom.Direction,
		Retracements: retr,
		Extensions:   ext,
		ComputedAt:   now,
	}
}
