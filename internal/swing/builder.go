// Package swing links fractals into directed swings and tracks the single
// dominant swing within a sliding lookback window (C3).
package swing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// Builder consumes fractals in arrival order and maintains the zigzag
// sequence of swings plus the authoritative dominant swing. Downstream
// consumers must treat IsDominant as settled here; nobody else recomputes
// it (spec §9 — "frontend recalculating dominance" is the bug being fixed).
type Builder struct {
	cfg       types.SwingConfig
	fractals  []types.Fractal
	swings    []types.Swing
	dominant  int // index into swings, -1 if none
	barIndex  int
}

// New creates a SwingBuilder from the given configuration.
func New(cfg types.SwingConfig) *Builder {
	return &Builder{cfg: cfg, dominant: -1}
}

// OnFractal appends a newly confirmed fractal to the zigzag and returns a
// newly created swing, if the fractal extended the sequence rather than
// merely replacing the prior same-kind extreme.
func (b *Builder) OnFractal(f types.Fractal) *types.Swing {
	b.barIndex = f.Index

	if len(b.fractals) == 0 {
		b.fractals = append(b.fractals, f)
		return nil
	}

	last := b.fractals[len(b.fractals)-1]
	if last.Kind == f.Kind {
		// Same-kind fractal extends/replaces the run's extreme; it does not
		// start a new swing leg.
		if f.Kind == types.FractalHigh && f.Price.GreaterThan(last.Price) {
			b.fractals[len(b.fractals)-1] = f
		} else if f.Kind == types.FractalLow && f.Price.LessThan(last.Price) {
			b.fractals[len(b.fractals)-1] = f
		}
		return nil
	}

	b.fractals = append(b.fractals, f)
	sw := newSwing(last, f)
	b.swings = append(b.swings, sw)
	return &b.swings[len(b.swings)-1]
}

func newSwing(start, end types.Fractal) types.Swing {
	dir := types.SwingDown
	if end.Price.GreaterThan(start.Price) {
		dir = types.SwingUp
	}
	return types.Swing{
		Start:           start,
		End:             end,
		Direction:       dir,
		MagnitudePoints: end.Price.Sub(start.Price).Abs(),
		BarSpan:         end.Index - start.Index,
	}
}

// RecomputeDominance re-evaluates dominance over the window of fractals
// whose index is >= currentBarIndex - lookbackBars, per spec §4.2's
// algorithm. It returns true if the dominant swing changed.
func (b *Builder) RecomputeDominance(currentBarIndex int) bool {
	windowStart := currentBarIndex - b.cfg.LookbackBars

	inWindow := make([]types.Fractal, 0, len(b.fractals))
	for _, f := range b.fractals {
		if f.Index >= windowStart {
			inWindow = append(inWindow, f)
		}
	}
	if len(inWindow) < 2 {
		return b.clearDominance()
	}

	var highF, lowF types.Fractal
	haveHigh, haveLow := false, false
	for _, f := range inWindow {
		if f.Kind == types.FractalHigh && (!haveHigh || f.Price.GreaterThan(highF.Price)) {
			highF = f
			haveHigh = true
		}
		if f.Kind == types.FractalLow && (!haveLow || f.Price.LessThan(lowF.Price)) {
			lowF = f
			haveLow = true
		}
	}
	if !haveHigh || !haveLow {
		return b.clearDominance()
	}

	start, end := highF, lowF
	if lowF.Index < highF.Index {
		start, end = lowF, highF
	}
	candidate := newSwing(start, end)

	minMag := decimal.NewFromFloat(b.cfg.MinMagnitudePips)
	if candidate.MagnitudePoints.LessThan(minMag) {
		return b.clearDominance()
	}

	if b.dominant < 0 {
		return b.setDominant(candidate)
	}

	cur := b.swings[b.dominant]
	curOutOfWindow := cur.Start.Index < windowStart || cur.End.Index < windowStart
	if curOutOfWindow || candidate.MagnitudePoints.GreaterThan(cur.MagnitudePoints) {
		return b.setDominant(candidate)
	}
	return false
}

func (b *Builder) setDominant(candidate types.Swing) bool {
	// A synthesized dominant swing may not correspond 1:1 to an existing
	// zigzag leg; store it as its own entry so IsDominant stays a field on
	// a single authoritative record rather than ad hoc state (spec §9).
	if b.dominant >= 0 {
		b.swings[b.dominant].IsDominant = false
	}
	candidate.IsDominant = true
	b.swings = append(b.swings, candidate)
	b.dominant = len(b.swings) - 1
	return true
}

func (b *Builder) clearDominance() bool {
	if b.dominant < 0 {
		return false
	}
	b.swings[b.dominant].IsDominant = false
	b.dominant = -1
	return true
}

// OnBar checks the current dominant swing for invalidation: if the close
// breaks beyond the dominant swing's start fractal by more than
// invalidation_buffer_atr * ATR, the swing is invalidated and dominance is
// re-run. Returns true if invalidation occurred.
func (b *Builder) OnBar(bar types.Bar, atr decimal.Decimal, currentBarIndex int) bool {
	if b.dominant < 0 {
		return false
	}
	dom := b.swings[b.dominant]
	buffer := atr.Mul(decimal.NewFromFloat(b.cfg.InvalidationBuffer))

	var breached bool
	if dom.Direction == types.SwingUp {
		breached = bar.Close.LessThan(dom.Start.Price.Sub(buffer))
	} else {
		breached = bar.Close.GreaterThan(dom.Start.Price.Add(buffer))
	}
	if !breached {
		return false
	}

	b.swings[b.dominant].Invalidated = true
	b.swings[b.dominant].IsDominant = false
	b.dominant = -1
	b.RecomputeDominance(currentBarIndex)
	return true
}

// Dominant returns the current dominant swing, or nil if none.
func (b *Builder) Dominant() *types.Swing {
	if b.dominant < 0 {
		return nil
	}
	sw := b.swings[b.dominant]
	return &sw
}

// Swings returns all swings built so far, ordered by end-fractal time.
func (b *Builder) Swings() []types.Swing {
	out := make([]types.Swing, len(b.swings))
	copy(out, b.swings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].End.Time.Before(out[j].End.Time) })
	return out
}
