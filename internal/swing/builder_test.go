package swing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/swing"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func fractal(idx int, kind types.FractalKind, price float64) types.Fractal {
	return types.Fractal{
		Index: idx,
		Time:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(idx) * time.Minute),
		Price: decimal.NewFromFloat(price),
		Kind:  kind,
	}
}

func defaultConfig() types.SwingConfig {
	return types.SwingConfig{
		LookbackBars:       140,
		MinMagnitudePips:   0.0001,
		InvalidationBuffer: 0.2,
	}
}

func TestDominanceSelectsLargerMagnitudeSwing(t *testing.T) {
	b := swing.New(defaultConfig())

	b.OnFractal(fractal(0, types.FractalLow, 1.1000))
	b.OnFractal(fractal(5, types.FractalHigh, 1.1050))
	b.RecomputeDominance(5)
	b.OnFractal(fractal(10, types.FractalLow, 1.1040))
	b.RecomputeDominance(10)
	b.OnFractal(fractal(20, types.FractalHigh, 1.1200))
	b.RecomputeDominance(20)

	dom := b.Dominant()
	if dom == nil {
		t.Fatal("expected a dominant swing")
	}
	if !dom.Start.Price.Equal(decimal.NewFromFloat(1.1000)) {
		t.Fatalf("expected dominant swing to start at the window low 1.1000, got %s", dom.Start.Price)
	}
	if !dom.End.Price.Equal(decimal.NewFromFloat(1.1200)) {
		t.Fatalf("expected dominant swing to end at the window high 1.1200, got %s", dom.End.Price)
	}
}

func TestAtMostOneDominantSwing(t *testing.T) {
	b := swing.New(defaultConfig())
	b.OnFractal(fractal(0, types.FractalLow, 1.1000))
	b.OnFractal(fractal(5, types.FractalHigh, 1.1050))
	b.RecomputeDominance(5)
	b.OnFractal(fractal(10, types.FractalLow, 1.0900))
	b.RecomputeDominance(10)

	count := 0
	for _, sw := range b.Swings() {
		if sw.IsDominant {
			count++
		}
	}
	if count > 1 {
		t.Fatalf("expected at most one dominant swing, got %d", count)
	}
}

func TestInvalidationReportsBreachOfDominantStart(t *testing.T) {
	b := swing.New(defaultConfig())
	b.OnFractal(fractal(0, types.FractalLow, 1.1000))
	b.OnFractal(fractal(5, types.FractalHigh, 1.1050))
	b.RecomputeDominance(5)

	if b.Dominant() == nil {
		t.Fatal("expected a dominant swing before invalidation")
	}

	breakBar := types.Bar{
		Time:  time.Date(2026, 1, 1, 0, 6, 0, 0, time.UTC),
		Open:  decimal.NewFromFloat(1.0970),
		High:  decimal.NewFromFloat(1.0975),
		Low:   decimal.NewFromFloat(1.0960),
		Close: decimal.NewFromFloat(1.0965),
	}
	invalidated := b.OnBar(breakBar, decimal.NewFromFloat(0.0010), 6)
	if !invalidated {
		t.Fatal("expected invalidation when close breaches start fractal beyond buffer")
	}
}
