package fibonacci_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/fibonacci"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func defaultConfig() types.FibonacciConfig {
	return types.FibonacciConfig{
		RetracementRatios: []float64{0.236, 0.382, 0.5, 0.618, 0.786},
		ExtensionRatios:   []float64{1.272, 1.618},
	}
}

func TestProjectUpSwing(t *testing.T) {
	p := fibonacci.New(defaultConfig())
	dom := types.Swing{
		Start:     types.Fractal{Price: decimal.NewFromFloat(1.1000), Kind: types.FractalLow},
		End:       types.Fractal{Price: decimal.NewFromFloat(1.2000), Kind: types.FractalHigh},
		Direction: types.SwingUp,
	}
	set := p.Project(dom, time.Now().UTC())

	if len(set.Retracements) != 5 {
		t.Fatalf("expected 5 retracement levels, got %d", len(set.Retracements))
	}
	// 61.8% retracement of an up-swing: 1.2000 - 0.1*0.618 = 1.1382
	var level61 *types.FibonacciLevel
	for i := range set.Retracements {
		if set.Retracements[i].Ratio == 0.618 {
			level61 = &set.Retracements[i]
		}
	}
	if level61 == nil {
		t.Fatal("missing 0.618 retracement level")
	}
	want := decimal.NewFromFloat(1.1382)
	if level61.Price.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.00001)) {
		t.Fatalf("expected 0.618 retracement near %s, got %s", want, level61.Price)
	}
}

func TestProjectDownSwingInvertsMapping(t *testing.T) {
	p := fibonacci.New(defaultConfig())
	dom := types.Swing{
		Start:     types.Fractal{Price: decimal.NewFromFloat(1.2000), Kind: types.FractalHigh},
		End:       types.Fractal{Price: decimal.NewFromFloat(1.1000), Kind: types.FractalLow},
		Direction: types.SwingDown,
	}
	set := p.Project(dom, time.Now().UTC())
	if set.Direction != types.SwingDown {
		t.Fatalf("expected down direction, got %s", set.Direction)
	}
}
