package fractal_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/fractal"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func bar(t time.Time, o, h, l, c float64) types.Bar {
	return types.Bar{
		Symbol:    "EURUSD",
		Timeframe: types.TimeframeM15,
		Time:      t,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(100),
	}
}

func TestInsufficientDataYieldsNoFractal(t *testing.T) {
	d, err := fractal.New(5, 14)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		f, err := d.Add(bar(start.Add(time.Duration(i)*time.Minute), 1.1, 1.105, 1.095, 1.1))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if f != nil {
			t.Fatalf("expected no fractal before window fills, got %+v", f)
		}
	}
}

func TestConfirmsHighFractal(t *testing.T) {
	d, err := fractal.New(3, 14)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []float64{1.10, 1.11, 1.12, 1.20, 1.13, 1.11, 1.10}
	var lastFractal *types.Fractal
	for i, p := range prices {
		f, err := d.Add(bar(start.Add(time.Duration(i)*time.Minute), p, p+0.002, p-0.002, p))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if f != nil {
			lastFractal = f
		}
	}
	if lastFractal == nil {
		t.Fatal("expected a confirmed fractal")
	}
	if lastFractal.Kind != types.FractalHigh {
		t.Fatalf("expected high fractal, got %s", lastFractal.Kind)
	}
	if !lastFractal.Price.Equal(decimal.NewFromFloat(1.202)) {
		t.Fatalf("expected pivot price 1.202, got %s", lastFractal.Price)
	}
}

func TestRejectsNonMonotonicTimestamp(t *testing.T) {
	d, err := fractal.New(3, 14)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := d.Add(bar(start, 1.1, 1.11, 1.09, 1.1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err = d.Add(bar(start, 1.1, 1.11, 1.09, 1.1))
	if err == nil {
		t.Fatal("expected InvalidSequence error for duplicate timestamp")
	}
}

func TestRejectsInvalidBar(t *testing.T) {
	d, err := fractal.New(3, 14)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = d.Add(bar(start, 1.1, 1.09, 1.11, 1.1)) // high < low
	if err == nil {
		t.Fatal("expected InvalidBar error")
	}
}

func TestNewRejectsEvenPivot(t *testing.T) {
	if _, err := fractal.New(4, 14); err == nil {
		t.Fatal("expected ConfigurationError for even pivot window")
	}
}
