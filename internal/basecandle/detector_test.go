package basecandle_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/basecandle"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func defaultConfig() types.BaseConfig {
	return types.BaseConfig{
		MinBaseCandles:         2,
		MaxBaseCandles:         6,
		ConsolidationThreshold: 0.5,
		BodySizeThreshold:      0.3,
		MinScore:               0.3,
		ATRPeriod:              14,
	}
}

func tightBar(t time.Time, mid float64) types.Bar {
	return types.Bar{
		Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: t,
		Open: decimal.NewFromFloat(mid), High: decimal.NewFromFloat(mid + 0.0002),
		Low: decimal.NewFromFloat(mid - 0.0002), Close: decimal.NewFromFloat(mid + 0.0001),
		Volume: decimal.NewFromFloat(100),
	}
}

func TestDetectsConsolidationRun(t *testing.T) {
	d := basecandle.New(defaultConfig())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Seed ATR with a volatile run so the tight bars register as
	// consolidation relative to it.
	for i := 0; i < 14; i++ {
		tm := start.Add(time.Duration(i) * time.Minute)
		bar := types.Bar{
			Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: tm,
			Open: decimal.NewFromFloat(1.1000), High: decimal.NewFromFloat(1.1020),
			Low: decimal.NewFromFloat(1.0980), Close: decimal.NewFromFloat(1.1010),
			Volume: decimal.NewFromFloat(100),
		}
		if _, err := d.Add(bar); err != nil {
			t.Fatalf("Add seed bar: %v", err)
		}
	}

	var br *types.BaseRange
	for i := 0; i < 4; i++ {
		tm := start.Add(time.Duration(14+i) * time.Minute)
		out, err := d.Add(tightBar(tm, 1.1000))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if out != nil {
			br = out
		}
	}
	// Break the consolidation to force a finalize.
	breakBar := types.Bar{
		Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: start.Add(18 * time.Minute),
		Open: decimal.NewFromFloat(1.1000), High: decimal.NewFromFloat(1.1050),
		Low: decimal.NewFromFloat(1.0950), Close: decimal.NewFromFloat(1.1040),
		Volume: decimal.NewFromFloat(100),
	}
	out, err := d.Add(breakBar)
	if err != nil {
		t.Fatalf("Add break bar: %v", err)
	}
	if out != nil {
		br = out
	}

	if br == nil {
		t.Fatal("expected a confirmed BaseRange")
	}
	if br.CandleCount < defaultConfig().MinBaseCandles {
		t.Fatalf("expected candle count >= min_base, got %d", br.CandleCount)
	}
}

func TestRejectsInvalidBar(t *testing.T) {
	d := basecandle.New(defaultConfig())
	bad := types.Bar{
		Open: decimal.NewFromFloat(1.1), High: decimal.NewFromFloat(1.09),
		Low: decimal.NewFromFloat(1.11), Close: decimal.NewFromFloat(1.1),
	}
	if _, err := d.Add(bad); err == nil {
		t.Fatal("expected InvalidBar error")
	}
}
