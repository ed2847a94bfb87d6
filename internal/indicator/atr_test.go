package indicator_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/indicator"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func bar(t time.Time, high, low, close float64) types.Bar {
	return types.Bar{
		Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: t,
		Open: decimal.NewFromFloat(close), High: decimal.NewFromFloat(high),
		Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(close),
		Volume: decimal.NewFromFloat(100),
	}
}

// TestATRSeedsWithSimpleAverageThenSmooths checks the ramp-up average
// matches a plain mean of the first period true ranges, and that the first
// post-seed value applies Wilder's update prev + (tr-prev)*(1/n), with the
// same 1/n decimal multiplier utils.NewWilderEMA uses. That is algebraically
// (prev*(n-1)+tr)/n, but the two decimal routes round differently.
func TestATRSeedsWithSimpleAverageThenSmooths(t *testing.T) {
	a := indicator.NewATR(3)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	v1 := a.Add(bar(start, 1.1010, 1.1000, 1.1005))
	if !v1.Equal(decimal.NewFromFloat(0.0010)) {
		t.Fatalf("expected first TR 0.0010, got %s", v1)
	}

	v2 := a.Add(bar(start.Add(15*time.Minute), 1.1020, 1.1005, 1.1015))
	want2 := decimal.NewFromFloat(0.0010).Add(decimal.NewFromFloat(0.0015)).Div(decimal.NewFromInt(2))
	if !v2.Equal(want2) {
		t.Fatalf("expected seeding average %s, got %s", want2, v2)
	}

	v3 := a.Add(bar(start.Add(30*time.Minute), 1.1030, 1.1015, 1.1025))
	want3 := decimal.NewFromFloat(0.0010).Add(decimal.NewFromFloat(0.0015)).Add(decimal.NewFromFloat(0.0015)).Div(decimal.NewFromInt(3))
	if !v3.Equal(want3) {
		t.Fatalf("expected seeding average %s, got %s", want3, v3)
	}
	if !a.Current().Equal(want3) {
		t.Fatalf("expected Current() to match seeded average %s, got %s", want3, a.Current())
	}

	v4 := a.Add(bar(start.Add(45*time.Minute), 1.1040, 1.1025, 1.1035))
	tr4 := decimal.NewFromFloat(0.0015)
	want4 := want3.Add(tr4.Sub(want3).Mul(decimal.NewFromFloat(1.0 / 3)))
	if !v4.Equal(want4) {
		t.Fatalf("expected Wilder-smoothed value %s, got %s", want4, v4)
	}
}

// TestATRFloorsOnFlatMarket checks a zero true range never drives ATR below
// the shared zero floor.
func TestATRFloorsOnFlatMarket(t *testing.T) {
	a := indicator.NewATR(2)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		v := a.Add(bar(start.Add(time.Duration(i)*15*time.Minute), 1.1000, 1.1000, 1.1000))
		if v.LessThan(indicator.ZeroFloor()) {
			t.Fatalf("expected ATR floored at %s, got %s", indicator.ZeroFloor(), v)
		}
	}
}
