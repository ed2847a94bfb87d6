package zonestate_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/internal/zonestate"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func defaultConfig() types.StateConfig {
	return types.StateConfig{
		TouchToleranceATR:         0.1,
		BreakConfirmationATR:      0.3,
		MaxAge:                    168 * time.Hour,
		ReactionWindowBars:        3,
		ReactionStrengthThreshold: 0.6,
		FlipConfirmationBars:      3,
		FlipTolerancePct:          0.005,
	}
}

func bar(t time.Time, o, h, l, c float64) types.Bar {
	return types.Bar{
		Open: decimal.NewFromFloat(o), High: decimal.NewFromFloat(h),
		Low: decimal.NewFromFloat(l), Close: decimal.NewFromFloat(c), Time: t,
	}
}

// TestSupplyZoneBreakS2 mirrors scenario S2: a bar whose high penetrates a
// supply zone's top by more than the break threshold produces a single
// active -> broken transition with reason price_break.
func TestSupplyZoneBreakS2(t *testing.T) {
	m := zonestate.New(defaultConfig())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	z := &types.SupplyDemandZone{
		ID: "z1", Type: types.ZoneSupply,
		Top: decimal.NewFromFloat(1.2650), Bottom: decimal.NewFromFloat(1.2600),
		Status: types.ZoneStatusActive, CreatedAt: start, ATRAtCreation: decimal.NewFromFloat(0.0010),
	}

	res := m.ProcessBar(z, bar(start.Add(time.Hour), 1.2655, 1.2665, 1.2650, 1.2660), start.Add(time.Hour))
	if res.Update == nil {
		t.Fatal("expected a state update")
	}
	if res.Update.NewStatus != types.ZoneStatusBroken {
		t.Fatalf("expected broken status, got %s", res.Update.NewStatus)
	}
	if res.Update.Reason != types.ReasonPriceBreak {
		t.Fatalf("expected price_break reason, got %s", res.Update.Reason)
	}
	if z.Status != types.ZoneStatusBroken {
		t.Fatalf("expected zone status mutated to broken, got %s", z.Status)
	}
}

// TestSupplyZoneFlipS3 mirrors scenario S3: three consecutive closes above
// a broken supply zone's former top, with lows respecting tolerance,
// produce broken -> flipped at the third close.
func TestSupplyZoneFlipS3(t *testing.T) {
	m := zonestate.New(defaultConfig())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	z := &types.SupplyDemandZone{
		ID: "z1", Type: types.ZoneSupply, Symbol: "EURUSD", Timeframe: types.TimeframeH1,
		Top: decimal.NewFromFloat(1.2650), Bottom: decimal.NewFromFloat(1.2600),
		Status: types.ZoneStatusBroken, CreatedAt: start, ATRAtCreation: decimal.NewFromFloat(0.0010),
	}

	closes := []float64{1.2660, 1.2670, 1.2680}
	var lastRes zonestate.Result
	for i, c := range closes {
		tm := start.Add(time.Duration(i+1) * time.Hour)
		b := bar(tm, c-0.0005, c+0.0005, c-0.0008, c)
		lastRes = m.ProcessBar(z, b, tm)
		if i < len(closes)-1 && lastRes.Update != nil {
			t.Fatalf("expected no transition before the third confirming close, got %+v", lastRes.Update)
		}
	}

	if lastRes.Update == nil {
		t.Fatal("expected a flip transition on the third close")
	}
	if lastRes.Update.NewStatus != types.ZoneStatusFlipped {
		t.Fatalf("expected flipped status, got %s", lastRes.Update.NewStatus)
	}
	if lastRes.Spawned == nil {
		t.Fatal("expected a spawned zone of the opposite type")
	}
	if lastRes.Spawned.Type != types.ZoneDemand {
		t.Fatalf("expected spawned zone to be demand, got %s", lastRes.Spawned.Type)
	}
}

func TestTerminalStatusHasNoFurtherTransitions(t *testing.T) {
	m := zonestate.New(defaultConfig())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	z := &types.SupplyDemandZone{
		ID: "z1", Type: types.ZoneDemand,
		Top: decimal.NewFromFloat(1.1000), Bottom: decimal.NewFromFloat(1.0950),
		Status: types.ZoneStatusBroken, CreatedAt: start, ATRAtCreation: decimal.NewFromFloat(0.0010),
	}
	z.Status = types.ZoneStatusExpired // simulate an already-terminal zone

	res := m.ProcessBar(z, bar(start.Add(time.Hour), 1.0990, 1.1100, 1.0980, 1.1090), start.Add(time.Hour))
	if res.Update != nil {
		t.Fatalf("expected no transitions once a zone is terminal, got %+v", res.Update)
	}
}
