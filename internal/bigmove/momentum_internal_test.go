package bigmove

import (
	"testing"

	"github.com/shopspring/decimal"
)

// TestRawPersistenceCanExceedOne confirms the n/(n-1) scale-up is a genuine
// non-identity multiplier: a move that ran entirely in one direction has
// netMove == totalMove, so the ratio is 1 and the n/(n-1) factor alone
// pushes the raw value above 1 for any window longer than a single step.
func TestRawPersistenceCanExceedOne(t *testing.T) {
	netMove := decimal.NewFromFloat(0.0050)
	totalMove := decimal.NewFromFloat(0.0050)

	got := rawPersistence(netMove, totalMove, 4)
	if got <= 1 {
		t.Fatalf("expected rawPersistence to exceed 1 before clamping, got %f", got)
	}

	want := 4.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected rawPersistence == %f, got %f", want, got)
	}
}

func TestRawPersistenceZeroOnSingleBarWindow(t *testing.T) {
	got := rawPersistence(decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.001), 1)
	if got != 0 {
		t.Fatalf("expected 0 for a single-bar window, got %f", got)
	}
}
