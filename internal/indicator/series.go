package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// ATRSeries computes an ATR value for every bar in bars, aligned index for
// index, using the same Wilder smoothing as ATR, for callers that want
// "ATR at index k" over a whole batch at once. The streaming detectors in
// this module keep their own incremental ATR instead.
func ATRSeries(bars []types.Bar, period int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	a := NewATR(period)
	for i, bar := range bars {
		out[i] = a.Add(bar)
	}
	return out
}
