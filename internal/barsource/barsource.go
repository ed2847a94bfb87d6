// Package barsource defines the bar ingress contract and two reference
// implementations: a deterministic replay source for tests and historical
// driving, and a thin channel-backed push adapter for the shape a live feed
// would implement (A4).
package barsource

import (
	"context"
	"sort"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// BarSource delivers bars to a consumer one at a time. Implementations
// guarantee monotonically increasing timestamps per (symbol, timeframe);
// a consumer that detects a regression treats it as a protocol violation.
type BarSource interface {
	// Deliver blocks until a bar is produced, the source is exhausted (returns
	// io.EOF-equivalent via a false ok with nil error), or ctx is cancelled.
	Deliver(ctx context.Context) (bar types.Bar, ok bool, err error)
}

// Consumer is anything that can absorb a delivered bar, matched against
// analyzer.Facade.OnBar's signature so callers need not import analyzer.
type Consumer interface {
	OnBar(bar types.Bar) (*types.AnalysisDelta, error)
}

// Run drains src and hands every bar to consumer in order, stopping on the
// first error, on source exhaustion, or on context cancellation.
func Run(ctx context.Context, src BarSource, consumer Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bar, ok, err := src.Deliver(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := consumer.OnBar(bar); err != nil {
			return err
		}
	}
}

// ReplaySource drives a facade from a fixed, pre-sorted in-memory bar
// series. Grounded on the teacher's Store.generateSampleData/LoadOHLCV
// pattern: load once, sort by timestamp, then play bars back strictly in
// order.
type ReplaySource struct {
	bars []types.Bar
	pos  int
}

// NewReplaySource copies bars, sorts them by Time, and returns a source
// ready to play them back from the beginning.
func NewReplaySource(bars []types.Bar) *ReplaySource {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &ReplaySource{bars: sorted}
}

// Deliver returns the next bar in series order, or ok=false once exhausted.
func (r *ReplaySource) Deliver(ctx context.Context) (types.Bar, bool, error) {
	select {
	case <-ctx.Done():
		return types.Bar{}, false, ctx.Err()
	default:
	}
	if r.pos >= len(r.bars) {
		return types.Bar{}, false, nil
	}
	bar := r.bars[r.pos]
	r.pos++
	return bar, true, nil
}

// Remaining returns the number of bars not yet delivered.
func (r *ReplaySource) Remaining() int {
	return len(r.bars) - r.pos
}

// Reset rewinds the source to the beginning of the series.
func (r *ReplaySource) Reset() {
	r.pos = 0
}

// ChannelSource adapts a Go channel of bars into a BarSource, the shape a
// live broker/terminal feed would implement against. Production code beyond
// the CLI's demo wiring does not instantiate one; the real broker adapter
// is out of scope.
type ChannelSource struct {
	bars <-chan types.Bar
}

// NewChannelSource wraps an existing channel of bars. The producer is
// responsible for closing it once the feed ends.
func NewChannelSource(bars <-chan types.Bar) *ChannelSource {
	return &ChannelSource{bars: bars}
}

// Deliver blocks on the underlying channel until a bar arrives, the
// channel is closed (ok=false), or ctx is cancelled.
func (c *ChannelSource) Deliver(ctx context.Context) (types.Bar, bool, error) {
	select {
	case <-ctx.Done():
		return types.Bar{}, false, ctx.Err()
	case bar, open := <-c.bars:
		if !open {
			return types.Bar{}, false, nil
		}
		return bar, true, nil
	}
}
