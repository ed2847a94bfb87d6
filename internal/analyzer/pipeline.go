// Package analyzer orchestrates the fractal, swing, Fibonacci, base-candle,
// impulse, zone, lifecycle, and confluence components into a single
// per-(symbol, timeframe) ingestion pipeline (C10).
package analyzer

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/internal/basecandle"
	"github.com/marketstructure/sdfib-analyzer/internal/bigmove"
	"github.com/marketstructure/sdfib-analyzer/internal/confluence"
	"github.com/marketstructure/sdfib-analyzer/internal/fibonacci"
	"github.com/marketstructure/sdfib-analyzer/internal/fractal"
	"github.com/marketstructure/sdfib-analyzer/internal/indicator"
	"github.com/marketstructure/sdfib-analyzer/internal/metrics"
	"github.com/marketstructure/sdfib-analyzer/internal/swing"
	"github.com/marketstructure/sdfib-analyzer/internal/zone"
	"github.com/marketstructure/sdfib-analyzer/internal/zonestate"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

const volumeLookbackBars = 20
const fractalLevelMemory = 20

// pendingBase holds a confirmed BaseRange awaiting a matching impulse move.
type pendingBase struct {
	base       types.BaseRange
	baseCandles []types.Bar
}

// pipeline owns every detector for a single (symbol, timeframe) series. It
// is not safe for concurrent use; the owning facade serializes access per
// instrument, per spec §5's single-writer-per-instrument model.
type pipeline struct {
	symbol    string
	timeframe types.Timeframe
	logger    *zap.Logger
	metrics   *metrics.Metrics

	atr          *indicator.ATR
	fractalDet   *fractal.Detector
	swingBuilder *swing.Builder
	fibProjector *fibonacci.Projector
	baseDet      *basecandle.Detector
	moveDet      *bigmove.Detector
	zoneDet      *zone.Detector
	stateMgr     *zonestate.Manager

	bars           []types.Bar
	fractalHistory []types.Fractal
	fractalLevels  []decimal.Decimal
	pendingBases   []pendingBase

	zoneOrder []string
	registry  map[string]*types.SupplyDemandZone

	lastFibonacci *types.FibonacciSet
}

func newPipeline(symbol string, tf types.Timeframe, cfg *types.Config, logger *zap.Logger, m *metrics.Metrics) (*pipeline, error) {
	fd, err := fractal.New(cfg.Fractal.PivotN, cfg.Base.ATRPeriod)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		symbol:       symbol,
		timeframe:    tf,
		logger:       logger,
		metrics:      m,
		atr:          indicator.NewATR(cfg.Base.ATRPeriod),
		fractalDet:   fd,
		swingBuilder: swing.New(cfg.Swing),
		fibProjector: fibonacci.New(cfg.Fibonacci),
		baseDet:      basecandle.New(cfg.Base),
		moveDet:      bigmove.New(cfg.Move, cfg.Move.MaxScanDistance),
		zoneDet:      zone.New(cfg.Zone, cfg.Move),
		stateMgr:     zonestate.New(cfg.State),
		registry:     make(map[string]*types.SupplyDemandZone),
	}, nil
}

// onBar runs one bar through every detector in turn and assembles the
// atomic batch of changes it produced.
func (p *pipeline) onBar(bar types.Bar, scorer *confluence.Scorer) (*types.AnalysisDelta, error) {
	if bar.Symbol != p.symbol || bar.Timeframe != p.timeframe {
		return nil, &types.InvalidBarError{Symbol: bar.Symbol, Reason: "bar does not match this pipeline's (symbol, timeframe)"}
	}

	if len(p.bars) > 0 {
		last := p.bars[len(p.bars)-1]
		if !bar.Time.After(last.Time) {
			if bar.Time.Equal(last.Time) {
				// Redelivery of the bar just processed: idempotent, no mutation.
				return &types.AnalysisDelta{Symbol: p.symbol, Timeframe: p.timeframe, BarTime: bar.Time}, nil
			}
			return nil, &types.InvalidSequenceError{Symbol: bar.Symbol, Timeframe: bar.Timeframe, Reason: "timestamp not strictly increasing"}
		}
	}

	if p.metrics != nil {
		start := time.Now()
		defer func() { p.metrics.BarProcessingDuration.Observe(time.Since(start).Seconds()) }()
	}

	idx := len(p.bars)
	atrVal := p.atr.Add(bar)
	p.bars = append(p.bars, bar)

	delta := &types.AnalysisDelta{Symbol: p.symbol, Timeframe: p.timeframe, BarTime: bar.Time}

	f, err := p.fractalDet.Add(bar)
	if err != nil {
		return nil, err
	}
	if f != nil {
		if p.metrics != nil {
			p.metrics.FractalsDetected.Inc()
		}
		delta.NewFractal = f
		p.fractalHistory = append(p.fractalHistory, *f)
		p.fractalLevels = append(p.fractalLevels, f.Price)
		if len(p.fractalLevels) > fractalLevelMemory {
			p.fractalLevels = p.fractalLevels[len(p.fractalLevels)-fractalLevelMemory:]
		}
		if newSwing := p.swingBuilder.OnFractal(*f); newSwing != nil {
			delta.NewSwing = newSwing
		}
		if p.swingBuilder.RecomputeDominance(idx) {
			delta.DominanceChange = true
		}
	}
	if p.swingBuilder.OnBar(bar, atrVal, idx) {
		delta.DominanceChange = true
	}
	if delta.DominanceChange {
		if dom := p.swingBuilder.Dominant(); dom != nil {
			fib := p.fibProjector.Project(*dom, bar.Time)
			p.lastFibonacci = &fib
			delta.Fibonacci = &fib
		} else {
			p.lastFibonacci = nil
		}
	}

	// Feed already-registered scans before registering any base confirmed on
	// this same bar, so a freshly registered scan's first bar is the next
	// one, not the base's own closing bar.
	moves, err := p.moveDet.Add(bar)
	if err != nil {
		return nil, err
	}

	base, err := p.baseDet.Add(bar)
	if err != nil {
		return nil, err
	}
	if base != nil {
		baseCandles := p.sliceBars(base.StartIndex, base.EndIndex)
		volumeBefore := p.meanVolumeBefore(base.StartIndex, volumeLookbackBars)
		levels := append([]decimal.Decimal(nil), p.fractalLevels...)
		p.moveDet.RegisterBase(*base, volumeBefore, levels)
		p.pendingBases = append(p.pendingBases, pendingBase{base: *base, baseCandles: baseCandles})
	}

	for _, move := range moves {
		pb, ok := p.takePendingBase(move)
		if !ok {
			continue
		}
		moveCandles := p.sliceBars(move.StartIndex, move.EndIndex)
		if len(moveCandles) == 0 || len(pb.baseCandles) == 0 {
			continue
		}
		z := p.zoneDet.Create(p.symbol, p.timeframe, pb.baseCandles, moveCandles, pb.base, move,
			pb.baseCandles[0].Time, moveCandles[len(moveCandles)-1].Time)
		if z != nil {
			if p.metrics != nil {
				p.metrics.ZonesCreated.WithLabelValues(string(z.Type)).Inc()
			}
			p.addZone(z)
			delta.NewZones = append(delta.NewZones, *z)
			if p.logger != nil {
				p.logger.Debug("zone created",
					zap.String("symbol", p.symbol), zap.String("id", z.ID), zap.String("type", string(z.Type)))
			}
		}
	}

	for _, id := range p.zoneOrder {
		z := p.registry[id]
		if z == nil {
			continue
		}
		res := p.stateMgr.ProcessBar(z, bar, bar.Time)
		delta.TestEvents = append(delta.TestEvents, res.TestEvents...)
		if res.Update != nil {
			if p.metrics != nil {
				p.metrics.ZoneStateTransitions.WithLabelValues(string(res.Update.Reason)).Inc()
			}
			delta.StateUpdates = append(delta.StateUpdates, *res.Update)
			if isTerminalForOverlap(res.Update.NewStatus) {
				p.zoneDet.Remove(id)
			}
		}
		if res.Spawned != nil {
			p.addZone(res.Spawned)
			p.zoneDet.Adopt(*res.Spawned)
			delta.NewZones = append(delta.NewZones, *res.Spawned)
		}
	}

	scorer.UpdateZones(p.symbol, p.timeframe, p.liveZones(), bar.Time)
	return delta, nil
}

// isTerminalForOverlap reports whether a zone in this status should stop
// contesting overlap with newly created zones. Broken zones still run
// through checkFlip, so they remain in the registry; they are only dropped
// from the overlap candidate set.
func isTerminalForOverlap(status types.ZoneStatus) bool {
	return status == types.ZoneStatusBroken || status == types.ZoneStatusFlipped || status == types.ZoneStatusExpired
}

func (p *pipeline) addZone(z *types.SupplyDemandZone) {
	p.registry[z.ID] = z
	p.zoneOrder = append(p.zoneOrder, z.ID)
}

// liveZones returns the zones still relevant to confluence queries: active
// or tested, not yet broken/flipped/expired.
func (p *pipeline) liveZones() []types.SupplyDemandZone {
	out := make([]types.SupplyDemandZone, 0, len(p.zoneOrder))
	for _, id := range p.zoneOrder {
		z := p.registry[id]
		if z == nil {
			continue
		}
		if z.Status == types.ZoneStatusActive || z.Status == types.ZoneStatusTested {
			out = append(out, *z)
		}
	}
	return out
}

func (p *pipeline) takePendingBase(move types.BigMove) (pendingBase, bool) {
	for i, pb := range p.pendingBases {
		if pb.base.EndIndex+1 == move.StartIndex {
			p.pendingBases = append(p.pendingBases[:i], p.pendingBases[i+1:]...)
			return pb, true
		}
	}
	return pendingBase{}, false
}

func (p *pipeline) sliceBars(startIdx, endIdx int) []types.Bar {
	if startIdx < 0 {
		startIdx = 0
	}
	if endIdx >= len(p.bars) {
		endIdx = len(p.bars) - 1
	}
	if startIdx > endIdx {
		return nil
	}
	out := make([]types.Bar, endIdx-startIdx+1)
	copy(out, p.bars[startIdx:endIdx+1])
	return out
}

func (p *pipeline) meanVolumeBefore(start, window int) decimal.Decimal {
	from := start - window
	if from < 0 {
		from = 0
	}
	if from >= start || start > len(p.bars) {
		return decimal.Zero
	}
	sum := decimal.Zero
	count := 0
	for i := from; i < start && i < len(p.bars); i++ {
		sum = sum.Add(p.bars[i].Volume)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// snapshot builds the read-only structure view exposed to dashboard
// consumers.
func (p *pipeline) snapshot(asOf time.Time) types.StructureSnapshot {
	snap := types.StructureSnapshot{
		Symbol:        p.symbol,
		Timeframe:     p.timeframe,
		Fractals:      append([]types.Fractal(nil), p.fractalHistory...),
		Swings:        p.swingBuilder.Swings(),
		DominantSwing: p.swingBuilder.Dominant(),
		Fibonacci:     p.lastFibonacci,
		ActiveZones:   p.liveZones(),
		AsOf:          asOf,
	}
	return snap
}
