package analyzer

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/internal/confluence"
	"github.com/marketstructure/sdfib-analyzer/internal/metrics"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

const subscriberBufferSize = 256

// Facade is the single entry point into the analyzer: OnBar ingests market
// data, QueryConfluence and Snapshot serve reads, Subscribe streams deltas
// to dashboard consumers. It owns one pipeline per (symbol, timeframe) and
// the shared confluence cache behind them.
type Facade struct {
	cfg     *types.Config
	logger  *zap.Logger
	scorer  *confluence.Scorer
	metrics *metrics.Metrics

	mu        sync.Mutex
	pipelines map[string]*pipeline

	subMu       sync.Mutex
	subscribers map[int]chan types.AnalysisDelta
	nextSubID   int
}

// New creates a Facade from the given configuration with metrics disabled.
// Use NewWithMetrics to wire Prometheus instrumentation.
func New(cfg *types.Config, logger *zap.Logger) *Facade {
	return NewWithMetrics(cfg, logger, nil)
}

// NewWithMetrics creates a Facade that reports through m. A nil m disables
// instrumentation, matching New's behavior.
func NewWithMetrics(cfg *types.Config, logger *zap.Logger, m *metrics.Metrics) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		cfg:         cfg,
		logger:      logger,
		scorer:      confluence.New(cfg.Confluence),
		metrics:     m,
		pipelines:   make(map[string]*pipeline),
		subscribers: make(map[int]chan types.AnalysisDelta),
	}
}

func pipelineKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

func (f *Facade) pipelineFor(symbol string, tf types.Timeframe) (*pipeline, error) {
	key := pipelineKey(symbol, tf)
	if p, ok := f.pipelines[key]; ok {
		return p, nil
	}
	p, err := newPipeline(symbol, tf, f.cfg, f.logger, f.metrics)
	if err != nil {
		return nil, err
	}
	f.pipelines[key] = p
	return p, nil
}

// OnBar ingests one bar for its (symbol, timeframe) pipeline, creating the
// pipeline on first use, and broadcasts the resulting delta to subscribers.
func (f *Facade) OnBar(bar types.Bar) (*types.AnalysisDelta, error) {
	if !bar.Valid() {
		return nil, &types.InvalidBarError{Symbol: bar.Symbol, Reason: "OHLCV invariant violated"}
	}

	f.mu.Lock()
	p, err := f.pipelineFor(bar.Symbol, bar.Timeframe)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	delta, err := p.onBar(bar, f.scorer)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.broadcast(*delta)
	return delta, nil
}

// QueryConfluence scores a price against the live zone set across the
// requested timeframes for one symbol.
func (f *Facade) QueryConfluence(symbol string, price decimal.Decimal, timeframes []types.Timeframe, now time.Time) types.ConfluenceResult {
	if f.metrics != nil {
		f.metrics.ConfluenceQueries.Inc()
	}
	return f.scorer.Query(price, symbol, timeframes, now)
}

// Snapshot returns the current read-only structure view for one (symbol,
// timeframe), or InsufficientData's sibling — an empty snapshot — if no bar
// has been ingested for it yet.
func (f *Facade) Snapshot(symbol string, tf types.Timeframe, now time.Time) types.StructureSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pipelines[pipelineKey(symbol, tf)]
	if !ok {
		return types.StructureSnapshot{Symbol: symbol, Timeframe: tf, AsOf: now}
	}
	return p.snapshot(now)
}

// Subscribe registers a best-effort broadcast stream of analysis deltas
// across every instrument. The returned cancel func must be called to
// release the subscription's channel.
func (f *Facade) Subscribe() (<-chan types.AnalysisDelta, func()) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	id := f.nextSubID
	f.nextSubID++
	ch := make(chan types.AnalysisDelta, subscriberBufferSize)
	f.subscribers[id] = ch

	cancel := func() {
		f.subMu.Lock()
		defer f.subMu.Unlock()
		if existing, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// broadcast delivers delta to every subscriber without blocking; a
// subscriber too slow to keep up has the delta dropped, per spec §6's
// best-effort stream contract.
func (f *Facade) broadcast(delta types.AnalysisDelta) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	for id, ch := range f.subscribers {
		select {
		case ch <- delta:
		default:
			f.logger.Warn("dropping analysis delta for slow subscriber",
				zap.Int("subscriber_id", id), zap.String("symbol", delta.Symbol))
		}
	}
}
