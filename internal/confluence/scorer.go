// Package confluence scores a query price against the live zone set across
// multiple timeframes (C9).
package confluence

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

type cacheEntry struct {
	zones     []types.SupplyDemandZone
	updatedAt time.Time
}

// Scorer caches zones per (symbol, timeframe) and answers confluence
// queries against that cache. The owning pipeline is the sole writer;
// query handlers read a consistent snapshot under a read lock, per the
// copy-on-read discipline in spec §5.
type Scorer struct {
	cfg types.ConfluenceConfig

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a ConfluenceScorer from the given configuration.
func New(cfg types.ConfluenceConfig) *Scorer {
	return &Scorer{cfg: cfg, cache: make(map[string]cacheEntry)}
}

func cacheKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

// UpdateZones replaces the cached zone set for (symbol, timeframe). Called
// by the owning pipeline whenever its zone set changes.
func (s *Scorer) UpdateZones(symbol string, tf types.Timeframe, zones []types.SupplyDemandZone, now time.Time) {
	cp := make([]types.SupplyDemandZone, len(zones))
	copy(cp, zones)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[cacheKey(symbol, tf)] = cacheEntry{zones: cp, updatedAt: now}
}

// Invalidate drops the cached zone set for (symbol, timeframe), forcing a
// CacheInconsistency-style rebuild on the next UpdateZones call.
func (s *Scorer) Invalidate(symbol string, tf types.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey(symbol, tf))
}

func (s *Scorer) snapshot(symbol string, tf types.Timeframe, now time.Time) []types.SupplyDemandZone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[cacheKey(symbol, tf)]
	if !ok {
		return nil
	}
	if now.Sub(entry.updatedAt) > s.cfg.CacheTimeout {
		return nil
	}
	out := make([]types.SupplyDemandZone, len(entry.zones))
	copy(out, entry.zones)
	return out
}

// Query scores price against the cached zone set for each requested
// timeframe and returns the combined result.
func (s *Scorer) Query(price decimal.Decimal, symbol string, timeframes []types.Timeframe, now time.Time) types.ConfluenceResult {
	result := types.ConfluenceResult{
		DominantType: types.DominantNeutral,
		PerTimeframe: make(map[types.Timeframe]float64, len(timeframes)),
	}

	bestTotal := 0.0
	var bestType types.DominantType = types.DominantNeutral

	for _, tf := range timeframes {
		zones := s.snapshot(symbol, tf, now)
		tfBest := 0.0

		for _, z := range zones {
			score := s.scoreZone(price, z, now)
			result.PerZone = append(result.PerZone, score)

			if score.Total > tfBest {
				tfBest = score.Total
			}
			if score.Total > bestTotal {
				bestTotal = score.Total
				bestType = domTypeOf(z.Type)
			}
		}

		weight := s.cfg.TimeframeWeights[tf]
		result.PerTimeframe[tf] = clamp01(tfBest * weight)
	}

	result.Total = clamp01(bestTotal)
	result.DominantType = bestType
	return result
}

func domTypeOf(zt types.ZoneType) types.DominantType {
	switch zt {
	case types.ZoneSupply:
		return types.DominantSupply
	case types.ZoneDemand:
		return types.DominantDemand
	default:
		return types.DominantNeutral
	}
}

// scoreZone implements the per-zone breakdown of spec §4.8.
func (s *Scorer) scoreZone(price decimal.Decimal, z types.SupplyDemandZone, now time.Time) types.ZoneConfluenceScore {
	proximity, distancePips := s.proximity(price, z)
	strength := z.Strength
	ageHours := now.Sub(z.CreatedAt).Hours()
	freshness := clamp01(1 - ageHours/s.cfg.MaxZoneAgeHours)

	var testHistory float64
	if z.TestCount == 0 {
		testHistory = 0.8
	} else {
		testHistory = float64(z.SuccessCount) / float64(maxInt(z.TestCount, 1))
		successRate := float64(z.SuccessCount) / float64(z.TestCount)
		if z.TestCount >= 3 && successRate >= 0.8 {
			testHistory = clamp01(testHistory + 0.1)
		}
	}

	total := proximity * (s.cfg.StrengthWeight*strength + s.cfg.FreshnessWeight*freshness + s.cfg.TestHistoryWeight*testHistory)

	return types.ZoneConfluenceScore{
		ZoneID:           z.ID,
		ZoneType:         z.Type,
		ProximityScore:   proximity,
		StrengthScore:    strength,
		FreshnessScore:   freshness,
		TestHistoryScore: testHistory,
		Total:            clamp01(total),
		DistancePips:     distancePips,
	}
}

func (s *Scorer) proximity(price decimal.Decimal, z types.SupplyDemandZone) (float64, float64) {
	if price.GreaterThanOrEqual(z.Bottom) && price.LessThanOrEqual(z.Top) {
		center := z.Center()
		halfHeight := z.Height().Div(decimal.NewFromInt(2))
		if !halfHeight.IsPositive() {
			return 1, 0
		}
		prox := 1 - price.Sub(center).Abs().Div(halfHeight).InexactFloat64()
		return clamp01(prox), 0
	}

	var distance decimal.Decimal
	if price.LessThan(z.Bottom) {
		distance = z.Bottom.Sub(price)
	} else {
		distance = price.Sub(z.Top)
	}
	pips := utils.PriceDistanceInPips(z.Symbol, distance)
	if s.cfg.ProximityThresholdPips <= 0 {
		return 0, pips
	}
	prox := 1 - minFloat(pips/s.cfg.ProximityThresholdPips, 1)
	return clamp01(prox), pips
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
