// Package zonestate runs the per-bar zone lifecycle state machine: tests,
// breaks, flips, and expiry, plus reaction-strength scoring (C8).
package zonestate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

// pendingReaction tracks the favorable-displacement window following a
// touch or penetration test, finalized once reactionWindow bars have
// elapsed (spec §4.7's reaction strength is measured over subsequent bars,
// not at the moment of the test).
type pendingReaction struct {
	zoneID          string
	kind            types.TestEventKind
	favorableUp     bool // true if favorable displacement is upward (demand zone)
	basePrice       decimal.Decimal
	atrAtCreation   decimal.Decimal
	barsElapsed     int
	displacementSum decimal.Decimal
	testTime        time.Time
	testPrice       decimal.Decimal
}

// flipTrack counts consecutive qualifying closes toward a flip.
type flipTrack struct {
	count int
}

// Manager runs the zone lifecycle state machine for a single (symbol,
// timeframe) pipeline.
type Manager struct {
	cfg     types.StateConfig
	pending map[string][]*pendingReaction
	flips   map[string]*flipTrack
}

// New creates a ZoneStateManager from the given configuration.
func New(cfg types.StateConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		pending: make(map[string][]*pendingReaction),
		flips:   make(map[string]*flipTrack),
	}
}

// Result is everything the manager produced for one zone on one bar.
type Result struct {
	Update     *types.ZoneStateUpdate
	TestEvents []types.ZoneTestEvent
	Spawned    *types.SupplyDemandZone
}

// ProcessBar evaluates one zone against one bar and returns at most one
// status transition (highest severity among break > flip > test > expiry),
// plus any test events produced or finalized on this bar.
func (m *Manager) ProcessBar(z *types.SupplyDemandZone, bar types.Bar, now time.Time) Result {
	var res Result
	res.TestEvents = append(res.TestEvents, m.finalizeReactions(z, bar)...)

	if z.Status == types.ZoneStatusBroken || z.Status == types.ZoneStatusExpired || z.Status == types.ZoneStatusFlipped {
		if z.Status == types.ZoneStatusBroken {
			if spawned, update := m.checkFlip(z, bar, now); update != nil {
				res.Update = update
				res.Spawned = spawned
				return res
			}
		}
		return res
	}

	update, testEvent := m.checkPenetration(z, bar, now)
	if testEvent != nil {
		res.TestEvents = append(res.TestEvents, *testEvent)
	}
	if update != nil {
		res.Update = update
		return res
	}

	if expiry := m.checkExpiry(z, now); expiry != nil {
		res.Update = expiry
		return res
	}

	return res
}

// checkPenetration computes the penetration ratio for the bar, classifies
// it as touch/penetration/break, applies the break transition if
// warranted, and otherwise schedules reaction tracking and applies the
// active -> tested transition on an active zone's first test.
func (m *Manager) checkPenetration(z *types.SupplyDemandZone, bar types.Bar, now time.Time) (*types.ZoneStateUpdate, *types.ZoneTestEvent) {
	height := z.Top.Sub(z.Bottom)
	if !height.IsPositive() {
		return nil, nil
	}

	var penetration decimal.Decimal
	var triggerPrice decimal.Decimal
	var favorableUp bool

	if z.Type == types.ZoneSupply {
		if !bar.High.GreaterThan(z.Bottom) {
			return nil, nil
		}
		penetration = bar.High.Sub(z.Bottom).Div(height)
		triggerPrice = bar.High
		favorableUp = false // favorable reaction for a supply zone is downward
	} else {
		if !bar.Low.LessThan(z.Top) {
			return nil, nil
		}
		penetration = z.Top.Sub(bar.Low).Div(height)
		triggerPrice = bar.Low
		favorableUp = true
	}

	kind := classify(penetration, m.cfg)
	z.TestCount++
	event := types.ZoneTestEvent{
		ZoneID: z.ID,
		Time:   bar.Time,
		Price:  triggerPrice,
		Kind:   kind,
	}

	old := z.Status
	if kind == types.TestBreak {
		z.Status = types.ZoneStatusBroken
		z.UpdatedAt = bar.Time
		return &types.ZoneStateUpdate{
			ZoneID:       z.ID,
			OldStatus:    old,
			NewStatus:    types.ZoneStatusBroken,
			Time:         bar.Time,
			TriggerPrice: triggerPrice,
			Reason:       types.ReasonPriceBreak,
		}, &event
	}

	if z.Status == types.ZoneStatusActive {
		z.Status = types.ZoneStatusTested
	}
	z.UpdatedAt = bar.Time

	m.pending[z.ID] = append(m.pending[z.ID], &pendingReaction{
		zoneID:        z.ID,
		kind:          kind,
		favorableUp:   favorableUp,
		basePrice:     triggerPrice,
		atrAtCreation: z.ATRAtCreation,
		testTime:      bar.Time,
		testPrice:     triggerPrice,
	})

	if old != types.ZoneStatusActive {
		return nil, &event
	}
	z.Status = types.ZoneStatusTested
	return &types.ZoneStateUpdate{
		ZoneID:       z.ID,
		OldStatus:    old,
		NewStatus:    types.ZoneStatusTested,
		Time:         bar.Time,
		TriggerPrice: triggerPrice,
		Reason:       types.ReasonZoneTest,
	}, &event
}

func classify(penetration decimal.Decimal, cfg types.StateConfig) types.TestEventKind {
	touch := decimal.NewFromFloat(cfg.TouchToleranceATR)
	brk := decimal.NewFromFloat(cfg.BreakConfirmationATR)
	switch {
	case penetration.GreaterThanOrEqual(brk):
		return types.TestBreak
	case penetration.GreaterThanOrEqual(touch):
		return types.TestPenetration
	default:
		return types.TestTouch
	}
}

// finalizeReactions advances every pending reaction for this zone by one
// bar, emitting a finalized ZoneTestEvent (with success/reaction_strength
// populated) once reactionWindow bars have elapsed.
func (m *Manager) finalizeReactions(z *types.SupplyDemandZone, bar types.Bar) []types.ZoneTestEvent {
	list := m.pending[z.ID]
	if len(list) == 0 {
		return nil
	}

	var finalized []types.ZoneTestEvent
	remaining := list[:0]
	for _, p := range list {
		displacement := bar.Close.Sub(p.basePrice)
		if !p.favorableUp {
			displacement = displacement.Neg()
		}
		if displacement.IsPositive() {
			p.displacementSum = p.displacementSum.Add(displacement)
		}
		p.barsElapsed++

		if p.barsElapsed >= m.cfg.ReactionWindowBars {
			atr := p.atrAtCreation
			reaction := 0.0
			if atr.IsPositive() {
				mean := p.displacementSum.Div(decimal.NewFromInt(int64(p.barsElapsed)))
				reaction = clamp01(mean.Div(atr).InexactFloat64())
			}
			success := reaction >= m.cfg.ReactionStrengthThreshold && p.kind != types.TestBreak
			if success {
				z.SuccessCount++
			}
			finalized = append(finalized, types.ZoneTestEvent{
				ZoneID:           z.ID,
				Time:             p.testTime,
				Price:            p.testPrice,
				Kind:             p.kind,
				Success:          success,
				ReactionStrength: reaction,
			})
			continue
		}
		remaining = append(remaining, p)
	}
	m.pending[z.ID] = remaining
	return finalized
}

// checkFlip tracks consecutive qualifying closes past a broken zone's
// former boundary and, once flip_confirmation_bars is reached, spawns a
// new zone of the opposite type and marks the original flipped.
func (m *Manager) checkFlip(z *types.SupplyDemandZone, bar types.Bar, now time.Time) (*types.SupplyDemandZone, *types.ZoneStateUpdate) {
	track, ok := m.flips[z.ID]
	if !ok {
		track = &flipTrack{}
		m.flips[z.ID] = track
	}

	tolerance := z.Top.Mul(decimal.NewFromFloat(m.cfg.FlipTolerancePct))
	var qualifies bool
	if z.Type == types.ZoneSupply {
		qualifies = bar.Close.GreaterThan(z.Top) && bar.Low.GreaterThanOrEqual(z.Top.Sub(tolerance))
	} else {
		qualifies = bar.Close.LessThan(z.Bottom) && bar.High.LessThanOrEqual(z.Bottom.Add(tolerance))
	}

	if !qualifies {
		track.count = 0
		return nil, nil
	}
	track.count++
	if track.count < m.cfg.FlipConfirmationBars {
		return nil, nil
	}

	delete(m.flips, z.ID)
	newType := types.ZoneDemand
	if z.Type == types.ZoneDemand {
		newType = types.ZoneSupply
	}
	spawned := &types.SupplyDemandZone{
		ID:               utils.GenerateID("zone"),
		Symbol:           z.Symbol,
		Timeframe:        z.Timeframe,
		Type:             newType,
		Top:              z.Top,
		Bottom:           z.Bottom,
		LeftTime:         z.RightTime,
		RightTime:        bar.Time,
		Strength:         z.Strength,
		Status:           types.ZoneStatusActive,
		ATRAtCreation:    z.ATRAtCreation,
		VolumeAtCreation: z.VolumeAtCreation,
		CreatedAt:        bar.Time,
		UpdatedAt:        bar.Time,
	}

	z.Status = types.ZoneStatusFlipped
	z.UpdatedAt = bar.Time

	return spawned, &types.ZoneStateUpdate{
		ZoneID:       z.ID,
		OldStatus:    types.ZoneStatusBroken,
		NewStatus:    types.ZoneStatusFlipped,
		Time:         bar.Time,
		TriggerPrice: bar.Close,
		Reason:       types.ReasonZoneFlip,
	}
}

func (m *Manager) checkExpiry(z *types.SupplyDemandZone, now time.Time) *types.ZoneStateUpdate {
	if now.Sub(z.CreatedAt) < m.cfg.MaxAge {
		return nil
	}
	old := z.Status
	z.Status = types.ZoneStatusExpired
	z.UpdatedAt = now
	return &types.ZoneStateUpdate{
		ZoneID:    z.ID,
		OldStatus: old,
		NewStatus: types.ZoneStatusExpired,
		Time:      now,
		Reason:    types.ReasonAgeExpiry,
	}
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
