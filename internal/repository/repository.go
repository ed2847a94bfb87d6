// Package repository persists zones, lifecycle transitions, and test events
// to a JSON-file-backed store, with an in-memory cache in front of it and
// retry-with-backoff around every disk write; the load at construction is
// not retried (A3).
package repository

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
	"github.com/marketstructure/sdfib-analyzer/pkg/utils"
)

// historyRecord is a stored ZoneStateUpdate, kept alongside the zone's
// history of transitions for GetZoneHistory.
type historyRecord struct {
	ZoneID string                `json:"zoneId"`
	Update types.ZoneStateUpdate `json:"update"`
}

// Repository persists the analyzer's zones and their lifecycle history.
// Implementations must be safe for concurrent use.
type Repository interface {
	SaveZone(zone types.SupplyDemandZone) error
	UpdateZone(zone types.SupplyDemandZone) error
	DeleteZone(id string) error
	GetZone(id string) (types.SupplyDemandZone, bool, error)
	QueryZones(filter types.ZoneFilter) ([]types.SupplyDemandZone, error)
	BulkSaveZones(zones []types.SupplyDemandZone) error
	SaveStateUpdate(update types.ZoneStateUpdate) error
	SaveTestEvent(event types.ZoneTestEvent) error
	CleanupOldZones(olderThan time.Duration, now time.Time) (int, error)
	GetZoneHistory(zoneID string, query types.HistoryQuery) ([]types.ZoneStateUpdate, error)
	GetTestEvents(zoneID string, query types.HistoryQuery) ([]types.ZoneTestEvent, error)
	GetZoneStatistics(zoneID string, now time.Time) (types.ZoneStatistics, error)
}

// FileRepository is a JSON-file-backed Repository: an in-memory cache
// guarded by a RWMutex, flushed to disk on every write, reloaded on
// construction.
type FileRepository struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	retry   utils.RetryConfig

	zones   map[string]types.SupplyDemandZone
	history map[string][]historyRecord
	events  map[string][]types.ZoneTestEvent
}

// NewFileRepository creates a FileRepository rooted at dataDir, creating the
// directory and loading any previously persisted state.
func NewFileRepository(logger *zap.Logger, dataDir string) (*FileRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FileRepository{
		logger:  logger,
		dataDir: dataDir,
		retry:   utils.DefaultRetryConfig(),
		zones:   make(map[string]types.SupplyDemandZone),
		history: make(map[string][]historyRecord),
		events:  make(map[string][]types.ZoneTestEvent),
	}

	if err := ensureDir(dataDir); err != nil {
		return nil, &types.RepositoryError{Op: "open", Err: err}
	}

	if err := r.load(); err != nil {
		logger.Warn("failed to load persisted repository state", zap.Error(err))
	}

	return r, nil
}

// SaveZone inserts or replaces a zone and flushes it to disk.
func (r *FileRepository) SaveZone(zone types.SupplyDemandZone) error {
	_, err := utils.Retry(r.retry, func() (struct{}, error) {
		r.mu.Lock()
		r.zones[zone.ID] = zone
		r.mu.Unlock()
		return struct{}{}, r.persistZones()
	})
	if err != nil {
		return &types.RepositoryError{Op: "SaveZone", Err: err}
	}
	return nil
}

// UpdateZone replaces an existing zone's fields. Behaves identically to
// SaveZone; callers distinguish create from update at a higher layer.
func (r *FileRepository) UpdateZone(zone types.SupplyDemandZone) error {
	return r.SaveZone(zone)
}

// DeleteZone removes a zone and its history/test events.
func (r *FileRepository) DeleteZone(id string) error {
	_, err := utils.Retry(r.retry, func() (struct{}, error) {
		r.mu.Lock()
		delete(r.zones, id)
		delete(r.history, id)
		delete(r.events, id)
		r.mu.Unlock()
		return struct{}{}, r.persistAll()
	})
	if err != nil {
		return &types.RepositoryError{Op: "DeleteZone", Err: err}
	}
	return nil
}

// GetZone looks up a zone by ID.
func (r *FileRepository) GetZone(id string) (types.SupplyDemandZone, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[id]
	return z, ok, nil
}

// QueryZones returns zones matching filter, newest-created first, with
// Limit/Offset applied after filtering.
func (r *FileRepository) QueryZones(filter types.ZoneFilter) ([]types.SupplyDemandZone, error) {
	r.mu.RLock()
	matched := make([]types.SupplyDemandZone, 0, len(r.zones))
	for _, z := range r.zones {
		if matchesFilter(z, filter) {
			matched = append(matched, z)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesFilter(z types.SupplyDemandZone, f types.ZoneFilter) bool {
	if f.Symbol != "" && z.Symbol != f.Symbol {
		return false
	}
	if f.Timeframe != "" && z.Timeframe != f.Timeframe {
		return false
	}
	if f.Type != "" && z.Type != f.Type {
		return false
	}
	if f.Status != "" && z.Status != f.Status {
		return false
	}
	if f.MinStrength > 0 && z.Strength < f.MinStrength {
		return false
	}
	if f.MaxAgeHours > 0 && time.Since(z.CreatedAt).Hours() > f.MaxAgeHours {
		return false
	}
	return true
}

// BulkSaveZones persists many zones in one batch, per spec §5's bulk
// persistence path for backfill.
func (r *FileRepository) BulkSaveZones(zones []types.SupplyDemandZone) error {
	_, err := utils.BatchProcess(zones, 200, func(batch []types.SupplyDemandZone) ([]struct{}, error) {
		r.mu.Lock()
		for _, z := range batch {
			r.zones[z.ID] = z
		}
		r.mu.Unlock()
		_, err := utils.Retry(r.retry, func() (struct{}, error) { return struct{}{}, r.persistZones() })
		return nil, err
	})
	if err != nil {
		return &types.RepositoryError{Op: "BulkSaveZones", Err: err}
	}
	return nil
}

// SaveStateUpdate appends a lifecycle transition to the append-only
// state-update log and to the in-memory per-zone history.
func (r *FileRepository) SaveStateUpdate(update types.ZoneStateUpdate) error {
	rec := historyRecord{ZoneID: update.ZoneID, Update: update}
	_, err := utils.Retry(r.retry, func() (struct{}, error) {
		if err := appendHistoryLine(filepath.Join(r.dataDir, stateUpdatesFile), rec); err != nil {
			return struct{}{}, err
		}
		r.mu.Lock()
		r.history[update.ZoneID] = append(r.history[update.ZoneID], rec)
		r.mu.Unlock()
		return struct{}{}, nil
	})
	if err != nil {
		return &types.RepositoryError{Op: "SaveStateUpdate", Err: err}
	}
	return nil
}

// SaveTestEvent appends a test event to the append-only test-event log and
// to the in-memory per-zone history.
func (r *FileRepository) SaveTestEvent(event types.ZoneTestEvent) error {
	_, err := utils.Retry(r.retry, func() (struct{}, error) {
		if err := appendEventLine(filepath.Join(r.dataDir, testEventsFile), event); err != nil {
			return struct{}{}, err
		}
		r.mu.Lock()
		r.events[event.ZoneID] = append(r.events[event.ZoneID], event)
		r.mu.Unlock()
		return struct{}{}, nil
	})
	if err != nil {
		return &types.RepositoryError{Op: "SaveTestEvent", Err: err}
	}
	return nil
}

// CleanupOldZones deletes zones whose CreatedAt is older than olderThan,
// returning the number removed.
func (r *FileRepository) CleanupOldZones(olderThan time.Duration, now time.Time) (int, error) {
	r.mu.Lock()
	var stale []string
	for id, z := range r.zones {
		if now.Sub(z.CreatedAt) > olderThan {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.zones, id)
		delete(r.history, id)
		delete(r.events, id)
	}
	r.mu.Unlock()

	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := utils.Retry(r.retry, func() (struct{}, error) { return struct{}{}, r.persistAll() }); err != nil {
		return 0, &types.RepositoryError{Op: "CleanupOldZones", Err: err}
	}
	r.logger.Info("cleaned up stale zones",
		zap.Int("count", len(stale)), zap.String("olderThan", utils.FormatDuration(olderThan)))
	return len(stale), nil
}

// GetZoneHistory returns a zone's transitions within query's bounds,
// oldest first.
func (r *FileRepository) GetZoneHistory(zoneID string, query types.HistoryQuery) ([]types.ZoneStateUpdate, error) {
	r.mu.RLock()
	records := r.history[zoneID]
	r.mu.RUnlock()

	out := make([]types.ZoneStateUpdate, 0, len(records))
	for _, rec := range records {
		if withinQuery(rec.Update.Time, query) {
			out = append(out, rec.Update)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if query.Limit > 0 && query.Limit < len(out) {
		out = out[:query.Limit]
	}
	return out, nil
}

// GetTestEvents returns a zone's test events within query's bounds, oldest
// first.
func (r *FileRepository) GetTestEvents(zoneID string, query types.HistoryQuery) ([]types.ZoneTestEvent, error) {
	r.mu.RLock()
	events := append([]types.ZoneTestEvent(nil), r.events[zoneID]...)
	r.mu.RUnlock()

	out := make([]types.ZoneTestEvent, 0, len(events))
	for _, e := range events {
		if withinQuery(e.Time, query) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if query.Limit > 0 && query.Limit < len(out) {
		out = out[:query.Limit]
	}
	return out, nil
}

// farFuture stands in for an unbounded upper edge when a query has no Until.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func withinQuery(t time.Time, q types.HistoryQuery) bool {
	until := q.Until
	if until.IsZero() {
		until = farFuture
	}
	return utils.TimeRange{Start: q.Since, End: until}.Contains(t)
}

// GetZoneStatistics summarizes a zone's test history.
func (r *FileRepository) GetZoneStatistics(zoneID string, now time.Time) (types.ZoneStatistics, error) {
	r.mu.RLock()
	z, ok := r.zones[zoneID]
	events := append([]types.ZoneTestEvent(nil), r.events[zoneID]...)
	r.mu.RUnlock()

	if !ok {
		return types.ZoneStatistics{}, &types.RepositoryError{Op: "GetZoneStatistics", Err: errZoneNotFound(zoneID)}
	}

	stats := types.ZoneStatistics{
		ZoneID:        zoneID,
		TestCount:     z.TestCount,
		SuccessCount:  z.SuccessCount,
		AgeHours:      now.Sub(z.CreatedAt).Hours(),
		CurrentStatus: z.Status,
	}
	if z.TestCount > 0 {
		stats.SuccessRate = float64(z.SuccessCount) / float64(z.TestCount)
	}
	for i, e := range events {
		if i == 0 {
			stats.FirstTestedAt = e.Time
		}
		stats.LastTestedAt = e.Time
	}
	return stats, nil
}
