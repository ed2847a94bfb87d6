package repository_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/internal/repository"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func testZone(id string, createdAt time.Time) types.SupplyDemandZone {
	return types.SupplyDemandZone{
		ID:        id,
		Symbol:    "EURUSD",
		Timeframe: types.TimeframeM15,
		Type:      types.ZoneDemand,
		Top:       decimal.NewFromFloat(1.1010),
		Bottom:    decimal.NewFromFloat(1.1000),
		Status:    types.ZoneStatusActive,
		Strength:  0.7,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestSaveAndGetZoneRoundTrips(t *testing.T) {
	repo, err := repository.NewFileRepository(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	z := testZone("zone_1", time.Now())
	if err := repo.SaveZone(z); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}

	got, ok, err := repo.GetZone("zone_1")
	if err != nil {
		t.Fatalf("GetZone: %v", err)
	}
	if !ok {
		t.Fatal("expected zone_1 to be found")
	}
	if !got.Top.Equal(z.Top) {
		t.Fatalf("expected top %s, got %s", z.Top, got.Top)
	}
}

func TestPersistedStateSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	repo, err := repository.NewFileRepository(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	if err := repo.SaveZone(testZone("zone_1", time.Now())); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}

	reopened, err := repository.NewFileRepository(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("re-open NewFileRepository: %v", err)
	}
	_, ok, err := reopened.GetZone("zone_1")
	if err != nil {
		t.Fatalf("GetZone: %v", err)
	}
	if !ok {
		t.Fatal("expected zone_1 to survive a reload from disk")
	}
}

func TestQueryZonesFiltersByStatusAndSymbol(t *testing.T) {
	repo, err := repository.NewFileRepository(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	active := testZone("zone_active", time.Now())
	broken := testZone("zone_broken", time.Now())
	broken.Status = types.ZoneStatusBroken
	other := testZone("zone_other_symbol", time.Now())
	other.Symbol = "GBPUSD"

	if err := repo.BulkSaveZones([]types.SupplyDemandZone{active, broken, other}); err != nil {
		t.Fatalf("BulkSaveZones: %v", err)
	}

	results, err := repo.QueryZones(types.ZoneFilter{Symbol: "EURUSD", Status: types.ZoneStatusActive})
	if err != nil {
		t.Fatalf("QueryZones: %v", err)
	}
	if len(results) != 1 || results[0].ID != "zone_active" {
		t.Fatalf("expected only zone_active, got %+v", results)
	}
}

func TestDeleteZoneRemovesHistoryAndEvents(t *testing.T) {
	repo, err := repository.NewFileRepository(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	z := testZone("zone_1", time.Now())
	if err := repo.SaveZone(z); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}
	if err := repo.SaveStateUpdate(types.ZoneStateUpdate{ZoneID: "zone_1", NewStatus: types.ZoneStatusTested, Time: time.Now()}); err != nil {
		t.Fatalf("SaveStateUpdate: %v", err)
	}

	if err := repo.DeleteZone("zone_1"); err != nil {
		t.Fatalf("DeleteZone: %v", err)
	}

	if _, ok, _ := repo.GetZone("zone_1"); ok {
		t.Fatal("expected zone_1 to be gone after delete")
	}
	history, err := repo.GetZoneHistory("zone_1", types.HistoryQuery{})
	if err != nil {
		t.Fatalf("GetZoneHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatal("expected history to be cleared on delete")
	}
}

func TestGetZoneStatisticsComputesSuccessRate(t *testing.T) {
	repo, err := repository.NewFileRepository(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	z := testZone("zone_1", time.Now().Add(-48*time.Hour))
	z.TestCount = 4
	z.SuccessCount = 3
	if err := repo.SaveZone(z); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}

	stats, err := repo.GetZoneStatistics("zone_1", time.Now())
	if err != nil {
		t.Fatalf("GetZoneStatistics: %v", err)
	}
	if stats.SuccessRate != 0.75 {
		t.Fatalf("expected success rate 0.75, got %f", stats.SuccessRate)
	}
	if stats.AgeHours < 47 || stats.AgeHours > 49 {
		t.Fatalf("expected age around 48h, got %f", stats.AgeHours)
	}
}

func TestCleanupOldZonesRemovesStaleEntries(t *testing.T) {
	repo, err := repository.NewFileRepository(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	now := time.Now()
	if err := repo.SaveZone(testZone("zone_old", now.Add(-200*time.Hour))); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}
	if err := repo.SaveZone(testZone("zone_new", now)); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}

	removed, err := repo.CleanupOldZones(168*time.Hour, now)
	if err != nil {
		t.Fatalf("CleanupOldZones: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 zone removed, got %d", removed)
	}
	if _, ok, _ := repo.GetZone("zone_new"); !ok {
		t.Fatal("expected zone_new to survive cleanup")
	}
}
