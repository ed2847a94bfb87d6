package dashboard_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/internal/dashboard"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

type stubFacade struct {
	snapshot   types.StructureSnapshot
	confluence types.ConfluenceResult
	deltaCh    chan types.AnalysisDelta
}

func (s *stubFacade) Snapshot(symbol string, tf types.Timeframe, now time.Time) types.StructureSnapshot {
	return s.snapshot
}

func (s *stubFacade) QueryConfluence(symbol string, price decimal.Decimal, timeframes []types.Timeframe, now time.Time) types.ConfluenceResult {
	return s.confluence
}

func (s *stubFacade) Subscribe() (<-chan types.AnalysisDelta, func()) {
	if s.deltaCh == nil {
		s.deltaCh = make(chan types.AnalysisDelta, 8)
	}
	return s.deltaCh, func() { close(s.deltaCh) }
}

func newTestServer(facade *stubFacade) (*dashboard.Server, *httptest.Server) {
	srv := dashboard.NewServer(zap.NewNop(), types.ServerConfig{WebSocketPath: "/ws"}, facade)
	ts := httptest.NewServer(srv.Router())
	return srv, ts
}

func TestHandleSnapshotReturnsFacadeData(t *testing.T) {
	facade := &stubFacade{snapshot: types.StructureSnapshot{Symbol: "EURUSD", Timeframe: types.TimeframeM15}}
	_, ts := newTestServer(facade)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/snapshot/EURUSD/M15")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got types.StructureSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Symbol != "EURUSD" {
		t.Fatalf("expected symbol EURUSD, got %s", got.Symbol)
	}
}

func TestHandleConfluenceRejectsMissingPrice(t *testing.T) {
	facade := &stubFacade{}
	_, ts := newTestServer(facade)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/confluence/EURUSD")
	if err != nil {
		t.Fatalf("GET confluence: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing price, got %d", resp.StatusCode)
	}
}

func TestHandleConfluenceReturnsResult(t *testing.T) {
	facade := &stubFacade{confluence: types.ConfluenceResult{Total: 0.75, DominantType: types.DominantDemand}}
	_, ts := newTestServer(facade)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/confluence/EURUSD?price=1.1000")
	if err != nil {
		t.Fatalf("GET confluence: %v", err)
	}
	defer resp.Body.Close()

	var got types.ConfluenceResult
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 0.75 {
		t.Fatalf("expected total 0.75, got %f", got.Total)
	}
}

func TestHandleZonesReturnsActiveZones(t *testing.T) {
	zone := types.SupplyDemandZone{ID: "zone_1", Symbol: "EURUSD", Timeframe: types.TimeframeM15}
	facade := &stubFacade{snapshot: types.StructureSnapshot{ActiveZones: []types.SupplyDemandZone{zone}}}
	_, ts := newTestServer(facade)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/zones/EURUSD/M15")
	if err != nil {
		t.Fatalf("GET zones: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["count"].(float64) != 1 {
		t.Fatalf("expected count 1, got %v", got["count"])
	}
}
