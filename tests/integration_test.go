// Package integration_test exercises the full config -> repository ->
// pipeline pool -> dashboard wiring end to end, the way cmd/analyzer
// assembles it.
package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/internal/analyzer"
	"github.com/marketstructure/sdfib-analyzer/internal/dashboard"
	"github.com/marketstructure/sdfib-analyzer/internal/pipelinepool"
	"github.com/marketstructure/sdfib-analyzer/internal/repository"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func relaxedConfig() *types.Config {
	cfg := types.DefaultConfig()
	cfg.Fractal.PivotN = 3
	cfg.Base.ATRPeriod = 3
	cfg.Base.MinBaseCandles = 2
	cfg.Base.MaxBaseCandles = 3
	cfg.Base.ConsolidationThreshold = 10
	cfg.Base.BodySizeThreshold = 10
	cfg.Base.MinScore = 0
	cfg.Swing.MinMagnitudePips = 0
	cfg.Move.MinMoveCandlesValue = 2
	cfg.Move.MinMoveInATR = 0.1
	cfg.Move.MinMomentumScore = 0
	cfg.Move.RequireVolumeConfirm = false
	cfg.Move.MaxScanDistance = 3
	cfg.Zone.MinStrength = 0
	cfg.Zone.OverlapMergeRatio = 0.1
	cfg.Pipeline.QueueDepth = 32
	cfg.Pipeline.BackfillWorkers = 2
	return cfg
}

func flatCandle(t time.Time, base float64) types.Bar {
	return types.Bar{
		Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: t,
		Open: decimal.NewFromFloat(base), High: decimal.NewFromFloat(base + 0.0005),
		Low: decimal.NewFromFloat(base - 0.0005), Close: decimal.NewFromFloat(base + 0.0001),
		Volume: decimal.NewFromFloat(100),
	}
}

func impulseCandle(t time.Time, open, close float64) types.Bar {
	return types.Bar{
		Symbol: "EURUSD", Timeframe: types.TimeframeM15, Time: t,
		Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(close + 0.0005),
		Low: decimal.NewFromFloat(open - 0.0005), Close: decimal.NewFromFloat(close),
		Volume: decimal.NewFromFloat(100),
	}
}

// TestFullWiringProducesQueryableZone drives a base-then-impulse bar
// sequence through a real supervisor-backed facade and confirms the
// resulting zone is both persisted and visible through the HTTP dashboard.
func TestFullWiringProducesQueryableZone(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	logger := zap.NewNop()
	cfg := relaxedConfig()

	repo, err := repository.NewFileRepository(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	facade := analyzer.New(cfg, logger)
	supervisor := pipelinepool.NewSupervisor(logger, facade, cfg.Pipeline)
	defer supervisor.Stop()

	deltas, unsubscribe := facade.Subscribe()
	defer unsubscribe()
	go func() {
		for delta := range deltas {
			for _, z := range delta.NewZones {
				_ = repo.SaveZone(z)
			}
		}
	}()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []types.Bar{
		flatCandle(start, 1.1000),
		flatCandle(start.Add(15*time.Minute), 1.1001),
		flatCandle(start.Add(30*time.Minute), 1.1000),
		impulseCandle(start.Add(45*time.Minute), 1.1000, 1.1030),
		impulseCandle(start.Add(60*time.Minute), 1.1030, 1.1060),
		impulseCandle(start.Add(75*time.Minute), 1.1060, 1.1090),
	}

	ctx := context.Background()
	for _, b := range bars {
		if err := supervisor.Submit(ctx, b); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	var zones []types.SupplyDemandZone
	for {
		zones, err = repo.QueryZones(types.ZoneFilter{Symbol: "EURUSD"})
		if err != nil {
			t.Fatalf("QueryZones: %v", err)
		}
		if len(zones) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a zone to be created and persisted")
		}
		time.Sleep(time.Millisecond)
	}

	serverCfg := cfg.Server
	serverCfg.Port = 0
	srv := dashboard.NewServer(logger, serverCfg, facade)

	addr := startOnFreePort(t, srv)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/snapshot/EURUSD/M15", addr))
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap types.StructureSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.ActiveZones) == 0 {
		t.Fatal("expected the dashboard snapshot to include the created zone")
	}
}

// startOnFreePort starts srv's router on an ephemeral localhost listener and
// returns its address, bypassing Start()'s fixed-port ListenAndServe so the
// test never races another process for a port.
func startOnFreePort(t *testing.T, srv *dashboard.Server) string {
	t.Helper()
	httpSrv := &http.Server{Handler: srv.Router()}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go httpSrv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	})
	return ln.Addr().String()
}
