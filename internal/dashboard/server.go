// Package dashboard exposes a read-only HTTP+WebSocket surface over the
// analyzer facade: snapshot/confluence/zone queries plus a best-effort
// stream of analysis deltas. Grounded on the teacher's internal/api package
// (mux router, websocket upgrader, cors middleware, a Client/Send-channel
// hub with read/write pumps). This package only consumes analyzer.Facade;
// it is never a dependency of the core (A5).
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// Facade is the subset of analyzer.Facade the dashboard depends on, kept
// narrow so this package never imports internal/analyzer directly.
type Facade interface {
	Snapshot(symbol string, tf types.Timeframe, now time.Time) types.StructureSnapshot
	QueryConfluence(symbol string, price decimal.Decimal, timeframes []types.Timeframe, now time.Time) types.ConfluenceResult
	Subscribe() (<-chan types.AnalysisDelta, func())
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Server is the HTTP/WebSocket dashboard server.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	cfg    types.ServerConfig
	facade Facade

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	deltaCh <-chan types.AnalysisDelta
	cancel  func()
	done    chan struct{}
}

// NewServer creates a dashboard server over facade.
func NewServer(logger *zap.Logger, cfg types.ServerConfig, facade Facade) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger,
		cfg:     cfg,
		facade:  facade,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router for tests that want to drive
// requests through httptest.NewServer without binding a real listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/snapshot/{symbol}/{timeframe}", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/confluence/{symbol}", s.handleConfluence).Methods("GET")
	s.router.HandleFunc("/api/v1/zones/{symbol}/{timeframe}", s.handleZones).Methods("GET")
	path := s.cfg.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	s.router.HandleFunc(path, s.handleWebSocket)

	if s.cfg.EnableMetrics {
		metricsPath := s.cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		s.router.Handle(metricsPath, promhttp.Handler()).Methods("GET")
	}
}

// Start begins accepting HTTP connections and relaying analyzer deltas to
// WebSocket subscribers. It blocks until the server stops.
func (s *Server) Start() error {
	s.deltaCh, s.cancel = s.facade.Subscribe()
	go s.relayDeltas()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting dashboard server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, closing every client connection.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)

	s.mu.Lock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, tf := vars["symbol"], types.Timeframe(vars["timeframe"])
	snap := s.facade.Snapshot(symbol, tf, time.Now())
	writeJSON(w, snap)
}

func (s *Server) handleConfluence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	priceStr := r.URL.Query().Get("price")
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		http.Error(w, "invalid or missing price query param", http.StatusBadRequest)
		return
	}

	timeframes := parseTimeframes(r.URL.Query().Get("timeframes"))
	if len(timeframes) == 0 {
		timeframes = []types.Timeframe{types.TimeframeM15, types.TimeframeH1, types.TimeframeH4}
	}

	result := s.facade.QueryConfluence(symbol, price, timeframes, time.Now())
	writeJSON(w, result)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, tf := vars["symbol"], types.Timeframe(vars["timeframe"])
	snap := s.facade.Snapshot(symbol, tf, time.Now())
	writeJSON(w, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": tf,
		"zones":     snap.ActiveZones,
		"count":     len(snap.ActiveZones),
	})
}

func parseTimeframes(raw string) []types.Timeframe {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]types.Timeframe, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, types.Timeframe(p))
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
