// Package types provides configuration types for the market structure analyzer.
package types

import "time"

// FractalConfig tunes the n-bar pivot detector (C2).
type FractalConfig struct {
	PivotN int `mapstructure:"pivotN" json:"pivotN"` // bars on each side required to confirm a pivot, odd, >=3
}

// SwingConfig tunes swing construction and dominance selection (C3).
type SwingConfig struct {
	LookbackBars      int     `mapstructure:"lookbackBars" json:"lookbackBars"`
	MinMagnitudePips  float64 `mapstructure:"minMagnitudePips" json:"minMagnitudePips"`
	InvalidationBuffer float64 `mapstructure:"invalidationBuffer" json:"invalidationBuffer"`
}

// FibonacciConfig tunes the retracement/extension projector (C4).
type FibonacciConfig struct {
	RetracementRatios []float64 `mapstructure:"retracementRatios" json:"retracementRatios"`
	ExtensionRatios   []float64 `mapstructure:"extensionRatios" json:"extensionRatios"`
}

// BaseConfig tunes base-candle consolidation detection (C5).
type BaseConfig struct {
	MinBaseCandles         int     `mapstructure:"minBaseCandles" json:"minBaseCandles"`
	MaxBaseCandles         int     `mapstructure:"maxBaseCandles" json:"maxBaseCandles"`
	ConsolidationThreshold float64 `mapstructure:"consolidationThreshold" json:"consolidationThreshold"`
	BodySizeThreshold      float64 `mapstructure:"bodySizeThreshold" json:"bodySizeThreshold"`
	MinScore               float64 `mapstructure:"minScore" json:"minScore"`
	ATRPeriod              int     `mapstructure:"atrPeriod" json:"atrPeriod"`
}

// MoveConfig tunes impulse/big-move detection (C6).
type MoveConfig struct {
	MinMoveCandlesValue  int     `mapstructure:"minMoveCandles" json:"minMoveCandles"`
	MinMoveInATR         float64 `mapstructure:"minMoveInAtr" json:"minMoveInAtr"`
	MinMomentumScore     float64 `mapstructure:"minMomentumScore" json:"minMomentumScore"`
	RequireVolumeConfirm bool    `mapstructure:"requireVolumeConfirm" json:"requireVolumeConfirm"`
	VolumeMultiplier     float64 `mapstructure:"volumeMultiplier" json:"volumeMultiplier"`
	MaxScanDistance      int     `mapstructure:"maxScanDistance" json:"maxScanDistance"`
}

// MinMoveCandles returns the minimum number of bars a qualifying impulse
// move must span.
func (m MoveConfig) MinMoveCandles() int {
	if m.MinMoveCandlesValue <= 0 {
		return 3
	}
	return m.MinMoveCandlesValue
}

// ZoneConfig tunes supply/demand zone placement (C7).
type ZoneConfig struct {
	ExtendLeftToBase bool    `mapstructure:"extendLeftToBase" json:"extendLeftToBase"`
	MinStrength      float64 `mapstructure:"minStrength" json:"minStrength"`
	OverlapMergeRatio float64 `mapstructure:"overlapMergeRatio" json:"overlapMergeRatio"`
}

// StateConfig tunes the zone lifecycle state machine (C8).
type StateConfig struct {
	TouchToleranceATR        float64       `mapstructure:"touchToleranceAtr" json:"touchToleranceAtr"`
	BreakConfirmationATR     float64       `mapstructure:"breakConfirmationAtr" json:"breakConfirmationAtr"`
	MaxAge                   time.Duration `mapstructure:"maxAge" json:"maxAge"`
	MaxTestCount             int           `mapstructure:"maxTestCount" json:"maxTestCount"`
	ReactionWindowBars       int           `mapstructure:"reactionWindowBars" json:"reactionWindowBars"`
	ReactionStrengthThreshold float64      `mapstructure:"reactionStrengthThreshold" json:"reactionStrengthThreshold"`
	FlipConfirmationBars     int           `mapstructure:"flipConfirmationBars" json:"flipConfirmationBars"`
	FlipTolerancePct         float64       `mapstructure:"flipTolerancePct" json:"flipTolerancePct"`
}

// ConfluenceConfig tunes the multi-timeframe confluence scorer (C9).
type ConfluenceConfig struct {
	ProximityThresholdPips float64               `mapstructure:"proximityThresholdPips" json:"proximityThresholdPips"`
	FreshnessWeight        float64               `mapstructure:"freshnessWeight" json:"freshnessWeight"`
	StrengthWeight         float64               `mapstructure:"strengthWeight" json:"strengthWeight"`
	TestHistoryWeight      float64               `mapstructure:"testHistoryWeight" json:"testHistoryWeight"`
	TimeframeWeights       map[Timeframe]float64 `mapstructure:"timeframeWeights" json:"timeframeWeights"`
	CacheTimeout           time.Duration         `mapstructure:"cacheTimeout" json:"cacheTimeout"`
	MaxZoneAgeHours        float64               `mapstructure:"maxZoneAgeHours" json:"maxZoneAgeHours"`
}

// ServerConfig configures the read-only dashboard HTTP/WS server (A5).
type ServerConfig struct {
	Host           string        `mapstructure:"host" json:"host"`
	Port           int           `mapstructure:"port" json:"port"`
	WebSocketPath  string        `mapstructure:"websocketPath" json:"websocketPath"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout" json:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout" json:"writeTimeout"`
	MaxConnections int           `mapstructure:"maxConnections" json:"maxConnections"`
	EnableMetrics  bool          `mapstructure:"enableMetrics" json:"enableMetrics"`
	MetricsPath    string        `mapstructure:"metricsPath" json:"metricsPath"`
}

// DataConfig configures bar persistence and replay (A3/A4).
type DataConfig struct {
	DataDir   string `mapstructure:"dataDir" json:"dataDir"`
	CacheSize int    `mapstructure:"cacheSize" json:"cacheSize"` // number of (symbol,timeframe) series kept warm
}

// PipelineConfig configures the per-(symbol,timeframe) actor supervisor (A8).
type PipelineConfig struct {
	QueueDepth       int `mapstructure:"queueDepth" json:"queueDepth"`
	BackfillWorkers  int `mapstructure:"backfillWorkers" json:"backfillWorkers"`
}

// Config is the root configuration tree for the analyzer, loaded once at
// startup and never mutated afterward.
type Config struct {
	Symbols    []string         `mapstructure:"symbols" json:"symbols"`
	Timeframes []Timeframe      `mapstructure:"timeframes" json:"timeframes"`
	Fractal    FractalConfig    `mapstructure:"fractal" json:"fractal"`
	Swing      SwingConfig      `mapstructure:"swing" json:"swing"`
	Fibonacci  FibonacciConfig  `mapstructure:"fibonacci" json:"fibonacci"`
	Base       BaseConfig       `mapstructure:"base" json:"base"`
	Move       MoveConfig       `mapstructure:"move" json:"move"`
	Zone       ZoneConfig       `mapstructure:"zone" json:"zone"`
	State      StateConfig      `mapstructure:"state" json:"state"`
	Confluence ConfluenceConfig `mapstructure:"confluence" json:"confluence"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Data       DataConfig       `mapstructure:"data" json:"data"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" json:"pipeline"`
}

// DefaultConfig returns the analyzer's baked-in defaults, the same values
// viper is seeded with before a config file or environment overrides are
// applied.
func DefaultConfig() *Config {
	return &Config{
		Symbols:    []string{"EURUSD"},
		Timeframes: []Timeframe{TimeframeM15, TimeframeH1, TimeframeH4},
		Fractal: FractalConfig{
			PivotN: 5,
		},
		Swing: SwingConfig{
			LookbackBars:       200,
			MinMagnitudePips:   10,
			InvalidationBuffer: 0.0001,
		},
		Fibonacci: FibonacciConfig{
			RetracementRatios: []float64{0.236, 0.382, 0.5, 0.618, 0.786},
			ExtensionRatios:   []float64{1.272, 1.414, 1.618, 2.0, 2.618},
		},
		Base: BaseConfig{
			MinBaseCandles:         2,
			MaxBaseCandles:         10,
			ConsolidationThreshold: 0.5,
			BodySizeThreshold:      0.3,
			MinScore:               0.3,
			ATRPeriod:              14,
		},
		Move: MoveConfig{
			MinMoveCandlesValue:  3,
			MinMoveInATR:         2.0,
			MinMomentumScore:     0.6,
			RequireVolumeConfirm: true,
			VolumeMultiplier:     1.5,
			MaxScanDistance:      20,
		},
		Zone: ZoneConfig{
			ExtendLeftToBase:  true,
			MinStrength:       0.3,
			OverlapMergeRatio: 0.5,
		},
		State: StateConfig{
			TouchToleranceATR:         0.1,
			BreakConfirmationATR:      0.3,
			MaxAge:                    168 * time.Hour,
			MaxTestCount:              3,
			ReactionWindowBars:        3,
			ReactionStrengthThreshold: 0.6,
			FlipConfirmationBars:      3,
			FlipTolerancePct:          0.005,
		},
		Confluence: ConfluenceConfig{
			ProximityThresholdPips: 50.0,
			FreshnessWeight:        0.3,
			StrengthWeight:         0.4,
			TestHistoryWeight:      0.3,
			TimeframeWeights: map[Timeframe]float64{
				TimeframeM1:  0.1,
				TimeframeM5:  0.2,
				TimeframeM15: 0.3,
				TimeframeH1:  0.4,
				TimeframeH4:  0.5,
				TimeframeD1:  0.6,
			},
			CacheTimeout:    5 * time.Minute,
			MaxZoneAgeHours: 168,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			WebSocketPath:  "/ws",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxConnections: 256,
			EnableMetrics:  true,
			MetricsPath:    "/metrics",
		},
		Data: DataConfig{
			DataDir:   "./data",
			CacheSize: 32,
		},
		Pipeline: PipelineConfig{
			QueueDepth:      512,
			BackfillWorkers: 4,
		},
	}
}
