// Package config loads the analyzer's configuration tree from a YAML file,
// environment overrides, and built-in defaults via viper, then validates
// it into the ranges spec.md §7 requires before the rest of the program
// ever sees it (A6).
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

const envPrefix = "SDFIB"

// Load reads configuration from path (if non-empty), layers environment
// variable overrides prefixed SDFIB_ on top, and falls back to
// types.DefaultConfig for anything unset. It returns a
// *types.ConfigurationError — never panics — when the merged result fails
// validation.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	seedDefaults(v, types.DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, &types.ConfigurationError{Field: "path", Reason: err.Error()}
			}
		}
	}

	cfg := types.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &types.ConfigurationError{Field: "*", Reason: err.Error()}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults primes viper with the baked-in defaults so keys never
// present in a config file or the environment still resolve.
func seedDefaults(v *viper.Viper, cfg *types.Config) {
	v.SetDefault("symbols", cfg.Symbols)
	v.SetDefault("timeframes", cfg.Timeframes)
	v.SetDefault("fractal.pivotN", cfg.Fractal.PivotN)
	v.SetDefault("swing.lookbackBars", cfg.Swing.LookbackBars)
	v.SetDefault("swing.minMagnitudePips", cfg.Swing.MinMagnitudePips)
	v.SetDefault("swing.invalidationBuffer", cfg.Swing.InvalidationBuffer)
	v.SetDefault("fibonacci.retracementRatios", cfg.Fibonacci.RetracementRatios)
	v.SetDefault("fibonacci.extensionRatios", cfg.Fibonacci.ExtensionRatios)
	v.SetDefault("base.minBaseCandles", cfg.Base.MinBaseCandles)
	v.SetDefault("base.maxBaseCandles", cfg.Base.MaxBaseCandles)
	v.SetDefault("base.consolidationThreshold", cfg.Base.ConsolidationThreshold)
	v.SetDefault("base.bodySizeThreshold", cfg.Base.BodySizeThreshold)
	v.SetDefault("base.minScore", cfg.Base.MinScore)
	v.SetDefault("base.atrPeriod", cfg.Base.ATRPeriod)
	v.SetDefault("move.minMoveCandles", cfg.Move.MinMoveCandlesValue)
	v.SetDefault("move.minMoveInAtr", cfg.Move.MinMoveInATR)
	v.SetDefault("move.minMomentumScore", cfg.Move.MinMomentumScore)
	v.SetDefault("move.requireVolumeConfirm", cfg.Move.RequireVolumeConfirm)
	v.SetDefault("move.volumeMultiplier", cfg.Move.VolumeMultiplier)
	v.SetDefault("move.maxScanDistance", cfg.Move.MaxScanDistance)
	v.SetDefault("zone.extendLeftToBase", cfg.Zone.ExtendLeftToBase)
	v.SetDefault("zone.minStrength", cfg.Zone.MinStrength)
	v.SetDefault("zone.overlapMergeRatio", cfg.Zone.OverlapMergeRatio)
	v.SetDefault("state.touchToleranceAtr", cfg.State.TouchToleranceATR)
	v.SetDefault("state.breakConfirmationAtr", cfg.State.BreakConfirmationATR)
	v.SetDefault("state.maxAge", cfg.State.MaxAge)
	v.SetDefault("state.maxTestCount", cfg.State.MaxTestCount)
	v.SetDefault("state.reactionWindowBars", cfg.State.ReactionWindowBars)
	v.SetDefault("state.reactionStrengthThreshold", cfg.State.ReactionStrengthThreshold)
	v.SetDefault("state.flipConfirmationBars", cfg.State.FlipConfirmationBars)
	v.SetDefault("state.flipTolerancePct", cfg.State.FlipTolerancePct)
	v.SetDefault("confluence.proximityThresholdPips", cfg.Confluence.ProximityThresholdPips)
	v.SetDefault("confluence.freshnessWeight", cfg.Confluence.FreshnessWeight)
	v.SetDefault("confluence.strengthWeight", cfg.Confluence.StrengthWeight)
	v.SetDefault("confluence.testHistoryWeight", cfg.Confluence.TestHistoryWeight)
	v.SetDefault("confluence.timeframeWeights", cfg.Confluence.TimeframeWeights)
	v.SetDefault("confluence.cacheTimeout", cfg.Confluence.CacheTimeout)
	v.SetDefault("confluence.maxZoneAgeHours", cfg.Confluence.MaxZoneAgeHours)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.websocketPath", cfg.Server.WebSocketPath)
	v.SetDefault("server.readTimeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.maxConnections", cfg.Server.MaxConnections)
	v.SetDefault("server.enableMetrics", cfg.Server.EnableMetrics)
	v.SetDefault("server.metricsPath", cfg.Server.MetricsPath)
	v.SetDefault("data.dataDir", cfg.Data.DataDir)
	v.SetDefault("data.cacheSize", cfg.Data.CacheSize)
	v.SetDefault("pipeline.queueDepth", cfg.Pipeline.QueueDepth)
	v.SetDefault("pipeline.backfillWorkers", cfg.Pipeline.BackfillWorkers)
}

// Validate checks the ranges spec.md §7 requires, returning the first
// violation found as a *types.ConfigurationError.
func Validate(cfg *types.Config) error {
	if cfg.Fractal.PivotN < 3 || cfg.Fractal.PivotN%2 == 0 {
		return &types.ConfigurationError{Field: "fractal.pivotN", Reason: "must be odd and >= 3"}
	}
	if cfg.Base.MinBaseCandles < 1 {
		return &types.ConfigurationError{Field: "base.minBaseCandles", Reason: "must be >= 1"}
	}
	if cfg.Base.MaxBaseCandles < cfg.Base.MinBaseCandles {
		return &types.ConfigurationError{Field: "base.maxBaseCandles", Reason: "must be >= base.minBaseCandles"}
	}
	if cfg.Move.MinMoveCandlesValue < 1 {
		return &types.ConfigurationError{Field: "move.minMoveCandles", Reason: "must be >= 1"}
	}
	if cfg.Move.MaxScanDistance < cfg.Move.MinMoveCandlesValue {
		return &types.ConfigurationError{Field: "move.maxScanDistance", Reason: "must be >= move.minMoveCandles"}
	}
	if cfg.Zone.MinStrength < 0 || cfg.Zone.MinStrength > 1 {
		return &types.ConfigurationError{Field: "zone.minStrength", Reason: "must be in [0, 1]"}
	}
	if cfg.Zone.OverlapMergeRatio <= 0 || cfg.Zone.OverlapMergeRatio > 1 {
		return &types.ConfigurationError{Field: "zone.overlapMergeRatio", Reason: "must be in (0, 1]"}
	}

	weightSum := cfg.Confluence.FreshnessWeight + cfg.Confluence.StrengthWeight + cfg.Confluence.TestHistoryWeight
	if math.Abs(weightSum-1.0) > 1e-6 {
		return &types.ConfigurationError{
			Field:  "confluence.{freshness,strength,testHistory}Weight",
			Reason: fmt.Sprintf("must sum to 1 +/- 1e-6, got %f", weightSum),
		}
	}
	if cfg.Confluence.ProximityThresholdPips <= 0 {
		return &types.ConfigurationError{Field: "confluence.proximityThresholdPips", Reason: "must be > 0"}
	}

	if len(cfg.Symbols) == 0 {
		return &types.ConfigurationError{Field: "symbols", Reason: "must list at least one symbol"}
	}
	if len(cfg.Timeframes) == 0 {
		return &types.ConfigurationError{Field: "timeframes", Reason: "must list at least one timeframe"}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &types.ConfigurationError{Field: "server.port", Reason: "must be a valid TCP port"}
	}

	return nil
}
