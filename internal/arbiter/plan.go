// Package arbiter is the arbitration engine: it scores providers for a
// request, builds primary/fallback plans, executes them with fallback,
// and merges agreeing multi-source responses.
package arbiter

import (
	"github.com/kiarashplusplus/fiml/internal/market"
)

// MergeStrategy tags how multiple responses for one data type combine.
type MergeStrategy string

const (
	StrategyWeightedAverage     MergeStrategy = "weighted_average"
	StrategyAggregateCandles    MergeStrategy = "aggregate_candles"
	StrategyTakeMostRecent      MergeStrategy = "take_most_recent"
	StrategyDeduplicateAndMerge MergeStrategy = "deduplicate_and_merge"
)

// StrategyFor maps a data type onto its merge strategy.
func StrategyFor(dt market.DataType) MergeStrategy {
	switch dt {
	case market.DataTypePrice, market.DataTypeSentiment:
		return StrategyWeightedAverage
	case market.DataTypeOHLCV:
		return StrategyAggregateCandles
	case market.DataTypeNews:
		return StrategyDeduplicateAndMerge
	default:
		return StrategyTakeMostRecent
	}
}

// Plan is one arbitration decision: the primary provider, up to two
// fallbacks in rank order, and the merge strategy hint when more than
// one candidate existed.
type Plan struct {
	Primary            string        `json:"primary"`
	Fallbacks          []string      `json:"fallbacks"`
	MergeStrategy      MergeStrategy `json:"merge_strategy,omitempty"`
	EstimatedLatencyMS int           `json:"estimated_latency_ms"`
	TimeoutMS          int           `json:"timeout_ms"`
}

// Chain returns the full try order: primary first, then fallbacks.
func (p *Plan) Chain() []string {
	out := make([]string, 0, 1+len(p.Fallbacks))
	out = append(out, p.Primary)
	out = append(out, p.Fallbacks...)
	return out
}
