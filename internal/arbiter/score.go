package arbiter

import (
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

// Scoring weights. Freshness dominates: stale market data is worse than
// slow market data.
const (
	weightFreshness    = 0.30
	weightLatency      = 0.25
	weightUptime       = 0.20
	weightCompleteness = 0.15
	weightReliability  = 0.10

	// latencyCeilingMS is the p95 at which the latency sub-score hits 0.
	latencyCeilingMS = 5000

	// healthyCutoff separates providers worth planning around from ones
	// kept only as a last resort.
	healthyCutoff = 50.0

	// newsAPIBonus rewards the dedicated news backend on its home turf.
	newsAPIBonus = 1.20
)

// Score computes the weighted quality score of one adapter for one
// request. A cooled-down adapter scores zero across the board.
func (e *Engine) Score(a provider.Adapter, asset market.Asset, dt market.DataType, region string, maxStalenessSeconds float64) market.ProviderScore {
	if a.InCooldown() {
		return market.ProviderScore{}
	}
	if maxStalenessSeconds <= 0 {
		maxStalenessSeconds = 300
	}

	ageSeconds := e.now().Sub(a.LastUpdate(asset, dt)).Seconds()
	freshness := clamp01To100(100 * (1 - ageSeconds/maxStalenessSeconds))
	latency := clamp01To100(100 * (1 - a.LatencyP95(region)/latencyCeilingMS))
	uptime := clamp01To100(a.Uptime24h() * 100)
	completeness := clamp01To100(a.Completeness(dt) * 100)
	reliability := clamp01To100(a.SuccessRate() * 100)

	total := weightFreshness*freshness +
		weightLatency*latency +
		weightUptime*uptime +
		weightCompleteness*completeness +
		weightReliability*reliability

	if a.Name() == "newsapi" && (dt == market.DataTypeNews || dt == market.DataTypeSentiment) {
		total *= newsAPIBonus
	}
	if total > 100 {
		total = 100
	}

	return market.ProviderScore{
		Total:        total,
		Freshness:    freshness,
		Latency:      latency,
		Uptime:       uptime,
		Completeness: completeness,
		Reliability:  reliability,
	}
}

func clamp01To100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
