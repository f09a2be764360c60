package arbiter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
	"github.com/kiarashplusplus/fiml/internal/telemetry"
)

// Engine arbitrates between registered providers: score, plan, execute
// with fallback, merge. It holds no request state and is safe for
// concurrent callers.
type Engine struct {
	registry *provider.Registry
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// FetchOptions carries the per-data-type knobs fetch dispatch forwards.
type FetchOptions struct {
	Timeframe string
	Limit     int
}

// NewEngine builds an engine over the registry. A nil metrics bundle is
// replaced with a no-op one.
func NewEngine(registry *provider.Registry, metrics *telemetry.Metrics) *Engine {
	if metrics == nil {
		metrics = telemetry.NewNop()
	}
	return &Engine{
		registry: registry,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Arbitrate scores every compatible provider and emits the execution
// plan: the best candidate as primary, up to two fallbacks, and a merge
// strategy hint when alternatives exist. Fails with
// provider.ErrNoProviderAvailable when the registry has no candidate.
func (e *Engine) Arbitrate(ctx context.Context, asset market.Asset, dt market.DataType, userRegion string, maxStalenessSeconds float64) (*Plan, error) {
	candidates, err := e.registry.ProvidersFor(asset, dt)
	if err != nil {
		return nil, err
	}

	type scored struct {
		adapter provider.Adapter
		score   market.ProviderScore
	}
	ranked := make([]scored, 0, len(candidates))
	for _, a := range candidates {
		ranked = append(ranked, scored{adapter: a, score: e.Score(a, asset, dt, userRegion, maxStalenessSeconds)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score.Total > ranked[j].score.Total
	})

	// Keep the healthy candidates; if nobody clears the bar, keep the
	// single best so the request is still attempted.
	healthy := ranked[:0:0]
	for _, s := range ranked {
		if s.score.Total >= healthyCutoff {
			healthy = append(healthy, s)
		}
	}
	if len(healthy) == 0 {
		healthy = ranked[:1]
	}

	primary := healthy[0].adapter
	plan := &Plan{
		Primary:            primary.Name(),
		EstimatedLatencyMS: int(primary.LatencyP95(userRegion)),
		TimeoutMS:          int(primary.Config().Timeout() / time.Millisecond),
	}
	for _, s := range healthy[1:] {
		plan.Fallbacks = append(plan.Fallbacks, s.adapter.Name())
		if len(plan.Fallbacks) == 2 {
			break
		}
	}
	if len(healthy) >= 2 {
		plan.MergeStrategy = StrategyFor(dt)
	}

	log.Debug().
		Str("symbol", asset.Symbol).
		Str("data_type", string(dt)).
		Str("primary", plan.Primary).
		Strs("fallbacks", plan.Fallbacks).
		Float64("primary_score", healthy[0].score.Total).
		Msg("Arbitration plan built")

	return plan, nil
}

// Execute runs the plan's fallback chain in strict order: primary first,
// then each fallback, never retrying an adapter within one call. Invalid
// or stale responses advance the chain; rate-limit failures put the
// offending adapter in cooldown before advancing. When the whole chain
// is exhausted the caller gets provider.ErrNoProviderAvailable.
func (e *Engine) Execute(ctx context.Context, plan *Plan, asset market.Asset, dt market.DataType, opts FetchOptions) (*market.ProviderResponse, error) {
	if !dt.Fetchable() {
		return nil, fmt.Errorf("data type %s has no fetch operation", dt)
	}

	var lastErr error
	for attempt, name := range plan.Chain() {
		a, ok := e.registry.Get(name)
		if !ok {
			log.Warn().Str("provider", name).Msg("Planned provider missing from registry")
			continue
		}

		start := e.now()
		resp, err := e.dispatch(ctx, a, asset, dt, opts)
		elapsed := e.now().Sub(start)

		if err != nil {
			a.RecordError()
			e.metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
			lastErr = err

			if cooldown, limited := provider.RateLimitHint(err); limited {
				a.SetCooldown(cooldown)
				e.metrics.Cooldowns.WithLabelValues(name).Inc()
				log.Warn().
					Str("provider", name).
					Dur("cooldown", cooldown).
					Msg("Rate limit observed, provider cooling down")
			} else {
				log.Warn().Err(err).Str("provider", name).Str("symbol", asset.Symbol).
					Msg("Provider fetch failed, advancing plan")
			}
			continue
		}

		if resp == nil || !resp.IsValid || !resp.IsFresh {
			a.RecordSuccess(elapsed)
			e.metrics.ProviderRequests.WithLabelValues(name, "rejected").Inc()
			log.Warn().
				Str("provider", name).
				Str("symbol", asset.Symbol).
				Bool("valid", resp != nil && resp.IsValid).
				Bool("fresh", resp != nil && resp.IsFresh).
				Msg("Response rejected, advancing plan")
			continue
		}

		a.RecordSuccess(elapsed)
		e.metrics.ProviderRequests.WithLabelValues(name, "success").Inc()
		e.metrics.ProviderLatency.WithLabelValues(name).Observe(elapsed.Seconds())
		e.metrics.FallbackDepth.Observe(float64(attempt + 1))
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: all providers exhausted: %v", provider.ErrNoProviderAvailable, lastErr)
	}
	return nil, fmt.Errorf("%w: all providers exhausted", provider.ErrNoProviderAvailable)
}

// dispatch routes one fetch by data type. Unsupported types are rejected
// in Execute before the chain starts.
func (e *Engine) dispatch(ctx context.Context, a provider.Adapter, asset market.Asset, dt market.DataType, opts FetchOptions) (*market.ProviderResponse, error) {
	switch dt {
	case market.DataTypePrice:
		return a.FetchPrice(ctx, asset)
	case market.DataTypeOHLCV:
		return a.FetchOHLCV(ctx, asset, opts.Timeframe, opts.Limit)
	case market.DataTypeFundamentals:
		return a.FetchFundamentals(ctx, asset)
	case market.DataTypeNews:
		return a.FetchNews(ctx, asset, opts.Limit)
	case market.DataTypeTechnical:
		return a.FetchTechnical(ctx, asset)
	default:
		return nil, fmt.Errorf("data type %s has no fetch operation", dt)
	}
}

// Fetch is the one-shot convenience path: arbitrate then execute.
func (e *Engine) Fetch(ctx context.Context, asset market.Asset, dt market.DataType, userRegion string, maxStalenessSeconds float64, opts FetchOptions) (*market.ProviderResponse, error) {
	plan, err := e.Arbitrate(ctx, asset, dt, userRegion, maxStalenessSeconds)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan, asset, dt, opts)
}
