package arbiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
	"github.com/kiarashplusplus/fiml/internal/provider/providertest"
)

func newEngine(t *testing.T, adapters ...provider.Adapter) (*arbiter.Engine, *provider.Registry) {
	t.Helper()
	r := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, r.Register(a))
	}
	require.NoError(t, r.Initialize(context.Background()))
	return arbiter.NewEngine(r, nil), r
}

// priceMock builds a mock that serves a fixed price with the given
// scoring profile. Lower latency ranks higher, everything else equal.
func priceMock(name string, latencyMS float64, price float64) *providertest.Mock {
	m := providertest.New(name)
	m.LatencyMS = providertest.Float(latencyMS)
	m.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		return m.Response(asset, market.DataTypePrice, map[string]any{"price": price}, 0.95), nil
	}
	return m
}

func TestEngine_SingleProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := priceMock("yahoo", 250, 150.25)
	e, _ := newEngine(t, m)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)
	assert.Equal(t, "yahoo", plan.Primary)
	assert.Empty(t, plan.Fallbacks)
	assert.Empty(t, plan.MergeStrategy, "a lone candidate needs no merge strategy")
	assert.Equal(t, 250, plan.EstimatedLatencyMS)
	assert.Equal(t, 5000, plan.TimeoutMS)

	resp, err := e.Execute(ctx, plan, testAsset, market.DataTypePrice, arbiter.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", resp.Provider)
	assert.Equal(t, 150.25, resp.Data["price"])
	assert.True(t, resp.IsValid)
	assert.True(t, resp.IsFresh)
}

func TestEngine_PlanRanksByScore(t *testing.T) {
	ctx := context.Background()
	fast := priceMock("binance", 50, 1.0)
	mid := priceMock("yahoo", 500, 1.0)
	slow := priceMock("coingecko", 2000, 1.0)
	e, _ := newEngine(t, slow, fast, mid)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)

	assert.Equal(t, "binance", plan.Primary)
	assert.Equal(t, []string{"yahoo", "coingecko"}, plan.Fallbacks)
	assert.Equal(t, arbiter.StrategyWeightedAverage, plan.MergeStrategy)
}

func TestEngine_PlanCapsFallbacksAtTwo(t *testing.T) {
	ctx := context.Background()
	var mocks []provider.Adapter
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		mocks = append(mocks, priceMock(name, 100, 1.0))
	}
	e, _ := newEngine(t, mocks...)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)
	assert.Len(t, plan.Fallbacks, 2)
	assert.Len(t, plan.Chain(), 3)
}

func TestEngine_UnhealthyProvidersKeepBestOnly(t *testing.T) {
	ctx := context.Background()

	unhealthy := func(name string, latencyMS float64) *providertest.Mock {
		m := priceMock(name, latencyMS, 1.0)
		m.LastUpd = providertest.Time(time.Now().Add(-time.Hour))
		m.UptimeVal = providertest.Float(0.1)
		m.SuccessRateVal = providertest.Float(0.1)
		m.CompletenessVal = providertest.Float(0.1)
		return m
	}

	better := unhealthy("yahoo", 1000)
	worse := unhealthy("coingecko", 4000)
	e, _ := newEngine(t, worse, better)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)

	// Nobody clears the healthy bar, so only the single best candidate
	// remains and the request is still attempted.
	assert.Equal(t, "yahoo", plan.Primary)
	assert.Empty(t, plan.Fallbacks)
	assert.Empty(t, plan.MergeStrategy)
}

func TestEngine_FallbackOnError(t *testing.T) {
	ctx := context.Background()

	primary := providertest.New("yahoo")
	primary.LatencyMS = providertest.Float(50)
	primaryCalls := 0
	primary.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		primaryCalls++
		return nil, provider.NewError("yahoo", provider.KindTransport, "connection reset")
	}

	fallback := priceMock("alphavantage", 500, 99.5)
	e, _ := newEngine(t, primary, fallback)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)
	require.Equal(t, "yahoo", plan.Primary)

	resp, err := e.Execute(ctx, plan, testAsset, market.DataTypePrice, arbiter.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", resp.Provider)

	assert.Equal(t, 1, primaryCalls, "a failed adapter is never retried within one call")
	assert.EqualValues(t, 1, primary.Health().Errors24h, "the failure is recorded against the primary")
	assert.False(t, primary.InCooldown(), "a transport error alone does not trigger cooldown")
}

func TestEngine_RateLimitTriggersCooldown(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	limited := providertest.New("alphavantage")
	limited.SetClock(now)
	limited.LatencyMS = providertest.Float(50)
	limited.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		return nil, errors.New("Rate limit exceeded. Wait 10s")
	}

	fallback := priceMock("yahoo", 500, 101.0)
	e, _ := newEngine(t, limited, fallback)
	e.SetClock(now)

	plan, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)
	require.Equal(t, "alphavantage", plan.Primary)

	resp, err := e.Execute(ctx, plan, testAsset, market.DataTypePrice, arbiter.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", resp.Provider)

	// Cooldown is the parsed hint rounded up plus a second: 11s here.
	assert.True(t, limited.InCooldown())
	clock = clock.Add(10 * time.Second)
	assert.True(t, limited.InCooldown(), "still cooling inside the upstream window")
	clock = clock.Add(1500 * time.Millisecond)
	assert.False(t, limited.InCooldown(), "cooldown clears on its own")

	// While cooling, arbitration routes around the adapter entirely.
	clock = time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	plan, err = e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	require.NoError(t, err)
	assert.Equal(t, "yahoo", plan.Primary)
	assert.Empty(t, plan.Fallbacks)
}

func TestEngine_StructuredRateLimitUsesRetryAfter(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	limited := providertest.New("binance")
	limited.SetClock(now)
	limited.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		return nil, &provider.Error{
			Provider:   "binance",
			Kind:       provider.KindRateLimit,
			Message:    "429 from upstream",
			RetryAfter: 30 * time.Second,
		}
	}

	fallback := priceMock("coingecko", 500, 1.0)
	e, _ := newEngine(t, limited, fallback)
	e.SetClock(now)

	_, err := e.Fetch(ctx, testAsset, market.DataTypePrice, "US", 300, arbiter.FetchOptions{})
	require.NoError(t, err)

	clock = clock.Add(29 * time.Second)
	assert.True(t, limited.InCooldown())
	clock = clock.Add(2 * time.Second)
	assert.False(t, limited.InCooldown())
}

func TestEngine_RejectsInvalidAndStaleResponses(t *testing.T) {
	ctx := context.Background()

	stale := providertest.New("yahoo")
	stale.LatencyMS = providertest.Float(50)
	stale.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		r := stale.Response(asset, market.DataTypePrice, map[string]any{"price": 1.0}, 0.9)
		r.IsFresh = false
		return r, nil
	}

	good := priceMock("binance", 500, 2.0)
	e, _ := newEngine(t, stale, good)

	resp, err := e.Fetch(ctx, testAsset, market.DataTypePrice, "US", 300, arbiter.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "binance", resp.Provider)

	// A rejected response still counts as a completed call, not an error.
	assert.EqualValues(t, 0, stale.Health().Errors24h)
}

func TestEngine_ChainExhaustedSurfacesNoProvider(t *testing.T) {
	ctx := context.Background()

	broken := providertest.New("yahoo")
	broken.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		return nil, provider.NewError("yahoo", provider.KindProtocol, "bad payload")
	}

	e, _ := newEngine(t, broken)

	_, err := e.Fetch(ctx, testAsset, market.DataTypePrice, "US", 300, arbiter.FetchOptions{})
	assert.ErrorIs(t, err, provider.ErrNoProviderAvailable)
}

func TestEngine_NoCandidates(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Arbitrate(ctx, testAsset, market.DataTypePrice, "US", 300)
	assert.ErrorIs(t, err, provider.ErrNoProviderAvailable)
}

func TestEngine_ExecuteRejectsNonFetchableType(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, priceMock("yahoo", 100, 1.0))

	plan := &arbiter.Plan{Primary: "yahoo"}
	_, err := e.Execute(ctx, plan, testAsset, market.DataTypeSentiment, arbiter.FetchOptions{})
	assert.Error(t, err, "sentiment is merge vocabulary, not a fetch operation")
}

func TestEngine_DispatchForwardsOptions(t *testing.T) {
	ctx := context.Background()

	m := providertest.New("binance")
	m.Caps = []market.DataType{market.DataTypeOHLCV}
	var gotTimeframe string
	var gotLimit int
	m.OHLCVFn = func(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
		gotTimeframe, gotLimit = timeframe, limit
		return m.Response(asset, market.DataTypeOHLCV, map[string]any{"candles": []market.Candle{}}, 0.9), nil
	}

	e, _ := newEngine(t, m)
	btc := market.MustAsset("BTC", market.KindCrypto, market.MarketCrypto)

	_, err := e.Fetch(ctx, btc, market.DataTypeOHLCV, "US", 300, arbiter.FetchOptions{Timeframe: "4h", Limit: 72})
	require.NoError(t, err)
	assert.Equal(t, "4h", gotTimeframe)
	assert.Equal(t, 72, gotLimit)
}
