package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiarashplusplus/fiml/internal/market"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	return NewBase(Config{
		Name:               "test",
		Enabled:            true,
		RateLimitPerMinute: 100000,
		TimeoutSeconds:     5,
	})
}

// fakeClock is a manually-advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBase_CooldownMonotonicAndSelfClearing(t *testing.T) {
	b := newTestBase(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b.SetClock(clock.Now)

	assert.False(t, b.InCooldown())

	b.SetCooldown(10 * time.Second)
	assert.True(t, b.InCooldown())

	// A shorter cooldown never shrinks the deadline.
	b.SetCooldown(2 * time.Second)
	clock.Advance(5 * time.Second)
	assert.True(t, b.InCooldown(), "deadline must not move backwards")

	// A longer cooldown extends it.
	b.SetCooldown(30 * time.Second)
	clock.Advance(10 * time.Second)
	assert.True(t, b.InCooldown())

	// Expires on its own once the deadline passes; no reset call needed.
	clock.Advance(31 * time.Second)
	assert.False(t, b.InCooldown())

	// Zero and negative durations are ignored.
	b.SetCooldown(0)
	b.SetCooldown(-time.Second)
	assert.False(t, b.InCooldown())
}

func TestBase_Counters(t *testing.T) {
	b := newTestBase(t)

	assert.Equal(t, 1.0, b.SuccessRate(), "no observations yet")
	assert.Equal(t, 1.0, b.Uptime24h())

	b.RecordSuccess(100 * time.Millisecond)
	b.RecordSuccess(200 * time.Millisecond)
	b.RecordError()

	assert.InDelta(t, 2.0/3.0, b.SuccessRate(), 1e-9)
	assert.InDelta(t, 2.0/3.0, b.Uptime24h(), 1e-9)

	h := b.Health()
	assert.Equal(t, "test", h.Name)
	assert.EqualValues(t, 1, h.Errors24h)
	assert.InDelta(t, 2.0/3.0, h.SuccessRate, 1e-9)
}

func TestBase_OutcomeWindowExpires(t *testing.T) {
	b := newTestBase(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	b.SetClock(clock.Now)

	b.RecordError()
	b.RecordError()
	assert.InDelta(t, 0.0, b.Uptime24h(), 1e-9)

	// The old failures fall out of the trailing window.
	clock.Advance(25 * time.Hour)
	b.RecordSuccess(50 * time.Millisecond)
	assert.InDelta(t, 1.0, b.Uptime24h(), 1e-9)

	// The lifetime success rate still remembers them.
	assert.InDelta(t, 1.0/3.0, b.SuccessRate(), 1e-9)
}

func TestBase_LatencyP95(t *testing.T) {
	b := newTestBase(t)

	assert.Equal(t, float64(defaultLatencyMS), b.LatencyP95("US"),
		"defaults while no samples exist")

	for i := 1; i <= 100; i++ {
		b.RecordSuccess(time.Duration(i) * time.Millisecond)
	}
	p95 := b.LatencyP95("US")
	assert.GreaterOrEqual(t, p95, 90.0)
	assert.LessOrEqual(t, p95, 100.0)
}

func TestBase_LastUpdateDefaultsToNow(t *testing.T) {
	b := newTestBase(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b.SetClock(clock.Now)

	asset := market.MustAsset("AAPL", market.KindEquity, market.MarketUS)

	// Unobserved pair reads as fresh.
	assert.Equal(t, clock.Now(), b.LastUpdate(asset, market.DataTypePrice))

	resp := b.NewResponse(asset, market.DataTypePrice, map[string]any{"price": 1.0}, 0.9)
	require.True(t, resp.IsValid)
	stamped := clock.Now()

	clock.Advance(2 * time.Minute)
	assert.Equal(t, stamped, b.LastUpdate(asset, market.DataTypePrice))
	assert.Equal(t, clock.Now(), b.LastUpdate(asset, market.DataTypeOHLCV),
		"other data types remain unobserved")
}

func TestBase_DefaultFetchesAreUnsupported(t *testing.T) {
	b := newTestBase(t)
	asset := market.MustAsset("AAPL", market.KindEquity, market.MarketUS)
	ctx := context.Background()

	var perr *Error

	_, err := b.FetchPrice(ctx, asset)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnsupported, perr.Kind)

	_, err = b.FetchOHLCV(ctx, asset, "1d", 30)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnsupported, perr.Kind)

	_, err = b.FetchFundamentals(ctx, asset)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnsupported, perr.Kind)

	_, err = b.FetchNews(ctx, asset, 10)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnsupported, perr.Kind)

	_, err = b.FetchTechnical(ctx, asset)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnsupported, perr.Kind)
}

func TestBase_InitializeLifecycle(t *testing.T) {
	b := newTestBase(t)
	ctx := context.Background()

	assert.False(t, b.Initialized())
	require.NoError(t, b.Initialize(ctx))
	assert.True(t, b.Initialized())
	assert.NotNil(t, b.HTTPClient())

	require.NoError(t, b.Shutdown(ctx))
	assert.False(t, b.Initialized())
	assert.Nil(t, b.HTTPClient())
}

func TestConfig_TimeoutDefault(t *testing.T) {
	assert.Equal(t, 10*time.Second, Config{}.Timeout())
	assert.Equal(t, 3*time.Second, Config{TimeoutSeconds: 3}.Timeout())
}
