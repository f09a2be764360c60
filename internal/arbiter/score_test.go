package arbiter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
	"github.com/kiarashplusplus/fiml/internal/provider/providertest"
)

var testAsset = market.MustAsset("AAPL", market.KindEquity, market.MarketUS)

func newScoringEngine(t *testing.T, now time.Time, adapters ...provider.Adapter) *arbiter.Engine {
	t.Helper()
	r := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, r.Register(a))
	}
	e := arbiter.NewEngine(r, nil)
	e.SetClock(func() time.Time { return now })
	return e
}

func TestScore_KnownInputs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m := providertest.New("yahoo")
	m.LastUpd = providertest.Time(now) // freshness 100
	m.LatencyMS = providertest.Float(250)
	m.UptimeVal = providertest.Float(1.0)
	m.CompletenessVal = providertest.Float(0.8)
	m.SuccessRateVal = providertest.Float(1.0)

	e := newScoringEngine(t, now, m)
	s := e.Score(m, testAsset, market.DataTypePrice, "US", 300)

	assert.InDelta(t, 100.0, s.Freshness, 1e-9)
	assert.InDelta(t, 95.0, s.Latency, 1e-9) // 100*(1-250/5000)
	assert.InDelta(t, 100.0, s.Uptime, 1e-9)
	assert.InDelta(t, 80.0, s.Completeness, 1e-9)
	assert.InDelta(t, 100.0, s.Reliability, 1e-9)
	// 0.30*100 + 0.25*95 + 0.20*100 + 0.15*80 + 0.10*100
	assert.InDelta(t, 95.75, s.Total, 1e-9)
}

func TestScore_BoundedZeroToHundred(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		mock func() *providertest.Mock
	}{
		{
			name: "pathological_inputs_clamp_to_zero",
			mock: func() *providertest.Mock {
				m := providertest.New("bad")
				m.LastUpd = providertest.Time(now.Add(-24 * time.Hour)) // deeply stale
				m.LatencyMS = providertest.Float(90000)                 // beyond the ceiling
				m.UptimeVal = providertest.Float(0)
				m.CompletenessVal = providertest.Float(0)
				m.SuccessRateVal = providertest.Float(0)
				return m
			},
		},
		{
			name: "perfect_inputs_cap_at_hundred",
			mock: func() *providertest.Mock {
				m := providertest.New("good")
				m.LastUpd = providertest.Time(now.Add(time.Minute)) // future update stays clamped
				m.LatencyMS = providertest.Float(0)
				m.UptimeVal = providertest.Float(2.0) // out-of-range input
				m.CompletenessVal = providertest.Float(1.0)
				m.SuccessRateVal = providertest.Float(1.0)
				return m
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mock()
			e := newScoringEngine(t, now, m)
			s := e.Score(m, testAsset, market.DataTypePrice, "US", 300)

			for _, v := range []float64{s.Total, s.Freshness, s.Latency, s.Uptime, s.Completeness, s.Reliability} {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 100.0)
			}
		})
	}
}

func TestScore_CooldownScoresZero(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m := providertest.New("yahoo")
	m.SetClock(func() time.Time { return now })
	m.LastUpd = providertest.Time(now)
	m.SetCooldown(time.Minute)

	e := newScoringEngine(t, now, m)
	s := e.Score(m, testAsset, market.DataTypePrice, "US", 300)

	assert.Zero(t, s.Total)
	assert.Zero(t, s.Freshness)
	assert.Zero(t, s.Latency)
	assert.Zero(t, s.Uptime)
	assert.Zero(t, s.Completeness)
	assert.Zero(t, s.Reliability)
}

func TestScore_FreshnessDecaysWithAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m := providertest.New("yahoo")
	m.LastUpd = providertest.Time(now.Add(-150 * time.Second)) // half of max staleness
	m.LatencyMS = providertest.Float(250)

	e := newScoringEngine(t, now, m)
	s := e.Score(m, testAsset, market.DataTypePrice, "US", 300)
	assert.InDelta(t, 50.0, s.Freshness, 1e-9)

	m.LastUpd = providertest.Time(now.Add(-300 * time.Second))
	s = e.Score(m, testAsset, market.DataTypePrice, "US", 300)
	assert.InDelta(t, 0.0, s.Freshness, 1e-9)
}

func TestScore_NewsAPIBonus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	build := func(name string) *providertest.Mock {
		m := providertest.New(name)
		m.Caps = []market.DataType{market.DataTypeNews}
		m.LastUpd = providertest.Time(now)
		m.LatencyMS = providertest.Float(250)
		m.UptimeVal = providertest.Float(0.6)
		m.CompletenessVal = providertest.Float(0.5)
		m.SuccessRateVal = providertest.Float(0.6)
		return m
	}

	newsapi := build("newsapi")
	other := build("yahoo")
	e := newScoringEngine(t, now, newsapi, other)

	base := e.Score(other, testAsset, market.DataTypeNews, "US", 300)
	boosted := e.Score(newsapi, testAsset, market.DataTypeNews, "US", 300)
	assert.InDelta(t, base.Total*1.20, boosted.Total, 1e-9,
		"newsapi gets a 1.20x bonus on news requests")

	// The bonus applies to sentiment too, but never to price.
	boostedSentiment := e.Score(newsapi, testAsset, market.DataTypeSentiment, "US", 300)
	assert.Greater(t, boostedSentiment.Total, base.Total)

	priceBase := e.Score(other, testAsset, market.DataTypePrice, "US", 300)
	priceNews := e.Score(newsapi, testAsset, market.DataTypePrice, "US", 300)
	assert.InDelta(t, priceBase.Total, priceNews.Total, 1e-9)
}

func TestScore_NewsAPIBonusCapsAtHundred(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m := providertest.New("newsapi")
	m.Caps = []market.DataType{market.DataTypeNews}
	m.LastUpd = providertest.Time(now)
	m.LatencyMS = providertest.Float(0)
	m.UptimeVal = providertest.Float(1.0)
	m.CompletenessVal = providertest.Float(1.0)
	m.SuccessRateVal = providertest.Float(1.0)

	e := newScoringEngine(t, now, m)
	s := e.Score(m, testAsset, market.DataTypeNews, "US", 300)
	assert.InDelta(t, 100.0, s.Total, 1e-9)
}
