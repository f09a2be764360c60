package arbiter

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
)

// mergedProvider is the provider name stamped on every merged response.
const mergedProvider = "arbitration_engine"

// Merge combines multiple independent responses for the same data type.
// Zero responses is a programmer error; one response is returned
// unchanged. Merges are deterministic in the caller's input order.
func (e *Engine) Merge(responses []*market.ProviderResponse, dt market.DataType) (*market.ProviderResponse, error) {
	switch len(responses) {
	case 0:
		return nil, fmt.Errorf("merge requires at least one response")
	case 1:
		return responses[0], nil
	}

	strategy := StrategyFor(dt)
	e.metrics.Merges.WithLabelValues(string(strategy)).Inc()

	switch strategy {
	case StrategyWeightedAverage:
		field, rangeKey := "price", "price_range"
		if dt == market.DataTypeSentiment {
			field, rangeKey = "score", "score_range"
		}
		return e.mergeWeightedAverage(responses, dt, field, rangeKey)
	case StrategyAggregateCandles:
		return e.mergeCandles(responses, dt)
	case StrategyDeduplicateAndMerge:
		return e.mergeNews(responses, dt)
	default:
		return e.mergeMostRecent(responses, dt)
	}
}

// mergeWeightedAverage combines scalar values weighted by each source's
// confidence. The merged confidence is 1/(1+stddev/|mean|): exactly 1.0
// when every source agrees, degrading as dispersion grows.
func (e *Engine) mergeWeightedAverage(responses []*market.ProviderResponse, dt market.DataType, field, rangeKey string) (*market.ProviderResponse, error) {
	var (
		values  []float64
		weights []float64
		sources []string
	)
	for _, r := range responses {
		v, ok := asFloat(r.Data[field])
		if !ok {
			continue
		}
		values = append(values, v)
		weights = append(weights, r.Confidence)
		sources = append(sources, r.Provider)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no response carried a numeric %q field", field)
	}

	var weightSum, weighted float64
	for i, v := range values {
		weighted += v * weights[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		// All-zero confidence degenerates to a plain mean.
		weighted = 0
		for _, v := range values {
			weighted += v
		}
		weightSum = float64(len(values))
	}
	mean := weighted / weightSum

	plainMean := 0.0
	for _, v := range values {
		plainMean += v
	}
	plainMean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - plainMean) * (v - plainMean)
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)

	// Dispersion is measured against the magnitude of the mean so that
	// negative-valued fields (sentiment scores) keep the result in (0, 1].
	confidence := 1.0
	if stddev > 0 {
		scale := math.Abs(plainMean)
		if scale == 0 {
			scale = 1
		}
		confidence = 1 / (1 + stddev/scale)
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	data := map[string]any{
		field:          mean,
		"sources":      sources,
		"source_count": len(values),
		rangeKey:       map[string]float64{"min": lo, "max": hi},
	}
	return e.mergedResponse(responses[0], dt, data, confidence, StrategyWeightedAverage), nil
}

// mergeCandles concatenates every source's candle list, preserving
// per-source provenance. Grouping candles by timestamp across sources is
// deliberately not attempted here.
func (e *Engine) mergeCandles(responses []*market.ProviderResponse, dt market.DataType) (*market.ProviderResponse, error) {
	var (
		candles    []market.Candle
		sources    []string
		confidence float64
	)
	for _, r := range responses {
		cs := candlesFrom(r.Data["candles"])
		candles = append(candles, cs...)
		sources = append(sources, r.Provider)
		confidence += r.Confidence
	}
	confidence /= float64(len(responses))

	data := map[string]any{
		"candles":      candles,
		"sources":      sources,
		"source_count": len(responses),
	}
	return e.mergedResponse(responses[0], dt, data, confidence, StrategyAggregateCandles), nil
}

// mergeMostRecent adopts, for every key across the union of the inputs'
// data maps, the value from the most recent response that carries a
// non-nil value for it. Order-sensitive by design: inputs are examined
// newest first with the caller's order breaking timestamp ties.
func (e *Engine) mergeMostRecent(responses []*market.ProviderResponse, dt market.DataType) (*market.ProviderResponse, error) {
	ordered := make([]*market.ProviderResponse, len(responses))
	copy(ordered, responses)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})

	data := map[string]any{}
	var sources []string
	for _, r := range ordered {
		sources = append(sources, r.Provider)
		for k, v := range r.Data {
			if v == nil {
				continue
			}
			if _, exists := data[k]; !exists {
				data[k] = v
			}
		}
	}
	data["sources"] = sources
	data["source_count"] = len(responses)

	return e.mergedResponse(responses[0], dt, data, 0.90, StrategyTakeMostRecent), nil
}

// mergeNews unions article lists, deduplicating by canonical URL and
// preserving the original order of first occurrence.
func (e *Engine) mergeNews(responses []*market.ProviderResponse, dt market.DataType) (*market.ProviderResponse, error) {
	var (
		articles []market.Article
		sources  []string
		seen     = map[string]bool{}
	)
	for _, r := range responses {
		sources = append(sources, r.Provider)
		for _, a := range articlesFrom(r.Data["articles"]) {
			key := canonicalURL(a.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			articles = append(articles, a)
		}
	}

	data := map[string]any{
		"articles":     articles,
		"sources":      sources,
		"source_count": len(responses),
	}
	return e.mergedResponse(responses[0], dt, data, 0.90, StrategyDeduplicateAndMerge), nil
}

func (e *Engine) mergedResponse(first *market.ProviderResponse, dt market.DataType, data map[string]any, confidence float64, strategy MergeStrategy) *market.ProviderResponse {
	return &market.ProviderResponse{
		Provider:   mergedProvider,
		Asset:      first.Asset,
		DataType:   dt,
		Data:       data,
		Timestamp:  e.now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: confidence,
		Metadata:   map[string]any{"merge_strategy": string(strategy)},
	}
}

// canonicalURL normalizes an article URL for deduplication: lower-case
// scheme and host, fragment dropped, trailing slash trimmed.
func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// candlesFrom accepts both the typed candle slice adapters build and the
// generic form a JSON round trip produces.
func candlesFrom(v any) []market.Candle {
	switch t := v.(type) {
	case []market.Candle:
		return t
	case []any:
		out := make([]market.Candle, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			c := market.Candle{}
			if ts, ok := m["timestamp"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					c.Timestamp = parsed
				}
			}
			c.Open, _ = asFloat(m["open"])
			c.High, _ = asFloat(m["high"])
			c.Low, _ = asFloat(m["low"])
			c.Close, _ = asFloat(m["close"])
			c.Volume, _ = asFloat(m["volume"])
			out = append(out, c)
		}
		return out
	}
	return nil
}

// articlesFrom accepts both typed article slices and JSON-decoded ones.
func articlesFrom(v any) []market.Article {
	switch t := v.(type) {
	case []market.Article:
		return t
	case []any:
		out := make([]market.Article, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			a := market.Article{}
			a.Title, _ = m["title"].(string)
			a.URL, _ = m["url"].(string)
			a.Source, _ = m["source"].(string)
			a.Summary, _ = m["summary"].(string)
			if ts, ok := m["published_at"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					a.PublishedAt = parsed
				}
			}
			out = append(out, a)
		}
		return out
	}
	return nil
}
