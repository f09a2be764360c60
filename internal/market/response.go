package market

import (
	"time"
)

// ProviderResponse is the single shape every adapter returns. The Data map
// is schema'd per DataType and validated at adapter boundaries:
//
//	price:        price, change, change_percent, volume?
//	ohlcv:        candles: []Candle
//	fundamentals: free-form keyed metrics (pe_ratio, market_cap, eps, ...)
//	technical:    indicator name -> value
//	news:         articles: []Article
type ProviderResponse struct {
	Provider   string         `json:"provider"`
	Asset      Asset          `json:"asset"`
	DataType   DataType       `json:"data_type"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	IsValid    bool           `json:"is_valid"`
	IsFresh    bool           `json:"is_fresh"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Candle is one OHLCV bar inside a ProviderResponse's candle list.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Article is one news item inside a ProviderResponse's article list.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
}

// ProviderHealth is a point-in-time snapshot of one adapter's condition.
type ProviderHealth struct {
	Name        string        `json:"name"`
	Healthy     bool          `json:"healthy"`
	Uptime      float64       `json:"uptime"`
	MeanLatency time.Duration `json:"mean_latency"`
	SuccessRate float64       `json:"success_rate"`
	LastCheck   time.Time     `json:"last_check"`
	Errors24h   int64         `json:"errors_24h"`
}

// ProviderScore is the weighted quality score of one adapter for one
// request. Every field lies in [0, 100]; a cooled-down adapter scores
// zero across the board.
type ProviderScore struct {
	Total        float64 `json:"total"`
	Freshness    float64 `json:"freshness"`
	Latency      float64 `json:"latency"`
	Uptime       float64 `json:"uptime"`
	Completeness float64 `json:"completeness"`
	Reliability  float64 `json:"reliability"`
}
