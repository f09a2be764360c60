package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kiarashplusplus/fiml/internal/market"
)

const (
	latencyRingSize  = 256
	outcomeWindow    = 24 * time.Hour
	defaultLatencyMS = 250
)

type outcome struct {
	at time.Time
	ok bool
}

// Base carries the state every adapter shares: lifecycle flag, rolling
// counters, cooldown deadline, latency samples, last-update index, a
// client-side rate limiter and a circuit breaker around upstream calls.
// Concrete adapters embed *Base and override the fetch operations they
// support; the zero-value fetches report unsupported-operation.
//
// All mutable state is guarded by mu; Base methods are safe for
// concurrent callers.
type Base struct {
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	client  *http.Client

	mu            sync.Mutex
	initialized   bool
	requests      int64
	errors        int64
	cooldownUntil time.Time
	latenciesMS   []float64
	lastUpdate    map[string]time.Time
	outcomes      []outcome

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewBase constructs the shared adapter state from its static config.
func NewBase(cfg Config) *Base {
	perMin := cfg.RateLimitPerMinute
	if perMin <= 0 {
		perMin = 60
	}
	burst := perMin / 10
	if burst < 1 {
		burst = 1
	}

	return &Base{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && counts.TotalFailures*2 > counts.Requests
			},
		}),
		lastUpdate: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Name returns the adapter's configured identity.
func (b *Base) Name() string { return b.cfg.Name }

// Config returns the static configuration the adapter was built with.
func (b *Base) Config() Config { return b.cfg }

// Initialize acquires the shared HTTP transport. A second call after
// success is a no-op.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	b.client = &http.Client{Timeout: b.cfg.Timeout()}
	b.initialized = true
	return nil
}

// Shutdown releases the transport and clears the initialized flag.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.CloseIdleConnections()
		b.client = nil
	}
	b.initialized = false
	return nil
}

// Initialized reports whether the adapter holds transport resources.
func (b *Base) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// HTTPClient returns the transport, or nil before Initialize.
func (b *Base) HTTPClient() *http.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// Do runs one upstream call under the adapter's rate limiter and circuit
// breaker, bounded by the configured per-call timeout. Rejections by the
// limiter surface as rate-limit errors carrying a retry hint; an open
// breaker surfaces as a transport error so the fallback chain advances.
func (b *Base) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	rsv := b.limiter.Reserve()
	if !rsv.OK() {
		return NewError(b.cfg.Name, KindRateLimit, "client-side rate limit exceeded")
	}
	if delay := rsv.Delay(); delay > 0 {
		if delay > b.cfg.Timeout() {
			rsv.Cancel()
			return &Error{
				Provider:   b.cfg.Name,
				Kind:       KindRateLimit,
				Message:    "client-side rate limit exceeded",
				RetryAfter: delay,
			}
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			rsv.Cancel()
			return WrapError(b.cfg.Name, KindTransport, "cancelled while rate limited", ctx.Err())
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout())
	defer cancel()

	_, err := b.breaker.Execute(func() (any, error) {
		return nil, fn(callCtx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return WrapError(b.cfg.Name, KindTransport, "circuit breaker open", err)
	}
	if callCtx.Err() == context.DeadlineExceeded {
		return WrapError(b.cfg.Name, KindTransport,
			fmt.Sprintf("request exceeded %s timeout", b.cfg.Timeout()), callCtx.Err())
	}
	return err
}

// NewResponse assembles a successful ProviderResponse and marks the
// (asset, dataType) pair as updated now.
func (b *Base) NewResponse(asset market.Asset, dt market.DataType, data map[string]any, confidence float64) *market.ProviderResponse {
	now := b.now()

	b.mu.Lock()
	b.lastUpdate[updateKey(asset, dt)] = now
	b.mu.Unlock()

	return &market.ProviderResponse{
		Provider:   b.cfg.Name,
		Asset:      asset,
		DataType:   dt,
		Data:       data,
		Timestamp:  now,
		IsValid:    true,
		IsFresh:    true,
		Confidence: confidence,
	}
}

// RecordSuccess folds one successful call into the rolling counters.
func (b *Base) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	b.latenciesMS = append(b.latenciesMS, float64(latency.Milliseconds()))
	if len(b.latenciesMS) > latencyRingSize {
		b.latenciesMS = b.latenciesMS[1:]
	}
	b.appendOutcomeLocked(true)
}

// RecordError folds one failed call into the rolling counters.
func (b *Base) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	b.errors++
	b.appendOutcomeLocked(false)
}

func (b *Base) appendOutcomeLocked(ok bool) {
	now := b.now()
	b.outcomes = append(b.outcomes, outcome{at: now, ok: ok})
	cutoff := now.Add(-outcomeWindow)
	i := 0
	for i < len(b.outcomes) && b.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.outcomes = b.outcomes[i:]
	}
}

// InCooldown reports whether the cooldown deadline lies in the future.
// The state clears itself once the deadline passes.
func (b *Base) InCooldown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.cooldownUntil)
}

// SetCooldown moves the cooldown deadline to now+d. The deadline only
// ever moves forward; a shorter concurrent observation never shrinks it.
func (b *Base) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.now().Add(d)
	if until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
}

// LastUpdate returns when this adapter last produced data for the pair,
// defaulting to now while no observation exists so an untouched adapter
// is not scored as stale.
func (b *Base) LastUpdate(asset market.Asset, dt market.DataType) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.lastUpdate[updateKey(asset, dt)]; ok {
		return t
	}
	return b.now()
}

// LatencyP95 returns the 95th percentile call latency in milliseconds.
// Region-specific latency tracking is not maintained; the sample pool is
// global. Defaults while the sample pool is empty.
func (b *Base) LatencyP95(region string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.latenciesMS) == 0 {
		return defaultLatencyMS
	}
	sorted := make([]float64, len(b.latenciesMS))
	copy(sorted, b.latenciesMS)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SuccessRate returns the fraction of calls that succeeded, 1.0 while
// no calls have been observed.
func (b *Base) SuccessRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requests == 0 {
		return 1.0
	}
	return float64(b.requests-b.errors) / float64(b.requests)
}

// Uptime24h returns the success fraction over the trailing 24 hours,
// 1.0 while the window is empty.
func (b *Base) Uptime24h() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outcomes) == 0 {
		return 1.0
	}
	ok := 0
	for _, o := range b.outcomes {
		if o.ok {
			ok++
		}
	}
	return float64(ok) / float64(len(b.outcomes))
}

// Completeness is the fraction of the schema this adapter typically
// fills for a data type. Adapters override with their own tables; the
// default is a conservative 0.8.
func (b *Base) Completeness(dt market.DataType) float64 {
	return 0.8
}

// Health snapshots the adapter's operational condition.
func (b *Base) Health() market.ProviderHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var successRate float64 = 1.0
	if b.requests > 0 {
		successRate = float64(b.requests-b.errors) / float64(b.requests)
	}

	var mean time.Duration
	if len(b.latenciesMS) > 0 {
		var sum float64
		for _, ms := range b.latenciesMS {
			sum += ms
		}
		mean = time.Duration(sum/float64(len(b.latenciesMS))) * time.Millisecond
	}

	errs24h := int64(0)
	okCount := 0
	for _, o := range b.outcomes {
		if o.ok {
			okCount++
		} else {
			errs24h++
		}
	}
	uptime := 1.0
	if len(b.outcomes) > 0 {
		uptime = float64(okCount) / float64(len(b.outcomes))
	}

	return market.ProviderHealth{
		Name:        b.cfg.Name,
		Healthy:     b.initialized && now.After(b.cooldownUntil) && successRate >= 0.5,
		Uptime:      uptime,
		MeanLatency: mean,
		SuccessRate: successRate,
		LastCheck:   now,
		Errors24h:   errs24h,
	}
}

// Default fetch operations: adapters override the ones they support.

func (b *Base) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	return nil, Unsupported(b.cfg.Name, "fetch_price")
}

func (b *Base) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	return nil, Unsupported(b.cfg.Name, "fetch_ohlcv")
}

func (b *Base) FetchFundamentals(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	return nil, Unsupported(b.cfg.Name, "fetch_fundamentals")
}

func (b *Base) FetchNews(ctx context.Context, asset market.Asset, limit int) (*market.ProviderResponse, error) {
	return nil, Unsupported(b.cfg.Name, "fetch_news")
}

func (b *Base) FetchTechnical(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	return nil, Unsupported(b.cfg.Name, "fetch_technical")
}

// SetClock overrides the time source for deterministic tests.
func (b *Base) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func updateKey(asset market.Asset, dt market.DataType) string {
	return asset.Symbol + "|" + string(dt)
}
