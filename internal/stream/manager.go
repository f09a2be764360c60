package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/telemetry"
)

const defaultHeartbeat = 30 * time.Second

// Manager is the process-wide subscription manager: it accepts websocket
// connections, tracks per-connection subscription sets plus a reverse
// symbol index, and drives the poll loops that feed clients through the
// arbitration engine.
type Manager struct {
	engine  *arbiter.Engine
	metrics *telemetry.Metrics

	mu          sync.Mutex
	conns       map[string]*Conn
	symbolIndex map[string]map[string]struct{}

	heartbeatEvery      time.Duration
	maxStalenessSeconds float64
	upgrader            websocket.Upgrader
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHeartbeatInterval overrides the 30s heartbeat cadence (tests).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeatEvery = d }
}

// NewManager builds the subscription manager over the engine.
func NewManager(engine *arbiter.Engine, metrics *telemetry.Metrics, opts ...Option) *Manager {
	if metrics == nil {
		metrics = telemetry.NewNop()
	}
	m := &Manager{
		engine:              engine,
		metrics:             metrics,
		conns:               make(map[string]*Conn),
		symbolIndex:         make(map[string]map[string]struct{}),
		heartbeatEvery:      defaultHeartbeat,
		maxStalenessSeconds: 300,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The engine fronts its own auth layer; origin checks
			// happen there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServeHTTP upgrades the request and serves the connection until the
// client goes away.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	m.Serve(r.Context(), ws)
}

// Serve runs one accepted websocket connection to completion.
func (m *Manager) Serve(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ctx, uuid.NewString(), ws)

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
	m.metrics.ActiveConns.Inc()

	log.Info().Str("conn", c.id).Msg("Client connected")

	go c.writePump()
	go m.heartbeatLoop(c)

	m.readLoop(c)
	m.disconnect(c)
}

// readLoop parses inbound frames until the socket closes. Malformed
// frames produce error messages; the connection stays open.
func (m *Manager) readLoop(c *Conn) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			m.sendError(c, codeInvalidJSON, "message is not valid JSON", nil)
			continue
		}

		switch msg.Type {
		case msgSubscribe:
			m.subscribe(c, msg)
		case msgUnsubscribe:
			m.unsubscribe(c, msg)
		default:
			m.sendError(c, codeInvalidMessageType, "unknown message type: "+msg.Type, nil)
		}
	}
}

// subscribe validates the request and either starts a new poll loop or
// widens the connection's existing subscription for that stream type.
func (m *Manager) subscribe(c *Conn, msg ClientMessage) {
	if !msg.StreamType.Valid() {
		m.sendError(c, codeInvalidStreamType, "unknown stream type: "+string(msg.StreamType), nil)
		return
	}

	symbols := normalizeSymbols(msg.Symbols)
	if len(symbols) == 0 {
		m.sendError(c, codeInvalidSymbols, "at least one symbol is required", nil)
		return
	}
	if len(symbols) > maxSymbols {
		m.sendError(c, codeSymbolLimit, "subscription exceeds symbol limit", map[string]any{
			"limit": maxSymbols, "requested": len(symbols),
		})
		return
	}

	dt := dataTypeFor(msg.StreamType, msg.DataType)
	if !dt.Valid() || !dt.Fetchable() {
		m.sendError(c, codeInvalidMessageType, "data type cannot be streamed: "+string(dt), nil)
		return
	}

	kind := market.AssetKind(msg.AssetKind)
	if kind == "" {
		kind = market.KindEquity
	}
	if !kind.Valid() {
		m.sendError(c, codeInvalidSymbols, "unknown asset kind: "+msg.AssetKind, nil)
		return
	}
	mkt := market.Market(msg.Market)
	if mkt == "" {
		if kind == market.KindCrypto {
			mkt = market.MarketCrypto
		} else {
			mkt = market.MarketUS
		}
	}

	m.mu.Lock()
	// One subscription per stream type per connection: repeat requests
	// widen the symbol set instead of spawning a second loop.
	if existing := findByStreamType(c.subs, msg.StreamType); existing != nil {
		merged := mergeSymbols(existing.Symbols, symbols)
		if len(merged) > maxSymbols {
			m.mu.Unlock()
			m.sendError(c, codeSymbolLimit, "subscription exceeds symbol limit", map[string]any{
				"limit": maxSymbols, "requested": len(merged),
			})
			return
		}
		existing.Symbols = merged
		for _, sym := range symbols {
			m.indexSymbolLocked(sym, existing.ID)
		}
		if msg.IntervalMS != 0 && clampInterval(msg.IntervalMS) != existing.Interval {
			log.Info().
				Str("conn", c.id).
				Str("subscription", existing.ID).
				Int("requested_ms", msg.IntervalMS).
				Dur("interval", existing.Interval).
				Msg("Repeat subscribe keeps the existing interval")
		}
		ack := m.ackLocked(existing)
		m.mu.Unlock()
		c.enqueueJSON(ack)
		m.metrics.StreamMessages.WithLabelValues(msgSubscriptionAck).Inc()
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	sub := &Subscription{
		ID:         uuid.NewString(),
		StreamType: msg.StreamType,
		Symbols:    symbols,
		Kind:       kind,
		Market:     mkt,
		DataType:   dt,
		Interval:   clampInterval(msg.IntervalMS),
		Params:     msg.Params,
		CreatedAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.subs[sub.ID] = sub
	for _, sym := range symbols {
		m.indexSymbolLocked(sym, sub.ID)
	}
	ack := m.ackLocked(sub)
	m.mu.Unlock()

	m.metrics.ActiveSubs.Inc()
	c.enqueueJSON(ack)
	m.metrics.StreamMessages.WithLabelValues(msgSubscriptionAck).Inc()

	go m.runStream(ctx, c, sub)

	log.Info().
		Str("conn", c.id).
		Str("subscription", sub.ID).
		Str("stream_type", string(sub.StreamType)).
		Strs("symbols", symbols).
		Dur("interval", sub.Interval).
		Msg("Subscription started")
}

// unsubscribe narrows or cancels subscriptions. With no symbols, every
// subscription matching the stream type is destroyed; otherwise each
// matching subscription's symbol set shrinks, and empty means cancel.
func (m *Manager) unsubscribe(c *Conn, msg ClientMessage) {
	symbols := normalizeSymbols(msg.Symbols)

	var stopped []*Subscription
	m.mu.Lock()
	for id, sub := range c.subs {
		if sub.StreamType != msg.StreamType {
			continue
		}
		if len(symbols) == 0 {
			m.dropSubLocked(c, id, sub)
			stopped = append(stopped, sub)
			continue
		}
		for _, sym := range symbols {
			m.unindexSymbolLocked(sym, sub.ID)
		}
		if sub.removeSymbols(symbols) == 0 {
			m.dropSubLocked(c, id, sub)
			stopped = append(stopped, sub)
		}
	}
	m.mu.Unlock()

	// Stop outside the lock: stop waits for the poll loop to exit and
	// a mid-tick loop may be waiting on the same lock.
	for _, sub := range stopped {
		sub.stop()
		m.metrics.ActiveSubs.Dec()
		log.Info().Str("conn", c.id).Str("subscription", sub.ID).Msg("Subscription cancelled")
	}
}

// disconnect releases everything the connection owns.
func (m *Manager) disconnect(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	var subs []*Subscription
	for id, sub := range c.subs {
		m.dropSubLocked(c, id, sub)
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	c.cancel()
	for _, sub := range subs {
		sub.stop()
		m.metrics.ActiveSubs.Dec()
	}
	m.metrics.ActiveConns.Dec()
	log.Info().Str("conn", c.id).Msg("Client disconnected")
}

// runStream is one subscription's poll loop. It ticks immediately, then
// every interval until cancelled; a tick never overlaps the next because
// the loop body runs to completion before the ticker is consulted again.
// Errors inside one tick are logged and swallowed.
func (m *Manager) runStream(ctx context.Context, c *Conn, sub *Subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(sub.Interval)
	defer ticker.Stop()

	m.tick(ctx, c, sub)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, c, sub)
		}
	}
}

func (m *Manager) tick(ctx context.Context, c *Conn, sub *Subscription) {
	m.mu.Lock()
	symbols := make([]string, len(sub.Symbols))
	copy(symbols, sub.Symbols)
	m.mu.Unlock()

	opts := fetchOptions(sub.Params)
	updates := make([]any, 0, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		asset, err := market.NewAsset(sym, sub.Kind, sub.Market)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("Skipping unbuildable asset")
			continue
		}
		resp, err := m.engine.Fetch(ctx, asset, sub.DataType, string(sub.Market), m.maxStalenessSeconds, opts)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Str("subscription", sub.ID).
				Msg("Tick fetch failed")
			continue
		}
		if update := project(sub.StreamType, sym, resp); update != nil {
			updates = append(updates, update)
		}
	}
	if len(updates) == 0 {
		return
	}

	msg := DataMessage{
		Type:           msgData,
		StreamType:     sub.StreamType,
		SubscriptionID: sub.ID,
		Data:           updates,
		Timestamp:      time.Now(),
	}
	if !c.enqueueJSON(msg) {
		// Client not draining: drop this tick's batch rather than queue.
		m.metrics.DroppedTicks.Inc()
		return
	}
	m.metrics.StreamMessages.WithLabelValues(msgData).Inc()

	m.mu.Lock()
	sub.LastUpdate = msg.Timestamp
	m.mu.Unlock()
}

// heartbeatLoop emits the per-connection heartbeat with the live
// subscription count.
func (m *Manager) heartbeatLoop(c *Conn) {
	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			count := len(c.subs)
			m.mu.Unlock()

			c.enqueueJSON(HeartbeatMessage{
				Type:                msgHeartbeat,
				Timestamp:           time.Now(),
				ActiveSubscriptions: count,
			})
			m.metrics.StreamMessages.WithLabelValues(msgHeartbeat).Inc()
		}
	}
}

// SubscribersOf reports how many live subscriptions reference a symbol.
// Introspection only; routing never consults the index.
func (m *Manager) SubscribersOf(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.symbolIndex[strings.ToUpper(symbol)])
}

func (m *Manager) sendError(c *Conn, code, message string, details any) {
	c.enqueueJSON(ErrorMessage{
		Type:      msgError,
		ErrorCode: code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	})
	m.metrics.StreamMessages.WithLabelValues(msgError).Inc()
}

func (m *Manager) ackLocked(sub *Subscription) AckMessage {
	symbols := make([]string, len(sub.Symbols))
	copy(symbols, sub.Symbols)
	return AckMessage{
		Type:           msgSubscriptionAck,
		StreamType:     sub.StreamType,
		Symbols:        symbols,
		SubscriptionID: sub.ID,
		IntervalMS:     int(sub.Interval / time.Millisecond),
		Timestamp:      time.Now(),
	}
}

func (m *Manager) indexSymbolLocked(symbol, subID string) {
	set, ok := m.symbolIndex[symbol]
	if !ok {
		set = make(map[string]struct{})
		m.symbolIndex[symbol] = set
	}
	set[subID] = struct{}{}
}

func (m *Manager) unindexSymbolLocked(symbol, subID string) {
	set, ok := m.symbolIndex[symbol]
	if !ok {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(m.symbolIndex, symbol)
	}
}

func (m *Manager) dropSubLocked(c *Conn, id string, sub *Subscription) {
	for _, sym := range sub.Symbols {
		m.unindexSymbolLocked(sym, sub.ID)
	}
	delete(c.subs, id)
}

func findByStreamType(subs map[string]*Subscription, st StreamType) *Subscription {
	for _, sub := range subs {
		if sub.StreamType == st {
			return sub
		}
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func mergeSymbols(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(extra))
	for _, s := range existing {
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func fetchOptions(params map[string]any) arbiter.FetchOptions {
	opts := arbiter.FetchOptions{}
	if params == nil {
		return opts
	}
	if tf, ok := params["timeframe"].(string); ok {
		opts.Timeframe = tf
	}
	switch v := params["limit"].(type) {
	case float64:
		opts.Limit = int(v)
	case int:
		opts.Limit = v
	}
	return opts
}
