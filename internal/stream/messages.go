package stream

import (
	"time"
)

// StreamType is the shape of a subscription's outgoing updates.
type StreamType string

const (
	StreamPrice      StreamType = "price"
	StreamOHLCV      StreamType = "ohlcv"
	StreamQuote      StreamType = "quote"
	StreamTrades     StreamType = "trades"
	StreamMultiAsset StreamType = "multi_asset"
)

// Valid reports whether st is a known stream type.
func (st StreamType) Valid() bool {
	switch st {
	case StreamPrice, StreamOHLCV, StreamQuote, StreamTrades, StreamMultiAsset:
		return true
	}
	return false
}

// Message type discriminators on the wire.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"

	msgSubscriptionAck = "subscription_ack"
	msgData            = "data"
	msgHeartbeat       = "heartbeat"
	msgError           = "error"
)

// Error codes sent to clients. The connection stays open after any of
// these.
const (
	codeInvalidJSON        = "INVALID_JSON"
	codeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	codeInvalidStreamType  = "INVALID_STREAM_TYPE"
	codeInvalidSymbols     = "INVALID_SYMBOLS"
	codeSymbolLimit        = "SYMBOL_LIMIT_EXCEEDED"
)

// ClientMessage is every inbound frame: subscribe or unsubscribe.
type ClientMessage struct {
	Type       string         `json:"type"`
	StreamType StreamType     `json:"stream_type"`
	Symbols    []string       `json:"symbols,omitempty"`
	AssetKind  string         `json:"asset_kind,omitempty"`
	Market     string         `json:"market,omitempty"`
	IntervalMS int            `json:"interval_ms,omitempty"`
	DataType   string         `json:"data_type,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// AckMessage confirms a new subscription.
type AckMessage struct {
	Type           string     `json:"type"`
	StreamType     StreamType `json:"stream_type"`
	Symbols        []string   `json:"symbols"`
	SubscriptionID string     `json:"subscription_id"`
	IntervalMS     int        `json:"interval_ms"`
	Timestamp      time.Time  `json:"timestamp"`
}

// DataMessage batches one tick's updates for a subscription.
type DataMessage struct {
	Type           string     `json:"type"`
	StreamType     StreamType `json:"stream_type"`
	SubscriptionID string     `json:"subscription_id"`
	Data           []any      `json:"data"`
	Timestamp      time.Time  `json:"timestamp"`
}

// HeartbeatMessage is emitted every heartbeat interval per connection.
type HeartbeatMessage struct {
	Type                string    `json:"type"`
	Timestamp           time.Time `json:"timestamp"`
	ActiveSubscriptions int       `json:"active_subscriptions"`
}

// ErrorMessage reports a client-visible failure.
type ErrorMessage struct {
	Type      string    `json:"type"`
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceUpdate is one symbol's price tick.
type PriceUpdate struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        *float64  `json:"volume,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Provider      string    `json:"provider"`
	Confidence    float64   `json:"confidence"`
}

// OHLCVUpdate is one symbol's latest candle.
type OHLCVUpdate struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	IsClosed  bool      `json:"is_closed"`
}

// QuoteUpdate is one symbol's top-of-book view.
type QuoteUpdate struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   *float64  `json:"bid_size,omitempty"`
	AskSize   *float64  `json:"ask_size,omitempty"`
	Spread    float64   `json:"spread"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeUpdate is one observed trade.
type TradeUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
	TradeID   string    `json:"trade_id,omitempty"`
	Side      string    `json:"side,omitempty"`
}
