package model

import "time"

// Side is the aggressor side of a trade or the order side of a forced order.
type Side int

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY", "buy":
		*s = Buy
	case "SELL", "sell":
		*s = Sell
	default:
		return ErrMalformedMessage
	}
	return nil
}

// TradeEvent is a single trade print. ID is the exchange trade id used for
// dedup; it is only comparable between trades of the same Source.
type TradeEvent struct {
	Symbol   string    `json:"symbol"`
	ID       int64     `json:"id"`
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Side     Side      `json:"side"`
	Source   string    `json:"source,omitempty"`
}

func (t TradeEvent) Notional() float64 {
	return t.Price * t.Quantity
}
