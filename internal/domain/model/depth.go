package model

import "time"

type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// DepthDelta is one incremental book update. Quantity 0 removes the level,
// anything else is the new absolute quantity. PrevLastUpdateID is the previous
// event's last id when the feed provides it, zero otherwise.
type DepthDelta struct {
	Symbol           string       `json:"symbol"`
	FirstUpdateID    int64        `json:"first_update_id"`
	LastUpdateID     int64        `json:"last_update_id"`
	PrevLastUpdateID int64        `json:"prev_last_update_id,omitempty"`
	EventTime        time.Time    `json:"event_time"`
	Bids             []PriceLevel `json:"bids"`
	Asks             []PriceLevel `json:"asks"`
}

// DepthSnapshot is a full book fetched out of band to bootstrap or resync a symbol.
type DepthSnapshot struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BookSnapshot is the read-only top-of-book view handed to consumers.
type BookSnapshot struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"last_update_id"`
	Time         time.Time    `json:"time"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Status       StatusKind   `json:"status"`
}

func (s BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

func (s BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}
