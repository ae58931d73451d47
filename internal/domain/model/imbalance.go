package model

import "time"

// ImbalanceSample is the buy/sell balance over a sliding window. Ratio is in [-1, 1].
type ImbalanceSample struct {
	Symbol      string    `json:"symbol"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	BidVolume   float64   `json:"bid_volume"`
	AskVolume   float64   `json:"ask_volume"`
	Ratio       float64   `json:"ratio"`
}

// ImbalanceSignificance grades a per-price footprint imbalance.
type ImbalanceSignificance int

const (
	SignificanceLow ImbalanceSignificance = iota + 1
	SignificanceMedium
	SignificanceHigh
	SignificanceExtreme
)

func (s ImbalanceSignificance) String() string {
	switch s {
	case SignificanceLow:
		return "low"
	case SignificanceMedium:
		return "medium"
	case SignificanceHigh:
		return "high"
	case SignificanceExtreme:
		return "extreme"
	default:
		return "none"
	}
}

func (s ImbalanceSignificance) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ImbalanceLevel is a footprint cell whose buy/sell split is lopsided.
type ImbalanceLevel struct {
	Price        float64               `json:"price"`
	BuyVolume    float64               `json:"buy_volume"`
	SellVolume   float64               `json:"sell_volume"`
	Ratio        float64               `json:"ratio"`
	Significance ImbalanceSignificance `json:"significance"`
}

type LevelKind int

const (
	LevelPointOfControl LevelKind = iota + 1
	LevelVolumeCluster
	LevelVolumeGap
)

func (k LevelKind) String() string {
	switch k {
	case LevelPointOfControl:
		return "poc"
	case LevelVolumeCluster:
		return "volume_cluster"
	case LevelVolumeGap:
		return "volume_gap"
	default:
		return "unknown"
	}
}

func (k LevelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// SignificantLevel marks a notable price inside one footprint candle.
type SignificantLevel struct {
	Price    float64   `json:"price"`
	Kind     LevelKind `json:"kind"`
	Strength float64   `json:"strength"`
	Volume   float64   `json:"volume"`
}

// ImbalanceHistory holds the most recent emitted samples of a symbol, newest
// first. Average is the mean ratio of samples since Since, nil when none.
type ImbalanceHistory struct {
	Symbol  string            `json:"symbol"`
	Samples []ImbalanceSample `json:"samples"`
	Since   time.Time         `json:"since"`
	Average *float64          `json:"average"`
}
