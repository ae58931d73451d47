package model

// VPVRProfile is volume-at-price over a candle range.
type VPVRProfile struct {
	Symbol      string             `json:"symbol"`
	PriceScale  float64            `json:"price_scale"`
	Levels      []PriceLevelVolume `json:"levels"`
	POC         float64            `json:"poc"`
	VAH         float64            `json:"vah"`
	VAL         float64            `json:"val"`
	TotalVolume float64            `json:"total_volume"`
	BuyVolume   float64            `json:"buy_volume"`
	SellVolume  float64            `json:"sell_volume"`
	Candles     int                `json:"candles"`
}

// ValueAreaVolume sums the level volume inside [VAL, VAH].
func (p *VPVRProfile) ValueAreaVolume() float64 {
	var sum float64
	for _, l := range p.Levels {
		if l.Price >= p.VAL && l.Price <= p.VAH {
			sum += l.Total()
		}
	}
	return sum
}
