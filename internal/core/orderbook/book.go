package orderbook

import (
	"github.com/tidwall/btree"

	"orderflow/internal/domain/model"
)

// book holds the price levels of one symbol. Bids and asks are both keyed by
// price ascending; bids are read with Reverse.
type book struct {
	bids *btree.Map[float64, float64]
	asks *btree.Map[float64, float64]
}

func newBook() *book {
	return &book{
		bids: btree.NewMap[float64, float64](32),
		asks: btree.NewMap[float64, float64](32),
	}
}

func (b *book) reset(bids, asks []model.PriceLevel) {
	b.bids = btree.NewMap[float64, float64](32)
	b.asks = btree.NewMap[float64, float64](32)
	setLevels(b.bids, bids, nil)
	setLevels(b.asks, asks, nil)
}

// apply upserts the delta levels and then removes any stale crossing levels.
// It returns the number of levels pruned while uncrossing.
func (b *book) apply(bids, asks []model.PriceLevel) int {
	touchedBids := make(map[float64]struct{}, len(bids))
	touchedAsks := make(map[float64]struct{}, len(asks))
	setLevels(b.bids, bids, touchedBids)
	setLevels(b.asks, asks, touchedAsks)
	return b.uncross(touchedBids, touchedAsks)
}

func setLevels(side *btree.Map[float64, float64], levels []model.PriceLevel, touched map[float64]struct{}) {
	for _, lvl := range levels {
		if lvl.Quantity == 0 {
			side.Delete(lvl.Price)
		} else {
			side.Set(lvl.Price, lvl.Quantity)
		}
		if touched != nil {
			touched[lvl.Price] = struct{}{}
		}
	}
}

// uncross drops levels that the latest delta left crossing. The side the delta
// did not touch holds the stale level; if both were touched the bid goes.
func (b *book) uncross(touchedBids, touchedAsks map[float64]struct{}) int {
	pruned := 0
	for {
		bid, _, okBid := b.bids.Max()
		ask, _, okAsk := b.asks.Min()
		if !okBid || !okAsk || bid < ask {
			return pruned
		}
		_, bidFresh := touchedBids[bid]
		_, askFresh := touchedAsks[ask]
		if bidFresh && !askFresh {
			b.asks.Delete(ask)
		} else {
			b.bids.Delete(bid)
		}
		pruned++
	}
}

func (b *book) crossed() bool {
	bid, _, okBid := b.bids.Max()
	ask, _, okAsk := b.asks.Min()
	return okBid && okAsk && bid >= ask
}

func (b *book) top(n int) (bids, asks []model.PriceLevel) {
	if n <= 0 {
		n = b.bids.Len() + b.asks.Len()
	}
	bids = make([]model.PriceLevel, 0, min(n, b.bids.Len()))
	b.bids.Reverse(func(price, qty float64) bool {
		bids = append(bids, model.PriceLevel{Price: price, Quantity: qty})
		return len(bids) < n
	})
	asks = make([]model.PriceLevel, 0, min(n, b.asks.Len()))
	b.asks.Scan(func(price, qty float64) bool {
		asks = append(asks, model.PriceLevel{Price: price, Quantity: qty})
		return len(asks) < n
	})
	return bids, asks
}

func (b *book) depth() (bidLevels, askLevels int) {
	return b.bids.Len(), b.asks.Len()
}
