package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"orderflow/internal/domain/model"
)

// ErrNotEvent marks frames that carry no market event, such as subscription
// acknowledgements.
var ErrNotEvent = errors.New("not a market event")

// Decode parses one Binance futures stream frame. Combined-stream frames
// ({"stream":..., "data":...}) are unwrapped first.
func Decode(data []byte) (model.Message, error) {
	if !gjson.ValidBytes(data) {
		return model.Message{}, fmt.Errorf("%w: invalid json", model.ErrMalformedMessage)
	}
	root := gjson.ParseBytes(data)
	if d := root.Get("data"); d.Exists() {
		root = d
	}

	switch root.Get("e").String() {
	case "aggTrade":
		return decodeTrade(root, "a")
	case "trade":
		return decodeTrade(root, "t")
	case "depthUpdate":
		return decodeDepth(root)
	case "forceOrder":
		return decodeForceOrder(root)
	default:
		return model.Message{}, ErrNotEvent
	}
}

func decodeTrade(r gjson.Result, idField string) (model.Message, error) {
	symbol := r.Get("s").String()
	id := r.Get(idField)
	if symbol == "" || !id.Exists() {
		return model.Message{}, fmt.Errorf("%w: trade without symbol or id", model.ErrMalformedMessage)
	}
	price, err := number(r.Get("p"))
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %s trade price: %v", model.ErrMalformedMessage, symbol, err)
	}
	qty, err := number(r.Get("q"))
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %s trade quantity: %v", model.ErrMalformedMessage, symbol, err)
	}

	side := model.Buy
	// buyer is the maker: the aggressor sold
	if r.Get("m").Bool() {
		side = model.Sell
	}
	return model.TradeMessage(model.TradeEvent{
		Symbol:   symbol,
		ID:       id.Int(),
		Time:     millis(r.Get("T")),
		Price:    price,
		Quantity: qty,
		Side:     side,
	}), nil
}

func decodeDepth(r gjson.Result) (model.Message, error) {
	symbol := r.Get("s").String()
	first, last := r.Get("U"), r.Get("u")
	if symbol == "" || !first.Exists() || !last.Exists() {
		return model.Message{}, fmt.Errorf("%w: depth update without symbol or ids", model.ErrMalformedMessage)
	}
	bids, err := Levels(r.Get("b"))
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %s bids: %v", model.ErrMalformedMessage, symbol, err)
	}
	asks, err := Levels(r.Get("a"))
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %s asks: %v", model.ErrMalformedMessage, symbol, err)
	}
	return model.DepthMessage(model.DepthDelta{
		Symbol:           symbol,
		FirstUpdateID:    first.Int(),
		LastUpdateID:     last.Int(),
		PrevLastUpdateID: r.Get("pu").Int(),
		EventTime:        millis(r.Get("E")),
		Bids:             bids,
		Asks:             asks,
	}), nil
}

// decodeForceOrder keeps the numeric fields textual; the liquidation
// classifier validates them.
func decodeForceOrder(r gjson.Result) (model.Message, error) {
	o := r.Get("o")
	if !o.IsObject() {
		return model.Message{}, fmt.Errorf("%w: force order without order object", model.ErrMalformedMessage)
	}
	tradeTime := o.Get("T").Int()
	if tradeTime == 0 {
		tradeTime = r.Get("E").Int()
	}
	return model.LiquidationMessage(model.ForceOrder{
		Symbol:    o.Get("s").String(),
		Side:      o.Get("S").String(),
		Price:     o.Get("p").String(),
		AvgPrice:  o.Get("ap").String(),
		Quantity:  o.Get("q").String(),
		TradeTime: tradeTime,
	}), nil
}

// Levels parses [["price","qty"], ...] pairs.
func Levels(r gjson.Result) ([]model.PriceLevel, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("levels are not an array")
	}
	rows := r.Array()
	out := make([]model.PriceLevel, 0, len(rows))
	for _, row := range rows {
		pair := row.Array()
		if len(pair) < 2 {
			return nil, fmt.Errorf("level %s is not a pair", row.Raw)
		}
		price, err := number(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(strings.TrimSpace(pair[1].String()))
		if err != nil || qty.IsNegative() {
			return nil, fmt.Errorf("bad quantity %q", pair[1].String())
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty.InexactFloat64()})
	}
	return out, nil
}

// number parses a positive decimal given either as a JSON string or number.
func number(r gjson.Result) (float64, error) {
	if !r.Exists() {
		return 0, fmt.Errorf("missing")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(r.String()))
	if err != nil {
		return 0, fmt.Errorf("bad number %q", r.String())
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("non-positive %s", d.String())
	}
	return d.InexactFloat64(), nil
}

func millis(r gjson.Result) time.Time {
	ms := r.Int()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
