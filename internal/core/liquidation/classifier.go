package liquidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderflow/internal/domain/model"
)

// Normalize converts a raw forced order into a LiquidationEvent. The order
// price is used; the average fill price is the fallback when the order price
// is missing or zero.
func Normalize(raw model.ForceOrder) (model.LiquidationEvent, error) {
	if raw.Symbol == "" {
		return model.LiquidationEvent{}, fmt.Errorf("%w: force order without symbol", model.ErrMalformedMessage)
	}
	var side model.Side
	if err := side.UnmarshalText([]byte(strings.TrimSpace(raw.Side))); err != nil {
		return model.LiquidationEvent{}, fmt.Errorf("%w: %s side %q", model.ErrMalformedMessage, raw.Symbol, raw.Side)
	}

	price, err := positive(raw.Price)
	if err != nil {
		price, err = positive(raw.AvgPrice)
	}
	if err != nil {
		return model.LiquidationEvent{}, fmt.Errorf("%w: %s price %q/%q", model.ErrMalformedMessage, raw.Symbol, raw.Price, raw.AvgPrice)
	}
	qty, err := positive(raw.Quantity)
	if err != nil {
		return model.LiquidationEvent{}, fmt.Errorf("%w: %s quantity %q", model.ErrMalformedMessage, raw.Symbol, raw.Quantity)
	}
	if raw.TradeTime <= 0 {
		return model.LiquidationEvent{}, fmt.Errorf("%w: %s trade time %d", model.ErrMalformedMessage, raw.Symbol, raw.TradeTime)
	}

	return model.LiquidationEvent{
		ID:       uuid.New(),
		Symbol:   raw.Symbol,
		Time:     time.UnixMilli(raw.TradeTime).UTC(),
		Side:     side,
		Price:    price.InexactFloat64(),
		Quantity: qty.InexactFloat64(),
		Notional: price.Mul(qty).InexactFloat64(),
		Forced:   true,
	}, nil
}

func positive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive %s", s)
	}
	return d, nil
}
