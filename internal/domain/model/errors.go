package model

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap       = errors.New("sequence gap")
	ErrStaleBaseline     = errors.New("stale baseline")
	ErrInvalidPriceScale = errors.New("invalid price scale")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
	ErrChannelFull       = errors.New("channel full")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrEmptyProfile      = errors.New("empty profile")
	ErrUnknownSymbol     = errors.New("unknown symbol")
)

// SequenceGapError reports an order-book discontinuity.
type SequenceGapError struct {
	Symbol   string
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("%s: expected first update id %d, got %d", e.Symbol, e.Expected, e.Got)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}
