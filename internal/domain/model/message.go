package model

// MessageKind tags the payload carried by a Message.
type MessageKind int

const (
	KindTrade MessageKind = iota + 1
	KindDepth
	KindLiquidation
	KindBookSnapshot
	KindPriceScale
	KindRestore
)

func (k MessageKind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindDepth:
		return "depth"
	case KindLiquidation:
		return "liquidation"
	case KindBookSnapshot:
		return "book_snapshot"
	case KindPriceScale:
		return "price_scale"
	case KindRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// Message is the ingestion envelope. Exactly one payload is set, matching Kind.
type Message struct {
	Kind        MessageKind
	Source      string
	Trade       TradeEvent
	Depth       DepthDelta
	Liquidation ForceOrder
	Snapshot    DepthSnapshot
	Control     Control
}

// Control is an engine command addressed to one symbol. PriceScale is set
// for KindPriceScale, Candle (the last stored base candle) for KindRestore.
// Reply, when not nil, receives the result once; it must be buffered.
type Control struct {
	Symbol     string
	PriceScale float64
	Candle     FootprintCandle
	Reply      chan<- error
}

func (m Message) Symbol() string {
	switch m.Kind {
	case KindTrade:
		return m.Trade.Symbol
	case KindDepth:
		return m.Depth.Symbol
	case KindLiquidation:
		return m.Liquidation.Symbol
	case KindBookSnapshot:
		return m.Snapshot.Symbol
	case KindPriceScale, KindRestore:
		return m.Control.Symbol
	default:
		return ""
	}
}

func TradeMessage(t TradeEvent) Message {
	return Message{Kind: KindTrade, Trade: t}
}

func DepthMessage(d DepthDelta) Message {
	return Message{Kind: KindDepth, Depth: d}
}

func LiquidationMessage(f ForceOrder) Message {
	return Message{Kind: KindLiquidation, Liquidation: f}
}

func SnapshotMessage(s DepthSnapshot) Message {
	return Message{Kind: KindBookSnapshot, Snapshot: s}
}
