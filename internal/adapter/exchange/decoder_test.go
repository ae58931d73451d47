package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/domain/model"
)

func TestDecodeAggTrade(t *testing.T) {
	frame := `{"e":"aggTrade","E":1772452800100,"s":"BTCUSDT","a":5933014,"p":"64250.10","q":"0.250","f":100,"l":105,"T":1772452800099,"m":true}`

	msg, err := Decode([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, model.KindTrade, msg.Kind)

	tr := msg.Trade
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, int64(5933014), tr.ID)
	assert.Equal(t, 64250.10, tr.Price)
	assert.Equal(t, 0.25, tr.Quantity)
	assert.Equal(t, model.Sell, tr.Side, "buyer maker means the seller was the aggressor")
	assert.Equal(t, time.UnixMilli(1772452800099).UTC(), tr.Time)
}

func TestDecodeCombinedStream(t *testing.T) {
	frame := `{"stream":"ethusdt@aggTrade","data":{"e":"aggTrade","s":"ETHUSDT","a":1,"p":"3100","q":"2","T":1772452800000,"m":false}}`

	msg, err := Decode([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", msg.Symbol())
	assert.Equal(t, model.Buy, msg.Trade.Side)
}

func TestDecodeDepthUpdate(t *testing.T) {
	frame := `{"e":"depthUpdate","E":1772452800200,"T":1772452800199,"s":"BTCUSDT","U":157,"u":160,"pu":149,
		"b":[["64250.00","1.5"],["64249.90","0"]],"a":[["64250.10","2.0"]]}`

	msg, err := Decode([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, model.KindDepth, msg.Kind)

	d := msg.Depth
	assert.Equal(t, int64(157), d.FirstUpdateID)
	assert.Equal(t, int64(160), d.LastUpdateID)
	assert.Equal(t, int64(149), d.PrevLastUpdateID)
	assert.Equal(t, []model.PriceLevel{{Price: 64250, Quantity: 1.5}, {Price: 64249.9, Quantity: 0}}, d.Bids)
	assert.Equal(t, []model.PriceLevel{{Price: 64250.1, Quantity: 2}}, d.Asks)
}

func TestDecodeForceOrder(t *testing.T) {
	frame := `{"e":"forceOrder","E":1772452800300,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","f":"IOC",
		"q":"0.014","p":"64100.5","ap":"64120.1","X":"FILLED","l":"0.014","z":"0.014","T":1772452800298}}`

	msg, err := Decode([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, model.KindLiquidation, msg.Kind)
	assert.Equal(t, model.ForceOrder{
		Symbol:    "BTCUSDT",
		Side:      "SELL",
		Price:     "64100.5",
		AvgPrice:  "64120.1",
		Quantity:  "0.014",
		TradeTime: 1772452800298,
	}, msg.Liquidation)
}

func TestDecodeSkipsAcknowledgements(t *testing.T) {
	_, err := Decode([]byte(`{"result":null,"id":1}`))
	assert.ErrorIs(t, err, ErrNotEvent)

	_, err = Decode([]byte(`{"e":"markPriceUpdate","s":"BTCUSDT"}`))
	assert.ErrorIs(t, err, ErrNotEvent)
}

func TestDecodeMalformed(t *testing.T) {
	frames := []string{
		`{"e":"aggTrade","s":"BTCUSDT"`,
		`{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"abc","q":"1"}`,
		`{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"-5","q":"1"}`,
		`{"e":"aggTrade","a":1,"p":"5","q":"1"}`,
		`{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["1"]]}`,
		`{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"a":"nope"}`,
		`{"e":"forceOrder","o":"nope"}`,
	}
	for _, f := range frames {
		_, err := Decode([]byte(f))
		assert.ErrorIs(t, err, model.ErrMalformedMessage, f)
	}
}

func TestParseCSVTrade(t *testing.T) {
	tr, err := ParseCSVTrade("btcusdt, 42, 64000.5, 0.1, BUY, 1772452800000")
	require.NoError(t, err)
	assert.Equal(t, model.TradeEvent{
		Symbol:   "BTCUSDT",
		ID:       42,
		Time:     time.UnixMilli(1772452800000).UTC(),
		Price:    64000.5,
		Quantity: 0.1,
		Side:     model.Buy,
	}, tr)

	_, err = ParseCSVTrade("BTCUSDT,42,64000.5")
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
	_, err = ParseCSVTrade("BTCUSDT,42,64000.5,0.1,HOLD")
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestParseDepthSnapshot(t *testing.T) {
	body := `{"lastUpdateId":1027024,"E":1589436922972,"T":1589436922959,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`
	snap, err := ParseDepthSnapshot("BTCUSDT", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, int64(1027024), snap.LastUpdateID)
	assert.Equal(t, []model.PriceLevel{{Price: 4, Quantity: 431}}, snap.Bids)
	assert.Equal(t, []model.PriceLevel{{Price: 4.000002, Quantity: 12}}, snap.Asks)

	_, err = ParseDepthSnapshot("BTCUSDT", []byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestStreamNames(t *testing.T) {
	names := StreamNames([]string{"BTCUSDT", "ethusdt"}, BinanceOptions{Trades: true, Depth: true, DepthSpeed: "100ms", Liquidations: true})
	assert.Equal(t, []string{
		"btcusdt@aggTrade", "btcusdt@depth@100ms",
		"ethusdt@aggTrade", "ethusdt@depth@100ms",
		"!forceOrder@arr",
	}, names)
}
