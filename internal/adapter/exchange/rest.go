package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"orderflow/internal/domain/model"
)

// RESTClient serves 24h statistics and depth snapshots from the futures REST API.
type RESTClient struct {
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &fasthttp.Client{Name: "orderflow"},
		timeout: timeout,
	}
}

func (c *RESTClient) Get24hStats(ctx context.Context, symbol string) (model.DailyStats, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", map[string]string{"symbol": symbol})
	if err != nil {
		return model.DailyStats{}, err
	}
	r := gjson.ParseBytes(body)
	notional, err := strconv.ParseFloat(r.Get("quoteVolume").String(), 64)
	if err != nil {
		return model.DailyStats{}, fmt.Errorf("%w: %s quoteVolume %q", model.ErrMalformedMessage, symbol, r.Get("quoteVolume").String())
	}
	return model.DailyStats{
		Symbol:     r.Get("symbol").String(),
		Volume:     r.Get("volume").Float(),
		Notional:   notional,
		TradeCount: r.Get("count").Int(),
	}, nil
}

func (c *RESTClient) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (model.DepthSnapshot, error) {
	body, err := c.get(ctx, "/fapi/v1/depth", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return model.DepthSnapshot{}, err
	}
	return ParseDepthSnapshot(symbol, body)
}

// ParseDepthSnapshot decodes a REST depth response.
func ParseDepthSnapshot(symbol string, body []byte) (model.DepthSnapshot, error) {
	r := gjson.ParseBytes(body)
	id := r.Get("lastUpdateId")
	if !id.Exists() {
		return model.DepthSnapshot{}, fmt.Errorf("%w: %s depth without lastUpdateId", model.ErrMalformedMessage, symbol)
	}
	bids, err := Levels(r.Get("bids"))
	if err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("%w: %s bids: %v", model.ErrMalformedMessage, symbol, err)
	}
	asks, err := Levels(r.Get("asks"))
	if err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("%w: %s asks: %v", model.ErrMalformedMessage, symbol, err)
	}
	return model.DepthSnapshot{
		Symbol:       symbol,
		LastUpdateID: id.Int(),
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func (c *RESTClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	args := req.URI().QueryArgs()
	for k, v := range query {
		args.Set(k, v)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", path, code, gjson.GetBytes(resp.Body(), "msg").String())
	}
	// the response is released on return
	return append([]byte(nil), resp.Body()...), nil
}
