// Package llama fetches protocol, chain config, chain chart and market cap
// payloads from the upstream TVL and price APIs.
package llama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/web3-frozen/chain-tvl/internal/metrics"
	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

const (
	requestTimeout = 30 * time.Second
	retryCount     = 2
)

// Endpoints are the upstream URLs. ChartAPI is a prefix; the chain name is
// appended as a path segment.
type Endpoints struct {
	ProtocolsAPI string
	ConfigAPI    string
	ChartAPI     string
	CoingeckoAPI string
}

// Client talks to the upstream APIs.
type Client struct {
	http      *resty.Client
	endpoints Endpoints
	workers   int
	logger    *slog.Logger
}

func NewClient(endpoints Endpoints, workers int, logger *slog.Logger) *Client {
	if workers <= 0 {
		workers = 1
	}
	return &Client{
		http: resty.New().
			SetTimeout(requestTimeout).
			SetRetryCount(retryCount).
			SetHeader("Accept", "application/json"),
		endpoints: endpoints,
		workers:   workers,
		logger:    logger,
	}
}

// ProtocolsResponse is the protocols endpoint payload. Missing fields decode
// to nil so the rollup can tell them apart from empty lists.
type ProtocolsResponse struct {
	Protocols []rollup.ProtocolRecord `json:"protocols"`
	Chains    []string                `json:"chains"`
}

// ChainIDs is the coingecko identity of a chain.
type ChainIDs struct {
	GeckoID string `json:"geckoId"`
	Symbol  string `json:"symbol"`
}

type configResponse struct {
	ChainCoingeckoIDs map[string]ChainIDs `json:"chainCoingeckoIds"`
}

// chartPoint accepts the date as either a JSON number or a numeric string.
type chartPoint struct {
	Date              json.Number `json:"date"`
	TotalLiquidityUSD float64     `json:"totalLiquidityUSD"`
}

type marketCap struct {
	USDMarketCap float64 `json:"usd_market_cap"`
}

func (c *Client) Protocols(ctx context.Context) (*ProtocolsResponse, error) {
	var out ProtocolsResponse
	if err := c.getJSON(ctx, "protocols", c.endpoints.ProtocolsAPI, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChainConfig returns chain name → coingecko ids.
func (c *Client) ChainConfig(ctx context.Context) (map[string]ChainIDs, error) {
	var out configResponse
	if err := c.getJSON(ctx, "config", c.endpoints.ConfigAPI, nil, &out); err != nil {
		return nil, err
	}
	return out.ChainCoingeckoIDs, nil
}

// ChainChart returns a chain's daily TVL history, ascending by date.
func (c *Client) ChainChart(ctx context.Context, chain string) ([]rollup.ChainSeriesPoint, error) {
	u := strings.TrimSuffix(c.endpoints.ChartAPI, "/") + "/" + url.PathEscape(chain)

	var raw []chartPoint
	if err := c.getJSON(ctx, "chart", u, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]rollup.ChainSeriesPoint, 0, len(raw))
	for _, p := range raw {
		date, err := strconv.ParseInt(p.Date.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chart %s: bad date %q: %w", chain, p.Date, err)
		}
		out = append(out, rollup.ChainSeriesPoint{Date: date, TotalLiquidityUSD: p.TotalLiquidityUSD})
	}
	return out, nil
}

// MarketCaps returns coingecko id → USD market cap. Ids without a market cap
// are absent from the result.
func (c *Client) MarketCaps(ctx context.Context, geckoIDs []string) (map[string]float64, error) {
	if len(geckoIDs) == 0 {
		return map[string]float64{}, nil
	}
	params := map[string]string{
		"ids":                strings.Join(geckoIDs, ","),
		"vs_currencies":      "usd",
		"include_market_cap": "true",
	}

	var raw map[string]marketCap
	if err := c.getJSON(ctx, "market_caps", c.endpoints.CoingeckoAPI, params, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(raw))
	for id, mc := range raw {
		if mc.USDMarketCap > 0 {
			out[id] = mc.USDMarketCap
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, u string, params map[string]string, v any) error {
	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(u)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s API: %w", endpoint, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode())).Inc()

	if resp.IsError() {
		return fmt.Errorf("%s API status: %d", endpoint, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
