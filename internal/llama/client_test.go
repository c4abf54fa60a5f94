package llama

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

type upstream struct {
	protocols string
	config    string
	charts    map[string]string
	caps      string
	capsQuery atomic.Value
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/protocols", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(u.protocols))
	})
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		if u.config == "" {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(u.config))
	})
	mux.HandleFunc("/charts/", func(w http.ResponseWriter, r *http.Request) {
		chain := strings.TrimPrefix(r.URL.Path, "/charts/")
		body, ok := u.charts[chain]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		u.capsQuery.Store(r.URL.Query())
		_, _ = w.Write([]byte(u.caps))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(Endpoints{
		ProtocolsAPI: srv.URL + "/protocols",
		ConfigAPI:    srv.URL + "/config",
		ChartAPI:     srv.URL + "/charts",
		CoingeckoAPI: srv.URL + "/price",
	}, 4, slog.Default())
	c.http.SetRetryCount(0)
	return c
}

func TestChainChartAcceptsStringAndNumberDates(t *testing.T) {
	u := &upstream{charts: map[string]string{
		"Ethereum": `[{"date":"1600000000","totalLiquidityUSD":10},{"date":1600086400,"totalLiquidityUSD":12.5}]`,
	}}
	c := newTestClient(u.server(t))

	pts, err := c.ChainChart(context.Background(), "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, []rollup.ChainSeriesPoint{
		{Date: 1600000000, TotalLiquidityUSD: 10},
		{Date: 1600086400, TotalLiquidityUSD: 12.5},
	}, pts)
}

func TestChainChartBadDate(t *testing.T) {
	u := &upstream{charts: map[string]string{"X": `[{"date":1.5,"totalLiquidityUSD":1}]`}}
	c := newTestClient(u.server(t))

	_, err := c.ChainChart(context.Background(), "X")
	assert.Error(t, err)
}

func TestChainChartStatusError(t *testing.T) {
	u := &upstream{charts: map[string]string{}}
	c := newTestClient(u.server(t))

	_, err := c.ChainChart(context.Background(), "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestMarketCaps(t *testing.T) {
	u := &upstream{caps: `{"ethereum":{"usd":3000,"usd_market_cap":360000000000},"nomcap":{"usd":1}}`}
	c := newTestClient(u.server(t))

	caps, err := c.MarketCaps(context.Background(), []string{"ethereum", "nomcap"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ethereum": 3.6e11}, caps)

	q := u.capsQuery.Load().(url.Values)
	assert.Equal(t, []string{"ethereum,nomcap"}, q["ids"])
	assert.Equal(t, []string{"true"}, q["include_market_cap"])
}

func TestMarketCapsNoIDs(t *testing.T) {
	c := NewClient(Endpoints{}, 1, slog.Default())
	caps, err := c.MarketCaps(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, caps)
}

func TestFetchInput(t *testing.T) {
	protocols, _ := json.Marshal(map[string]any{
		"protocols": []map[string]any{
			{"name": "Uni", "symbol": "UNI", "chains": []string{"Ethereum"}, "chainTvls": map[string]float64{"Ethereum": 5}},
		},
		"chains": []string{"Ethereum", "EthereumClassic", "Broken"},
	})
	u := &upstream{
		protocols: string(protocols),
		config:    `{"chainCoingeckoIds":{"Ethereum":{"geckoId":"ethereum","symbol":"ETH"},"Broken":{"symbol":"BRK"}}}`,
		charts: map[string]string{
			"Ethereum": `[{"date":1600000000,"totalLiquidityUSD":100}]`,
		},
		caps: `{"ethereum":{"usd_market_cap":1000}}`,
	}
	c := newTestClient(u.server(t))

	in, err := c.FetchInput(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Ethereum", "Broken"}, in.Chains)
	require.Len(t, in.Series, 2)
	assert.Len(t, in.Series[0], 1)
	assert.Empty(t, in.Series[1], "failed chart degrades to empty")
	assert.Len(t, in.Protocols, 1)
	assert.Equal(t, rollup.ChainMeta{Symbol: "ETH", MarketCap: 1000}, in.Meta["Ethereum"])
	assert.Equal(t, rollup.ChainMeta{Symbol: "BRK"}, in.Meta["Broken"])

	res, err := rollup.Build(in)
	require.NoError(t, err)
	assert.Equal(t, "Ethereum", res.Summaries[0].Name)
}

func TestFetchInputWithoutConfig(t *testing.T) {
	u := &upstream{
		protocols: `{"protocols":[],"chains":["A"]}`,
		charts:    map[string]string{"A": `[]`},
	}
	c := newTestClient(u.server(t))

	in, err := c.FetchInput(context.Background())
	require.NoError(t, err)
	assert.Empty(t, in.Meta)
	assert.Equal(t, []string{"A"}, in.Chains)
}

func TestFetchInputMissingFieldsSurviveForValidation(t *testing.T) {
	u := &upstream{protocols: `{"chains":["A"]}`, charts: map[string]string{"A": `[]`}}
	c := newTestClient(u.server(t))

	in, err := c.FetchInput(context.Background())
	require.NoError(t, err)
	assert.Nil(t, in.Protocols)

	_, err = rollup.Build(in)
	assert.ErrorIs(t, err, rollup.ErrMissingProtocols)
}

func TestFetchInputProtocolsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestClient(srv)

	_, err := c.FetchInput(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch protocols")
}

func TestFilterChains(t *testing.T) {
	assert.Nil(t, filterChains(nil))
	assert.Equal(t, []string{}, filterChains([]string{"EthereumClassic"}))
	assert.Equal(t, []string{"A", "B"}, filterChains([]string{"A", "EthereumClassic", "B"}))
}
