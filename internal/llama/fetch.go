package llama

import (
	"context"
	"fmt"
	"sort"

	"github.com/alitto/pond/v2"

	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

// excludedChains are listed upstream but have no usable chart.
var excludedChains = map[string]bool{
	"EthereumClassic": true,
}

// FetchInput gathers one complete rollup payload. Only the protocols call is
// fatal; a failed chart degrades to an empty series and failed config or
// market cap calls degrade to no metadata.
func (c *Client) FetchInput(ctx context.Context) (rollup.Input, error) {
	protos, err := c.Protocols(ctx)
	if err != nil {
		return rollup.Input{}, fmt.Errorf("fetch protocols: %w", err)
	}

	chains := filterChains(protos.Chains)
	in := rollup.Input{
		Chains:    chains,
		Protocols: protos.Protocols,
		Meta:      map[string]rollup.ChainMeta{},
	}

	ids, err := c.ChainConfig(ctx)
	if err != nil {
		c.logger.Warn("chain config unavailable, continuing without metadata", "error", err)
	}

	in.Series = c.fetchCharts(ctx, chains)
	if err := ctx.Err(); err != nil {
		return rollup.Input{}, err
	}

	caps := c.marketCapsFor(ctx, ids)
	for chain, id := range ids {
		in.Meta[chain] = rollup.ChainMeta{Symbol: id.Symbol, MarketCap: caps[id.GeckoID]}
	}

	return in, nil
}

// fetchCharts fetches every chain's chart on a bounded pool. The result is
// index-aligned with chains.
func (c *Client) fetchCharts(ctx context.Context, chains []string) [][]rollup.ChainSeriesPoint {
	series := make([][]rollup.ChainSeriesPoint, len(chains))
	if len(chains) == 0 {
		return series
	}

	pool := pond.NewPool(c.workers, pond.WithQueueSize(len(chains)))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, chain := range chains {
		i, chain := i, chain
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			pts, err := c.ChainChart(groupCtx, chain)
			if err != nil {
				c.logger.Warn("chain chart unavailable", "chain", chain, "error", err)
				return
			}
			series[i] = pts
		})
	}
	if err := group.Wait(); err != nil {
		c.logger.Warn("chart fetch group stopped", "error", err)
	}
	return series
}

func (c *Client) marketCapsFor(ctx context.Context, ids map[string]ChainIDs) map[string]float64 {
	seen := make(map[string]bool)
	var geckoIDs []string
	for _, id := range ids {
		if id.GeckoID == "" || seen[id.GeckoID] {
			continue
		}
		seen[id.GeckoID] = true
		geckoIDs = append(geckoIDs, id.GeckoID)
	}
	sort.Strings(geckoIDs)

	caps, err := c.MarketCaps(ctx, geckoIDs)
	if err != nil {
		c.logger.Warn("market caps unavailable", "error", err)
		return nil
	}
	return caps
}

// filterChains drops excluded chains; nil stays nil.
func filterChains(chains []string) []string {
	if chains == nil {
		return nil
	}
	out := make([]string, 0, len(chains))
	for _, ch := range chains {
		if !excludedChains[ch] {
			out = append(out, ch)
		}
	}
	return out
}
