package dashboard

import (
	"sort"
	"time"

	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

// Snapshot is everything the API serves from one refresh.
type Snapshot struct {
	Rollup    *rollup.Result `json:"rollup"`
	Airdrops  []Airdrop      `json:"airdrops"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Airdrop is a protocol without a token, which may airdrop one later.
type Airdrop struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	TVL      float64  `json:"tvl"`
	Chains   []string `json:"chains"`
}

// airdropExclusions have no token but will not airdrop one.
var airdropExclusions = map[string]bool{
	"Mento":                  true,
	"Lightning Network":      true,
	"Secret Bridge":          true,
	"Karura Swap":            true,
	"Karura Liquid-Staking":  true,
	"Karura Dollar (kUSD)":   true,
	"Tezos Liquidity Baking": true,
	"Notional":               true,
	"Tinlake":                true,
}

// Airdrops lists tokenless protocols, largest TVL first.
func Airdrops(protocols []rollup.ProtocolRecord) []Airdrop {
	out := []Airdrop{}
	for _, p := range protocols {
		if p.Symbol != "" && p.Symbol != "-" {
			continue
		}
		if airdropExclusions[p.Name] {
			continue
		}
		out = append(out, Airdrop{Name: p.Name, Category: p.Category, TVL: p.TVL, Chains: p.Chains})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TVL > out[j].TVL })
	return out
}
