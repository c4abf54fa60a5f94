package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/chain-tvl/internal/dashboard"
	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

// SnapshotSource serves the latest refresh, nil until the first one.
type SnapshotSource interface {
	Latest() *dashboard.Snapshot
}

const errNoData = `{"error":"no data available yet"}`

func latest(w http.ResponseWriter, src SnapshotSource) *dashboard.Snapshot {
	snap := src.Latest()
	if snap == nil || snap.Rollup == nil {
		http.Error(w, errNoData, http.StatusServiceUnavailable)
		return nil
	}
	return snap
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Chains lists chain summaries. The staking, pool2 and borrowed query flags
// fold those buckets into each chain's TVL.
func Chains(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, bad := parseOptions(r)
		if bad != "" {
			http.Error(w, `{"error":"invalid `+bad+` flag"}`, http.StatusBadRequest)
			return
		}
		snap := latest(w, src)
		if snap == nil {
			return
		}

		summaries := snap.Rollup.Summaries
		if opts != (rollup.Options{}) {
			summaries = rollup.ApplyOptions(summaries, opts)
		}
		if summaries == nil {
			summaries = []rollup.ChainSummary{}
		}
		writeJSON(w, summaries)
	}
}

// parseOptions reads the toggles, returning the first malformed key.
func parseOptions(r *http.Request) (rollup.Options, string) {
	var opts rollup.Options
	q := r.URL.Query()
	for _, t := range []struct {
		key string
		dst *bool
	}{
		{"staking", &opts.IncludeStaking},
		{"pool2", &opts.IncludePool2},
		{"borrowed", &opts.IncludeBorrowed},
	} {
		v := q.Get(t.key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, t.key
		}
		*t.dst = b
	}
	return opts, ""
}

// Stacked returns the date-merged chain dataset in insertion order.
func Stacked(src SnapshotSource) http.HandlerFunc {
	type response struct {
		Chains []string            `json:"chains"`
		Rows   []rollup.StackedRow `json:"rows"`
		DaySum map[int64]float64   `json:"daySum"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		snap := latest(w, src)
		if snap == nil {
			return
		}
		res := snap.Rollup
		writeJSON(w, response{Chains: res.Chains, Rows: nonNilRows(res.Stacked), DaySum: res.DaySum})
	}
}

// Dominance returns each chain's percent share of every day's total.
func Dominance(src SnapshotSource) http.HandlerFunc {
	type response struct {
		Chains []string            `json:"chains"`
		Rows   []rollup.StackedRow `json:"rows"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		snap := latest(w, src)
		if snap == nil {
			return
		}
		res := snap.Rollup
		writeJSON(w, response{Chains: res.Chains, Rows: nonNilRows(rollup.Dominance(res.Stacked, res.DaySum))})
	}
}

// Breakdown returns the latest day split into the top chains plus Other.
func Breakdown(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := latest(w, src)
		if snap == nil {
			return
		}
		current := snap.Rollup.Current
		if current == nil {
			current = []rollup.Bucket{}
		}
		writeJSON(w, current)
	}
}

// Airdrops lists protocols without a token.
func Airdrops(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := latest(w, src)
		if snap == nil {
			return
		}
		airdrops := snap.Airdrops
		if airdrops == nil {
			airdrops = []dashboard.Airdrop{}
		}
		writeJSON(w, airdrops)
	}
}

func nonNilRows(rows []rollup.StackedRow) []rollup.StackedRow {
	if rows == nil {
		return []rollup.StackedRow{}
	}
	return rows
}
