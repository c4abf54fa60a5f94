// Package rollup turns raw per-chain TVL series and protocol breakdowns into
// the chain table, the stacked area dataset and the pie breakdown.
package rollup

import (
	"sort"
	"strings"
	"time"
)

const (
	suffixStaking  = "-staking"
	suffixPool2    = "-pool2"
	suffixBorrowed = "-borrowed"
)

// Build computes every derived structure for one payload.
func Build(in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	stacked, daySum := Stack(in.Chains, in.Series)

	var current []Bucket
	if last, ok := LatestRow(stacked); ok {
		current = Breakdown(last)
	}

	return &Result{
		Chains:    append([]string(nil), in.Chains...),
		Summaries: Summaries(in),
		Stacked:   stacked,
		DaySum:    daySum,
		Current:   current,
		BuiltAt:   time.Now().UTC(),
	}, nil
}

// PercentChange returns how much curr moved relative to prev, in percent.
func PercentChange(prev, curr float64) float64 {
	return curr/prev*100 - 100
}

// Summaries builds one ChainSummary per chain, sorted by TVL descending.
// Chains with equal TVL keep their input order.
func Summaries(in Input) []ChainSummary {
	counts, extras := protocolTotals(in.Protocols)

	out := make([]ChainSummary, 0, len(in.Chains))
	for i, name := range in.Chains {
		var series []ChainSeriesPoint
		if i < len(in.Series) {
			series = in.Series[i]
		}
		current, _ := daysBefore(series, 0)
		ex := extras[name]

		s := ChainSummary{
			Name:      name,
			Symbol:    "-",
			TVL:       current,
			Protocols: counts[name],
			Pool2:     ex.pool2,
			Borrowed:  ex.borrowed,
			Staking:   ex.staking,
			Change1d:  change(series, 1),
			Change7d:  change(series, 7),
		}
		if meta, ok := in.Meta[name]; ok {
			if meta.Symbol != "" {
				s.Symbol = meta.Symbol
			}
			if meta.MarketCap != 0 && current != 0 {
				ratio := meta.MarketCap / current
				s.MCapTVL = &ratio
			}
		}
		out = append(out, s)
	}

	sortByTVL(out)
	return out
}

// ApplyOptions returns a copy of summaries with the enabled extra buckets
// added to each TVL, re-sorted. The input is left untouched.
func ApplyOptions(summaries []ChainSummary, opts Options) []ChainSummary {
	out := make([]ChainSummary, len(summaries))
	copy(out, summaries)
	if opts == (Options{}) {
		return out
	}
	for i := range out {
		if opts.IncludeStaking {
			out[i].TVL += out[i].Staking
		}
		if opts.IncludePool2 {
			out[i].TVL += out[i].Pool2
		}
		if opts.IncludeBorrowed {
			out[i].TVL += out[i].Borrowed
		}
	}
	sortByTVL(out)
	return out
}

// Stack merges every chain's series into rows keyed by date. Rows come out in
// the order their date was first seen while walking chains in input order,
// which is not necessarily chronological. Points before StackCutoff are
// dropped.
func Stack(chains []string, series [][]ChainSeriesPoint) ([]StackedRow, map[int64]float64) {
	var rows []StackedRow
	index := make(map[int64]int)
	daySum := make(map[int64]float64)

	for i, name := range chains {
		if i >= len(series) {
			break
		}
		for _, p := range series[i] {
			if p.Date < StackCutoff {
				continue
			}
			idx, ok := index[p.Date]
			if !ok {
				idx = len(rows)
				index[p.Date] = idx
				rows = append(rows, StackedRow{Date: p.Date, Values: make(map[string]float64)})
			}
			rows[idx].Values[name] = p.TotalLiquidityUSD
			daySum[p.Date] += p.TotalLiquidityUSD
		}
	}
	return rows, daySum
}

// LatestRow returns the row with the most recent date.
func LatestRow(rows []StackedRow) (StackedRow, bool) {
	if len(rows) == 0 {
		return StackedRow{}, false
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.Date > latest.Date {
			latest = r
		}
	}
	return latest, true
}

// Breakdown returns the ten largest chains of a row plus an Other bucket
// holding the sum of the rest. Equal values are ordered by name.
func Breakdown(row StackedRow) []Bucket {
	entries := make([]Bucket, 0, len(row.Values))
	for name, v := range row.Values {
		entries = append(entries, Bucket{Name: name, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Name < entries[j].Name
	})

	n := min(topN, len(entries))
	var other float64
	for _, e := range entries[n:] {
		other += e.Value
	}
	out := make([]Bucket, 0, n+1)
	out = append(out, entries[:n]...)
	return append(out, Bucket{Name: OtherBucket, Value: other})
}

// Dominance rewrites each row as every chain's percent share of that day's
// total. Days with a zero total get zero shares.
func Dominance(rows []StackedRow, daySum map[int64]float64) []StackedRow {
	out := make([]StackedRow, len(rows))
	for i, r := range rows {
		total := daySum[r.Date]
		shares := make(map[string]float64, len(r.Values))
		for name, v := range r.Values {
			if total > 0 {
				shares[name] = v / total * 100
			} else {
				shares[name] = 0
			}
		}
		out[i] = StackedRow{Date: r.Date, Values: shares}
	}
	return out
}

type extraTVL struct {
	staking  float64
	pool2    float64
	borrowed float64
}

func protocolTotals(protocols []ProtocolRecord) (map[string]int, map[string]extraTVL) {
	counts := make(map[string]int)
	extras := make(map[string]extraTVL)
	for _, p := range protocols {
		for _, chain := range p.Chains {
			counts[chain]++
		}
		for key, v := range p.ChainTvls {
			if chain, ok := strings.CutSuffix(key, suffixStaking); ok {
				ex := extras[chain]
				ex.staking += v
				extras[chain] = ex
			} else if chain, ok := strings.CutSuffix(key, suffixPool2); ok {
				ex := extras[chain]
				ex.pool2 += v
				extras[chain] = ex
			} else if chain, ok := strings.CutSuffix(key, suffixBorrowed); ok {
				ex := extras[chain]
				ex.borrowed += v
				extras[chain] = ex
			}
		}
	}
	return counts, extras
}

// daysBefore returns the value k entries before the last one.
func daysBefore(series []ChainSeriesPoint, k int) (float64, bool) {
	i := len(series) - 1 - k
	if i < 0 {
		return 0, false
	}
	return series[i].TotalLiquidityUSD, true
}

// change is nil when there is no value k days back or it is zero.
func change(series []ChainSeriesPoint, k int) *float64 {
	prev, ok := daysBefore(series, k)
	if !ok || prev == 0 {
		return nil
	}
	curr, _ := daysBefore(series, 0)
	pct := PercentChange(prev, curr)
	return &pct
}

func sortByTVL(s []ChainSummary) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].TVL > s[j].TVL })
}
