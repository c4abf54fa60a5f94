package rollup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// StackCutoff is the earliest unix timestamp kept in the stacked dataset.
// Days before it are incomplete upstream and are dropped.
const StackCutoff int64 = 1596248105

// OtherBucket names the breakdown bucket that sums every chain past the top N.
const OtherBucket = "Other"

const topN = 10

const rowDateKey = "date"

var (
	ErrMissingProtocols = errors.New("rollup: payload has no protocols")
	ErrMissingChains    = errors.New("rollup: payload has no chains")
	ErrSeriesMismatch   = errors.New("rollup: series not aligned with chains")
)

// ChainSeriesPoint is one day of a chain's TVL history.
type ChainSeriesPoint struct {
	Date              int64   `json:"date"`
	TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
}

// ProtocolRecord is a protocol's per-chain TVL breakdown. ChainTvls keys are
// "<chain>" or "<chain>-staking", "<chain>-pool2", "<chain>-borrowed".
type ProtocolRecord struct {
	Name      string             `json:"name"`
	Symbol    string             `json:"symbol"`
	Category  string             `json:"category"`
	TVL       float64            `json:"tvl"`
	Chains    []string           `json:"chains"`
	ChainTvls map[string]float64 `json:"chainTvls"`
}

// ChainMeta is the optional per-chain metadata resolved from the config and
// market cap endpoints. A zero MarketCap means no market cap is known.
type ChainMeta struct {
	Symbol    string  `json:"symbol"`
	MarketCap float64 `json:"marketCap"`
}

// Input is a fully materialized upstream payload. Series[i] belongs to
// Chains[i]. A nil Protocols or Chains means the payload lacked the field;
// an empty non-nil slice is a valid, empty payload.
type Input struct {
	Chains    []string
	Series    [][]ChainSeriesPoint
	Protocols []ProtocolRecord
	Meta      map[string]ChainMeta
}

// Validate reports whether the payload has the shape a rollup needs.
func (in Input) Validate() error {
	if in.Protocols == nil {
		return ErrMissingProtocols
	}
	if in.Chains == nil {
		return ErrMissingChains
	}
	if len(in.Series) > len(in.Chains) {
		return fmt.Errorf("%w: %d series for %d chains", ErrSeriesMismatch, len(in.Series), len(in.Chains))
	}
	return nil
}

// ChainSummary is one row of the chain table.
type ChainSummary struct {
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol"`
	TVL       float64  `json:"tvl"`
	MCapTVL   *float64 `json:"mcaptvl"`
	Protocols int      `json:"protocols"`
	Pool2     float64  `json:"pool2"`
	Borrowed  float64  `json:"borrowed"`
	Staking   float64  `json:"staking"`
	Change1d  *float64 `json:"change_1d"`
	Change7d  *float64 `json:"change_7d"`
}

// StackedRow holds every chain's TVL for one date. It marshals flat, as
// {"date": 1600000000, "Ethereum": 1.5e9, ...}, which is what area charts
// consume. A chain named "date" cannot be represented and is left out.
type StackedRow struct {
	Date   int64
	Values map[string]float64
}

func (r StackedRow) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		if k == rowDateKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"%s":%d`, rowDateKey, r.Date)
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *StackedRow) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, ok := raw[rowDateKey]
	if !ok {
		return errors.New("stacked row: missing date")
	}
	delete(raw, rowDateKey)
	r.Date = int64(date)
	r.Values = raw
	return nil
}

// Bucket is one slice of the breakdown pie.
type Bucket struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Result is the complete derived view of one payload. It is never mutated
// after Build returns it.
type Result struct {
	Chains    []string          `json:"chains"`
	Summaries []ChainSummary    `json:"summaries"`
	Stacked   []StackedRow      `json:"stacked"`
	DaySum    map[int64]float64 `json:"daySum"`
	Current   []Bucket          `json:"current"`
	BuiltAt   time.Time         `json:"builtAt"`
}

// Options are the display toggles of the dashboard. Each enabled flag folds
// the matching extra bucket into a chain's TVL.
type Options struct {
	IncludeStaking  bool `json:"staking"`
	IncludePool2    bool `json:"pool2"`
	IncludeBorrowed bool `json:"borrowed"`
}
