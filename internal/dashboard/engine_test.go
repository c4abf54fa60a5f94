package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/chain-tvl/internal/cache"
	"github.com/web3-frozen/chain-tvl/internal/rollup"
	"github.com/web3-frozen/chain-tvl/internal/store"
)

const day0 int64 = 1700000000

type stubFetcher struct {
	mu    sync.Mutex
	in    rollup.Input
	err   error
	calls int
}

func (f *stubFetcher) FetchInput(context.Context) (rollup.Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.in, f.err
}

type fakeStore struct {
	mu        sync.Mutex
	summaries []rollup.ChainSummary
	runs      []store.RefreshRun
	err       error
}

func (s *fakeStore) UpsertChainSummaries(_ context.Context, _ time.Time, summaries []rollup.ChainSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.summaries = summaries
	return nil
}

func (s *fakeStore) RecordRefresh(_ context.Context, run store.RefreshRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func sampleInput() rollup.Input {
	return rollup.Input{
		Chains: []string{"A", "B"},
		Series: [][]rollup.ChainSeriesPoint{
			{{Date: day0, TotalLiquidityUSD: 100}, {Date: day0 + 86400, TotalLiquidityUSD: 110}},
			{{Date: day0, TotalLiquidityUSD: 50}, {Date: day0 + 86400, TotalLiquidityUSD: 45}},
		},
		Protocols: []rollup.ProtocolRecord{
			{Name: "Tokenless", Symbol: "-", TVL: 5, Chains: []string{"A"}},
			{Name: "Token", Symbol: "TKN", TVL: 9, Chains: []string{"A", "B"}},
		},
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New("redis://"+mr.Addr(), "", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEngineLatestEmpty(t *testing.T) {
	e := NewEngine(&stubFetcher{}, nil, nil, slog.Default(), "@every 1m")
	assert.Nil(t, e.Latest())
}

func TestEngineRefresh(t *testing.T) {
	st := &fakeStore{}
	e := NewEngine(&stubFetcher{in: sampleInput()}, newTestCache(t), st, slog.Default(), "@every 1m")

	require.NoError(t, e.Refresh(context.Background()))

	snap := e.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, []string{"A", "B"}, snap.Rollup.Chains)
	assert.Equal(t, "A", snap.Rollup.Summaries[0].Name)
	require.Len(t, snap.Airdrops, 1)
	assert.Equal(t, "Tokenless", snap.Airdrops[0].Name)

	assert.Len(t, st.summaries, 2)
	require.Len(t, st.runs, 1)
	assert.Equal(t, "ok", st.runs[0].Status)
	assert.Equal(t, 2, st.runs[0].Chains)
}

func TestEngineRefreshFailureKeepsPrevious(t *testing.T) {
	f := &stubFetcher{in: sampleInput()}
	st := &fakeStore{}
	e := NewEngine(f, nil, st, slog.Default(), "@every 1m")
	require.NoError(t, e.Refresh(context.Background()))
	first := e.Latest()

	f.err = errors.New("upstream down")
	err := e.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Same(t, first, e.Latest())

	require.Len(t, st.runs, 2)
	assert.Equal(t, "error", st.runs[1].Status)
}

func TestEngineRefreshRejectsMalformedPayload(t *testing.T) {
	e := NewEngine(&stubFetcher{in: rollup.Input{Chains: []string{"A"}}}, nil, nil, slog.Default(), "@every 1m")
	err := e.Refresh(context.Background())
	assert.ErrorIs(t, err, rollup.ErrMissingProtocols)
	assert.Nil(t, e.Latest())
}

func TestEngineStoreFailureIsNotFatal(t *testing.T) {
	st := &fakeStore{err: errors.New("db down")}
	e := NewEngine(&stubFetcher{in: sampleInput()}, nil, st, slog.Default(), "@every 1m")
	require.NoError(t, e.Refresh(context.Background()))
	assert.NotNil(t, e.Latest())
}

func TestEngineWarmFromCache(t *testing.T) {
	c := newTestCache(t)
	producer := NewEngine(&stubFetcher{in: sampleInput()}, c, nil, slog.Default(), "@every 1m")
	require.NoError(t, producer.Refresh(context.Background()))

	consumer := NewEngine(&stubFetcher{err: errors.New("unused")}, c, nil, slog.Default(), "@every 1m")
	consumer.Warm(context.Background())

	snap := consumer.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, producer.Latest().Rollup.Summaries, snap.Rollup.Summaries)
	assert.Equal(t, producer.Latest().Rollup.Stacked, snap.Rollup.Stacked)
	assert.Equal(t, producer.Latest().Rollup.DaySum, snap.Rollup.DaySum)
}

func TestEngineWarmEmptyCache(t *testing.T) {
	e := NewEngine(&stubFetcher{}, newTestCache(t), nil, slog.Default(), "@every 1m")
	e.Warm(context.Background())
	assert.Nil(t, e.Latest())
}

func TestEngineWarmDiscardsCorruptSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.New("redis://"+mr.Addr(), "", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, mr.Set(CacheKey, "{not json"))

	e := NewEngine(&stubFetcher{}, c, nil, slog.Default(), "@every 1m")
	e.Warm(context.Background())

	assert.Nil(t, e.Latest())
	assert.False(t, mr.Exists(CacheKey))
}

func TestEngineRunBadSchedule(t *testing.T) {
	e := NewEngine(&stubFetcher{}, nil, nil, slog.Default(), "not a schedule")
	assert.Error(t, e.Run(context.Background()))
}

func TestEngineRunRefreshesUntilCancelled(t *testing.T) {
	f := &stubFetcher{in: sampleInput()}
	e := NewEngine(f, nil, nil, slog.Default(), "@every 1h")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Latest() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduleParserSecondsOptional(t *testing.T) {
	for _, expr := range []string{"0 */10 * * * *", "*/10 * * * *", "@hourly"} {
		_, err := scheduleParser.Parse(expr)
		assert.NoError(t, err, expr)
	}
}

func TestAirdrops(t *testing.T) {
	got := Airdrops([]rollup.ProtocolRecord{
		{Name: "Small", Symbol: "", TVL: 1},
		{Name: "Big", Symbol: "-", TVL: 10, Category: "Dexes"},
		{Name: "Notional", Symbol: "-", TVL: 100},
		{Name: "HasToken", Symbol: "HT", TVL: 50},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "Big", got[0].Name)
	assert.Equal(t, "Dexes", got[0].Category)
	assert.Equal(t, "Small", got[1].Name)

	assert.NotNil(t, Airdrops(nil))
}
