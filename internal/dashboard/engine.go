package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/web3-frozen/chain-tvl/internal/metrics"
	"github.com/web3-frozen/chain-tvl/internal/rollup"
	"github.com/web3-frozen/chain-tvl/internal/store"
)

// CacheKey is the Redis key holding the latest snapshot.
const CacheKey = "chaintvl:snapshot"

// Fetcher produces a complete upstream payload.
type Fetcher interface {
	FetchInput(ctx context.Context) (rollup.Input, error)
}

// SnapshotCache shares the latest snapshot across replicas and restarts.
type SnapshotCache interface {
	Put(ctx context.Context, key string, v any) error
	Get(ctx context.Context, key string, v any) (bool, error)
	Clear(ctx context.Context, key string)
}

// SummaryStore persists daily chain summaries and refresh outcomes.
type SummaryStore interface {
	UpsertChainSummaries(ctx context.Context, day time.Time, summaries []rollup.ChainSummary) error
	RecordRefresh(ctx context.Context, run store.RefreshRun) error
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Engine refreshes the rollup on a schedule and serves the latest snapshot.
// Cache and store are optional.
type Engine struct {
	fetcher  Fetcher
	cache    SnapshotCache
	store    SummaryStore
	logger   *slog.Logger
	schedule string

	refreshMu sync.Mutex
	mu        sync.RWMutex
	latest    *Snapshot
}

func NewEngine(f Fetcher, c SnapshotCache, s SummaryStore, logger *slog.Logger, schedule string) *Engine {
	return &Engine{
		fetcher:  f,
		cache:    c,
		store:    s,
		logger:   logger,
		schedule: schedule,
	}
}

// Latest returns the most recent snapshot, or nil before the first refresh.
func (e *Engine) Latest() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Schedule returns the refresh cron expression.
func (e *Engine) Schedule() string { return e.schedule }

// Run warms from the cache, refreshes once, then refreshes on the schedule
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	sched, err := scheduleParser.Parse(e.schedule)
	if err != nil {
		return fmt.Errorf("parse refresh schedule %q: %w", e.schedule, err)
	}

	e.Warm(ctx)
	e.refreshLogged(ctx)

	cl := cronLogger{e.logger}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)))
	c.Schedule(sched, cron.FuncJob(func() { e.refreshLogged(ctx) }))
	c.Start()
	e.logger.Info("refresh scheduled", "schedule", e.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Warm loads the cached snapshot when nothing has been built yet. An
// unreadable cached snapshot is discarded.
func (e *Engine) Warm(ctx context.Context) {
	if e.cache == nil || e.Latest() != nil {
		return
	}
	var snap Snapshot
	ok, err := e.cache.Get(ctx, CacheKey, &snap)
	if err != nil {
		e.logger.Warn("cache warm failed", "error", err)
		e.cache.Clear(ctx, CacheKey)
		return
	}
	if !ok || snap.Rollup == nil {
		return
	}

	e.mu.Lock()
	if e.latest == nil {
		e.latest = &snap
	}
	e.mu.Unlock()
	e.logger.Info("warmed from cache", "fetched_at", snap.FetchedAt, "chains", len(snap.Rollup.Chains))
}

// Refresh fetches a fresh payload, rebuilds the rollup and publishes it. On
// failure the previous snapshot stays in place.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	start := time.Now()
	snap, err := e.build(ctx)
	elapsed := time.Since(start)
	metrics.RefreshDuration.Observe(elapsed.Seconds())

	run := store.RefreshRun{StartedAt: start, DurationMs: elapsed.Milliseconds(), Status: "ok"}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		run.Status = "error"
		run.Error = err.Error()
		e.recordRun(ctx, run)
		return err
	}
	run.Chains = len(snap.Rollup.Chains)

	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	metrics.RefreshLastSuccess.SetToCurrentTime()
	metrics.ChainsTracked.Set(float64(len(snap.Rollup.Chains)))
	metrics.ChainTVL.Reset()
	for _, s := range snap.Rollup.Summaries {
		metrics.ChainTVL.WithLabelValues(s.Name).Set(s.TVL)
	}

	e.publish(ctx, snap)
	e.recordRun(ctx, run)
	return nil
}

func (e *Engine) build(ctx context.Context) (*Snapshot, error) {
	in, err := e.fetcher.FetchInput(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	res, err := rollup.Build(in)
	if err != nil {
		return nil, fmt.Errorf("rollup: %w", err)
	}
	return &Snapshot{
		Rollup:    res,
		Airdrops:  Airdrops(in.Protocols),
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) publish(ctx context.Context, snap *Snapshot) {
	if e.cache != nil {
		if err := e.cache.Put(ctx, CacheKey, snap); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("cache").Inc()
			e.logger.Error("cache snapshot failed", "error", err)
		}
	}
	if e.store != nil {
		if err := e.store.UpsertChainSummaries(ctx, snap.FetchedAt, snap.Rollup.Summaries); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("store").Inc()
			e.logger.Error("store summaries failed", "error", err)
		}
	}
}

func (e *Engine) recordRun(ctx context.Context, run store.RefreshRun) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordRefresh(ctx, run); err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("store").Inc()
		e.logger.Error("record refresh failed", "error", err)
	}
}

func (e *Engine) refreshLogged(ctx context.Context) {
	start := time.Now()
	if err := e.Refresh(ctx); err != nil {
		e.logger.Error("refresh failed", "error", err, "duration", time.Since(start).String())
		return
	}
	snap := e.Latest()
	e.logger.Info("refresh complete",
		"chains", len(snap.Rollup.Chains),
		"rows", len(snap.Rollup.Stacked),
		"duration", time.Since(start).String(),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
