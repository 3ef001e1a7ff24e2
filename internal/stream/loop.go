package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"kyoto-terminal/internal/broker"
	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/grouping"
	"kyoto-terminal/internal/logging"
	"kyoto-terminal/internal/metrics"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/quotes"
	"kyoto-terminal/internal/resilience"
	"kyoto-terminal/internal/valuation"
)

// TileSource supplies the tiles to value on each tick.
type TileSource interface {
	// Visible returns the active workspace name and deep copies of its tiles.
	Visible() (string, []models.Tile)
}

// TileSourceFunc adapts a function to TileSource.
type TileSourceFunc func() (string, []models.Tile)

// Visible calls f.
func (f TileSourceFunc) Visible() (string, []models.Tile) { return f() }

// Default loop settings.
const (
	DefaultInterval = time.Second
	DefaultWorkers  = 4
)

// LoopConfig holds the collaborators of a refresh loop.
type LoopConfig struct {
	Fetcher   broker.QuoteFetcher
	Cache     *quotes.Cache
	Tiles     TileSource
	Token     broker.TokenSource
	Publisher Publisher
	Interval  time.Duration
	Workers   int
	// SkipTokenCheck lets fetchers that need no credentials run without a token.
	SkipTokenCheck bool
	// Breakers, when set, skip groups whose fetches keep failing.
	Breakers *resilience.GroupBreakers
	Logger   *zerolog.Logger
}

// Loop is the live refresh loop.
//
// While active it repeats: group the visible tiles, fetch every group in parallel,
// merge the successful results into the cache, value every tile against one
// snapshot, publish the frame, then wait the interval. The loop is the only
// place fetch errors are absorbed; they are logged, counted and reported in the
// frame, never returned.
type Loop struct {
	fetcher        broker.QuoteFetcher
	cache          *quotes.Cache
	tiles          TileSource
	token          broker.TokenSource
	publisher      Publisher
	interval       time.Duration
	workers        int
	skipTokenCheck bool
	breakers       *resilience.GroupBreakers
	logger         zerolog.Logger

	active atomic.Bool
	cycle  atomic.Uint64
	wake   chan struct{}
	tickMu sync.Mutex
}

// NewLoop creates a disabled loop.
func NewLoop(cfg LoopConfig) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	cache := cfg.Cache
	if cache == nil {
		cache = quotes.New()
	}
	token := cfg.Token
	if token == nil {
		token = broker.StaticToken("")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = PublisherFunc(func(models.Frame) {})
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Loop{
		fetcher:        cfg.Fetcher,
		cache:          cache,
		tiles:          cfg.Tiles,
		token:          token,
		publisher:      publisher,
		interval:       interval,
		workers:        workers,
		skipTokenCheck: cfg.SkipTokenCheck,
		breakers:       cfg.Breakers,
		logger:         logging.WithOperation(logger, "refresh"),
		wake:           make(chan struct{}, 1),
	}
}

// Enable starts ticking. Enabling an active loop is a no-op.
func (l *Loop) Enable() {
	if l.active.CompareAndSwap(false, true) {
		l.logger.Info().Msg("Live refresh enabled")
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// Disable stops ticking after the current tick, if any, completes.
// In-flight fetches are not cancelled and their results are still merged.
func (l *Loop) Disable() {
	if l.active.CompareAndSwap(true, false) {
		l.logger.Info().Msg("Live refresh disabled")
	}
}

// Active reports whether the loop is ticking.
func (l *Loop) Active() bool {
	return l.active.Load()
}

// Cycle returns the number of the last tick started.
func (l *Loop) Cycle() uint64 {
	return l.cycle.Load()
}

// Cache returns the loop's quote cache.
func (l *Loop) Cache() *quotes.Cache {
	return l.cache
}

// Run ticks while the loop is active and sleeps while it is disabled.
// It returns when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if !l.Active() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}

		l.Tick(ctx)

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type fetchOutcome struct {
	table    models.QuoteTable
	err      error
	duration time.Duration
}

// Tick runs one refresh cycle and returns the frame it published.
// Ticks never overlap.
func (l *Loop) Tick(ctx context.Context) models.Frame {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := time.Now()
	cycle := l.cycle.Add(1)
	logger := l.logger.With().Uint64("cycle", cycle).Logger()

	var (
		name  string
		tiles []models.Tile
	)
	if l.tiles != nil {
		name, tiles = l.tiles.Visible()
	}
	reqs := grouping.Group(tiles)
	frame := models.Frame{Cycle: cycle, Workspace: name}

	token := l.token.Token()
	if token == "" && !l.skipTokenCheck && len(reqs) > 0 {
		// No credentials: report every group and value against the existing cache.
		frame.Errors = make(map[string]string, len(reqs))
		for _, req := range reqs {
			frame.Errors[req.Group.String()] = apperrors.ErrNoToken.Error()
			metrics.ObserveFetch(metrics.OutcomeSkipped, 0)
		}
		logger.Warn().Int("groups", len(reqs)).Msg("No access token, skipping fetches")
	} else if l.fetcher != nil && len(reqs) > 0 {
		allowed := l.admit(logger, reqs, &frame)
		outcomes := l.fetchAll(ctx, allowed, token)
		for i, req := range allowed {
			l.apply(logger, req.Group, outcomes[i], cycle, &frame)
		}
	}

	snap := l.cache.Snapshot()
	for _, req := range reqs {
		key := req.Group.String()
		if _, failed := frame.Errors[key]; !failed {
			continue
		}
		if asOf := snap.AsOf(req.Group); asOf > 0 {
			if frame.Stale == nil {
				frame.Stale = make(map[string]uint64)
			}
			frame.Stale[key] = asOf
		}
	}
	frame.Results = valuation.ValueAll(tiles, snap)
	frame.At = time.Now()

	for _, r := range frame.Results {
		metrics.ValuationsTotal.WithLabelValues(string(r.Status)).Inc()
	}
	metrics.CachedGroups.Set(float64(l.cache.Len()))
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	l.publisher.Publish(frame)

	logger.Debug().
		Str("workspace", name).
		Int("tiles", len(tiles)).
		Int("groups", len(reqs)).
		Int("errors", len(frame.Errors)).
		Dur("duration", time.Since(start)).
		Msg("Tick completed")

	return frame
}

// admit drops groups whose breaker is open and reports them in the frame.
func (l *Loop) admit(logger zerolog.Logger, reqs []models.GroupRequest, frame *models.Frame) []models.GroupRequest {
	if l.breakers == nil {
		return reqs
	}
	allowed := reqs[:0:0]
	for _, req := range reqs {
		key := req.Group.String()
		if err := l.breakers.Allow(key); err != nil {
			if frame.Errors == nil {
				frame.Errors = make(map[string]string)
			}
			frame.Errors[key] = apperrors.NewFetchError(key, "breaker", err).Error()
			metrics.ObserveFetch(metrics.OutcomeSkipped, 0)
			glog := logging.WithGroup(logger, key)
			glog.Debug().Msg("Circuit open, skipping fetch")
			continue
		}
		allowed = append(allowed, req)
	}
	return allowed
}

// fetchAll issues one fetch per group in parallel, bounded by the worker count.
// Outcomes are index-aligned with reqs.
func (l *Loop) fetchAll(ctx context.Context, reqs []models.GroupRequest, token string) []fetchOutcome {
	out := make([]fetchOutcome, len(reqs))
	p := pool.New().WithMaxGoroutines(l.workers)
	for i, req := range reqs {
		p.Go(func() {
			began := time.Now()
			table, err := l.fetcher.Fetch(ctx, req, token)
			out[i] = fetchOutcome{table: table, err: err, duration: time.Since(began)}
		})
	}
	p.Wait()
	return out
}

// apply merges one group's outcome. Merges run sequentially after all fetches.
func (l *Loop) apply(logger zerolog.Logger, g models.FetchGroup, o fetchOutcome, cycle uint64, frame *models.Frame) {
	key := g.String()
	logging.LogFetch(logger, key, len(o.table), o.duration, o.err)

	err := o.err
	if err == nil && len(o.table) == 0 {
		err = apperrors.NewFetchError(key, l.fetcher.Name(), apperrors.ErrEmptyResult)
	}
	if l.breakers != nil {
		l.breakers.Record(key, err)
	}
	if err != nil {
		if frame.Errors == nil {
			frame.Errors = make(map[string]string)
		}
		frame.Errors[key] = err.Error()
		metrics.ObserveFetch(outcomeOf(err), o.duration)
		return
	}

	l.cache.Merge(g, o.table, cycle)
	metrics.ObserveFetch(metrics.OutcomeOK, o.duration)
}

func outcomeOf(err error) string {
	switch {
	case apperrors.IsAuth(err):
		return metrics.OutcomeAuth
	case apperrors.Is(err, apperrors.ErrEmptyResult):
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeError
	}
}
