package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyoto-terminal/internal/broker"
	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/quotes"
	"kyoto-terminal/internal/resilience"
)

// fakeFetcher serves canned tables per group and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	tables  map[models.FetchGroup]models.QuoteTable
	errs    map[models.FetchGroup]error
	calls   map[models.FetchGroup]int
	tokens  []string
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tables: make(map[models.FetchGroup]models.QuoteTable),
		errs:   make(map[models.FetchGroup]error),
		calls:  make(map[models.FetchGroup]int),
	}
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, req models.GroupRequest, token string) (models.QuoteTable, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Group]++
	f.tokens = append(f.tokens, token)
	if err := f.errs[req.Group]; err != nil {
		return nil, apperrors.NewFetchError(req.Group.String(), "fake", err)
	}
	return f.tables[req.Group].Clone(), nil
}

func (f *fakeFetcher) set(g models.FetchGroup, table models.QuoteTable, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[g] = table
	f.errs[g] = err
}

func (f *fakeFetcher) callCount(g models.FetchGroup) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[g]
}

const (
	nearExpiry = "2024-01-25"
	bankExpiry = "2024-01-24"
)

var (
	niftyGroup = models.NewFetchGroup("NIFTY", nearExpiry)
	bankGroup  = models.NewFetchGroup("BANKNIFTY", bankExpiry)
)

func vertical(id int, underlying, expiry string, buy, sell float64) models.Tile {
	return models.Tile{
		ID: id, Underlying: underlying, Expiry: expiry, Strategy: models.Vertical,
		Legs: []models.LegOverride{{Strike: buy, Type: models.Call}, {Strike: sell, Type: models.Call}},
	}
}

func ce(underlying, expiry string, strike float64) string {
	return instrument.Key(underlying, expiry, strike, models.Call)
}

func staticTiles(tiles ...models.Tile) TileSource {
	return TileSourceFunc(func() (string, []models.Tile) {
		out := make([]models.Tile, len(tiles))
		for i, t := range tiles {
			out[i] = t.Clone()
		}
		return "Main", out
	})
}

func TestTick_OneFetchPerGroupAndValuesEveryTile(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{
		ce("NIFTY", nearExpiry, 21700): 100,
		ce("NIFTY", nearExpiry, 21800): 60,
		ce("NIFTY", nearExpiry, 21900): 30,
	}, nil)
	f.set(bankGroup, models.QuoteTable{
		ce("BANKNIFTY", bankExpiry, 47000): 200,
		ce("BANKNIFTY", bankExpiry, 47100): 250,
	}, nil)

	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Tiles: staticTiles(
			vertical(1, "NIFTY", nearExpiry, 21700, 21800),
			vertical(2, "NIFTY", nearExpiry, 21800, 21900),
			vertical(3, "BANKNIFTY", bankExpiry, 47000, 47100),
		),
		Token: broker.StaticToken("tok"),
	})

	fr := loop.Tick(context.Background())

	assert.Equal(t, 1, f.callCount(niftyGroup))
	assert.Equal(t, 1, f.callCount(bankGroup))
	assert.Equal(t, uint64(1), fr.Cycle)
	assert.Equal(t, "Main", fr.Workspace)
	assert.Empty(t, fr.Errors)

	require.Len(t, fr.Results, 3)
	assert.Equal(t, models.StatusDebit, fr.Results[0].Status)
	assert.InDelta(t, 40.0, fr.Results[0].Magnitude, 1e-9)
	assert.Equal(t, models.StatusDebit, fr.Results[1].Status)
	assert.InDelta(t, 30.0, fr.Results[1].Magnitude, 1e-9)
	assert.Equal(t, models.StatusCredit, fr.Results[2].Status)
	assert.InDelta(t, 50.0, fr.Results[2].Magnitude, 1e-9)
}

func TestTick_FailureIsIsolatedAndKeepsLastGoodPrices(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 100, ce("NIFTY", nearExpiry, 21800): 60}, nil)
	f.set(bankGroup, models.QuoteTable{ce("BANKNIFTY", bankExpiry, 47000): 200}, nil)

	cache := quotes.New()
	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Cache:   cache,
		Tiles: staticTiles(
			vertical(1, "NIFTY", nearExpiry, 21700, 21800),
			vertical(2, "BANKNIFTY", bankExpiry, 47000, 47100),
		),
		Token: broker.StaticToken("tok"),
	})
	first := loop.Tick(context.Background())
	require.Empty(t, first.Errors)

	f.set(niftyGroup, nil, errors.New("connection reset"))
	f.set(bankGroup, models.QuoteTable{ce("BANKNIFTY", bankExpiry, 47000): 210}, nil)

	second := loop.Tick(context.Background())
	require.Len(t, second.Errors, 1)
	assert.Contains(t, second.Errors[niftyGroup.String()], "connection reset")

	// NIFTY still values from the previous cycle's prices.
	assert.Equal(t, models.StatusDebit, second.Results[0].Status)
	assert.InDelta(t, 40.0, second.Results[0].Magnitude, 1e-9)
	assert.InDelta(t, 210.0, second.Results[1].Magnitude, 1e-9)
	assert.Equal(t, map[string]uint64{niftyGroup.String(): 1}, second.Stale)
	assert.Nil(t, first.Stale)

	snap := cache.Snapshot()
	assert.Equal(t, uint64(1), snap.AsOf(niftyGroup))
	assert.Equal(t, uint64(2), snap.AsOf(bankGroup))
}

func TestTick_EmptyResultDoesNotErase(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 100}, nil)

	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Tiles:   staticTiles(vertical(1, "NIFTY", nearExpiry, 21700, 21800)),
		Token:   broker.StaticToken("tok"),
	})
	loop.Tick(context.Background())

	f.set(niftyGroup, models.QuoteTable{}, nil)
	fr := loop.Tick(context.Background())

	assert.Contains(t, fr.Errors[niftyGroup.String()], apperrors.ErrEmptyResult.Error())
	assert.InDelta(t, 100.0, fr.Results[0].Magnitude, 1e-9)
}

func TestTick_NoTokenSkipsFetchesButStillValues(t *testing.T) {
	f := newFakeFetcher()
	cache := quotes.New()
	cache.Merge(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 100, ce("NIFTY", nearExpiry, 21800): 60}, 0)

	var published []models.Frame
	loop := NewLoop(LoopConfig{
		Fetcher:   f,
		Cache:     cache,
		Tiles:     staticTiles(vertical(1, "NIFTY", nearExpiry, 21700, 21800), vertical(2, "BANKNIFTY", bankExpiry, 47000, 47100)),
		Publisher: PublisherFunc(func(fr models.Frame) { published = append(published, fr) }),
	})

	fr := loop.Tick(context.Background())

	assert.Zero(t, f.callCount(niftyGroup))
	assert.Zero(t, f.callCount(bankGroup))
	assert.Equal(t, apperrors.ErrNoToken.Error(), fr.Errors[niftyGroup.String()])
	assert.Equal(t, apperrors.ErrNoToken.Error(), fr.Errors[bankGroup.String()])
	assert.Equal(t, models.StatusDebit, fr.Results[0].Status)
	assert.Equal(t, models.StatusWaiting, fr.Results[1].Status)
	require.Len(t, published, 1)
}

func TestTick_SkipTokenCheck(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 1}, nil)

	loop := NewLoop(LoopConfig{
		Fetcher:        f,
		Tiles:          staticTiles(vertical(1, "NIFTY", nearExpiry, 21700, 21800)),
		SkipTokenCheck: true,
	})
	fr := loop.Tick(context.Background())

	assert.Empty(t, fr.Errors)
	assert.Equal(t, []string{""}, f.tokens)
}

func TestTick_TokenReadEveryCycle(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 1}, nil)

	var token atomic.Value
	token.Store("")
	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Tiles:   staticTiles(vertical(1, "NIFTY", nearExpiry, 21700, 21800)),
		Token:   broker.TokenFunc(func() string { return token.Load().(string) }),
	})

	loop.Tick(context.Background())
	assert.Zero(t, f.callCount(niftyGroup))

	token.Store("fresh")
	loop.Tick(context.Background())
	assert.Equal(t, 1, f.callCount(niftyGroup))
	assert.Equal(t, []string{"fresh"}, f.tokens)
}

func TestTick_FetchesGroupsInParallel(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 50 * time.Millisecond
	var tiles []models.Tile
	for i, sym := range []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "SENSEX"} {
		g := models.NewFetchGroup(sym, nearExpiry)
		f.set(g, models.QuoteTable{ce(sym, nearExpiry, 100): 1}, nil)
		tiles = append(tiles, vertical(i+1, sym, nearExpiry, 100, 200))
	}

	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Tiles:   staticTiles(tiles...),
		Token:   broker.StaticToken("tok"),
		Workers: 2,
	})
	fr := loop.Tick(context.Background())

	assert.Empty(t, fr.Errors)
	assert.Equal(t, int32(2), f.peak.Load())
}

func TestTick_NoTiles(t *testing.T) {
	f := newFakeFetcher()
	loop := NewLoop(LoopConfig{Fetcher: f, Token: broker.StaticToken("tok")})

	fr := loop.Tick(context.Background())
	assert.Empty(t, fr.Results)
	assert.Empty(t, fr.Errors)
}

func TestLoop_EnableDisableRun(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, models.QuoteTable{ce("NIFTY", nearExpiry, 21700): 1}, nil)

	frames := make(chan models.Frame, 100)
	loop := NewLoop(LoopConfig{
		Fetcher:   f,
		Tiles:     staticTiles(vertical(1, "NIFTY", nearExpiry, 21700, 21800)),
		Token:     broker.StaticToken("tok"),
		Publisher: PublisherFunc(func(fr models.Frame) { frames <- fr }),
		Interval:  10 * time.Millisecond,
	})
	assert.False(t, loop.Active())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Disabled: nothing is published.
	select {
	case <-frames:
		t.Fatal("disabled loop published a frame")
	case <-time.After(50 * time.Millisecond):
	}

	loop.Enable()
	loop.Enable()
	assert.True(t, loop.Active())
	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case fr := <-frames:
			assert.Greater(t, fr.Cycle, last)
			last = fr.Cycle
		case <-time.After(time.Second):
			t.Fatal("no frame while enabled")
		}
	}

	loop.Disable()
	time.Sleep(30 * time.Millisecond)
	for len(frames) > 0 {
		<-frames
	}
	stopped := loop.Cycle()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, loop.Cycle())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTick_BreakerSkipsFailingGroup(t *testing.T) {
	f := newFakeFetcher()
	f.set(niftyGroup, nil, errors.New("bad gateway"))
	f.set(bankGroup, models.QuoteTable{ce("BANKNIFTY", bankExpiry, 47000): 200}, nil)

	loop := NewLoop(LoopConfig{
		Fetcher: f,
		Tiles: staticTiles(
			vertical(1, "NIFTY", nearExpiry, 21700, 21800),
			vertical(2, "BANKNIFTY", bankExpiry, 47000, 47100),
		),
		Token:    broker.StaticToken("tok"),
		Breakers: resilience.NewGroupBreakers(resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}),
	})

	for i := 0; i < 4; i++ {
		fr := loop.Tick(context.Background())
		assert.Contains(t, fr.Errors, niftyGroup.String())
		assert.NotContains(t, fr.Errors, bankGroup.String())
	}

	assert.Equal(t, 2, f.callCount(niftyGroup))
	assert.Equal(t, 4, f.callCount(bankGroup))
}
