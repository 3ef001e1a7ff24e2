package quotes

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyoto-terminal/internal/models"
)

var (
	nifty = models.NewFetchGroup("NIFTY", "2024-01-25")
	bank  = models.NewFetchGroup("BANKNIFTY", "2024-01-24")
)

func TestCache_MergeAndLookup(t *testing.T) {
	c := New()
	changed := c.Merge(nifty, models.QuoteTable{"A": 100, "B": 60}, 1)
	require.True(t, changed)

	snap := c.Snapshot()
	p, ok := snap.LastPrice(nifty, "A")
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)

	_, ok = snap.LastPrice(bank, "A")
	assert.False(t, ok, "lookups are scoped to their group")
	assert.Equal(t, uint64(1), snap.AsOf(nifty))
	assert.Equal(t, uint64(0), snap.AsOf(bank))
}

func TestCache_EmptyMergeKeepsPreviousData(t *testing.T) {
	c := New()
	c.Merge(nifty, models.QuoteTable{"A": 100}, 1)

	assert.False(t, c.Merge(nifty, nil, 2))
	assert.False(t, c.Merge(nifty, models.QuoteTable{}, 3))

	p, ok := c.Snapshot().LastPrice(nifty, "A")
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)
	assert.Equal(t, uint64(1), c.Snapshot().AsOf(nifty))
}

func TestCache_MergeReplacesGroup(t *testing.T) {
	c := New()
	c.Merge(nifty, models.QuoteTable{"A": 100, "B": 60}, 1)
	c.Merge(nifty, models.QuoteTable{"A": 101}, 2)

	snap := c.Snapshot()
	p, _ := snap.LastPrice(nifty, "A")
	assert.Equal(t, 101.0, p)
	_, ok := snap.LastPrice(nifty, "B")
	assert.False(t, ok)
}

func TestCache_SnapshotIsIsolated(t *testing.T) {
	c := New()
	table := models.QuoteTable{"A": 100}
	c.Merge(nifty, table, 1)
	snap := c.Snapshot()

	table["A"] = 1 // caller mutation after merge
	c.Merge(nifty, models.QuoteTable{"A": 200}, 2)
	c.Clear()

	p, ok := snap.LastPrice(nifty, "A")
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)
}

func TestCache_ClearAndGroups(t *testing.T) {
	c := New()
	c.Merge(nifty, models.QuoteTable{"A": 1}, 1)
	c.Merge(bank, models.QuoteTable{"B": 2, "C": 3}, 1)

	groups := c.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, bank, groups[0].Group)
	assert.Equal(t, 2, groups[0].Entries)
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Snapshot().LastPrice(nifty, "A")
	assert.False(t, ok)
}

// Property: a sequence of merges where some fetches failed (nil table) never
// loses data for a group. Each group holds the table of its last successful
// merge, and groups that were never merged in a cycle are untouched.
func TestProperty_CacheMonotonicOnFailure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	groups := []models.FetchGroup{nifty, bank, models.NewFetchGroup("FINNIFTY", "2024-01-30")}

	stepGen := gen.SliceOf(gen.IntRange(0, 59))

	properties.Property("last successful table wins per group", prop.ForAll(
		func(steps []int) bool {
			c := New()
			want := make(map[models.FetchGroup]float64)
			for cycle, s := range steps {
				g := groups[s%len(groups)]
				failed := (s/3)%2 == 1
				if failed {
					c.Merge(g, nil, uint64(cycle+1))
					continue
				}
				price := float64(s + 1)
				c.Merge(g, models.QuoteTable{"K": price}, uint64(cycle+1))
				want[g] = price
			}

			snap := c.Snapshot()
			for _, g := range groups {
				p, ok := snap.LastPrice(g, "K")
				exp, merged := want[g]
				if ok != merged || (merged && p != exp) {
					return false
				}
			}
			return c.Len() == len(want)
		},
		stepGen,
	))

	properties.TestingRun(t)
}
