package workspace

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

func newTestManager(names ...string) *Manager {
	m := NewManager(DefaultDefaults(), names...)
	m.today = func() string { return "2024-01-25" }
	return m
}

func TestNewManager_Names(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, []string{DefaultWorkspaceName}, m.Names())
	assert.Equal(t, DefaultWorkspaceName, m.Active())

	m = newTestManager(" Weekly ", "", "Monthly", "Weekly")
	assert.Equal(t, []string{"Weekly", "Monthly"}, m.Names())
	assert.Equal(t, "Weekly", m.Active())
}

func TestNewManager_FillsDefaults(t *testing.T) {
	m := NewManager(Defaults{Underlying: " banknifty ", Strategy: "bogus"})
	d := m.Defaults()
	assert.Equal(t, "BANKNIFTY", d.Underlying)
	assert.Equal(t, models.Vertical, d.Strategy)
	assert.Equal(t, 21700.0, d.Strike)
	assert.Equal(t, 50.0, d.StrikeStep)
}

func TestAddTile_Defaults(t *testing.T) {
	m := newTestManager()

	tile, err := m.AddTile(m.Active(), TileSpec{})
	require.NoError(t, err)
	assert.Equal(t, 1, tile.ID)
	assert.Equal(t, "NIFTY", tile.Underlying)
	assert.Equal(t, "2024-01-25", tile.Expiry)
	assert.Equal(t, models.Vertical, tile.Strategy)
	assert.Equal(t, []models.LegOverride{
		{Strike: 21700, Type: models.Call},
		{Strike: 21700, Type: models.Call},
	}, tile.Legs)
}

func TestAddTile_Overrides(t *testing.T) {
	m := newTestManager()

	tile, err := m.AddTile(m.Active(), TileSpec{
		Underlying: "banknifty",
		Expiry:     "2024-01-24",
		Strategy:   models.IronCondor,
		Strike:     47000,
		Legs: []models.LegOverride{
			{Strike: 46800},
			{},
			{Strike: 47200, Type: models.Put},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "BANKNIFTY", tile.Underlying)
	assert.Equal(t, []models.LegOverride{
		{Strike: 46800, Type: models.Put},
		{Strike: 47000, Type: models.Put},
		{Strike: 47200, Type: models.Put},
		{Strike: 47000, Type: models.Call},
	}, tile.Legs)

	_, err = m.AddTile(m.Active(), TileSpec{Legs: []models.LegOverride{{Type: "XX"}}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOptionType)

	_, err = m.AddTile("nope", TileSpec{})
	assert.ErrorIs(t, err, apperrors.ErrWorkspaceNotFound)

	_, err = m.AddTile(m.Active(), TileSpec{Strategy: "straddle"})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestTileIDsNeverReused(t *testing.T) {
	m := newTestManager("A", "B")
	a, _ := m.AddTile("A", TileSpec{})
	b, _ := m.AddTile("B", TileSpec{})
	require.NoError(t, m.RemoveTile(b.ID))
	c, _ := m.AddTile("A", TileSpec{})

	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 3, c.ID)

	_, err := m.Tile(b.ID)
	assert.ErrorIs(t, err, apperrors.ErrTileNotFound)
	assert.ErrorIs(t, m.RemoveTile(b.ID), apperrors.ErrTileNotFound)
}

func TestWorkspaces_AddDeleteActivate(t *testing.T) {
	m := newTestManager("A", "B", "C")

	assert.ErrorIs(t, m.AddWorkspace("B"), apperrors.ErrWorkspaceExists)
	assert.ErrorIs(t, m.AddWorkspace("  "), apperrors.ErrConfigInvalid)
	require.NoError(t, m.AddWorkspace("D"))

	require.NoError(t, m.SetActive("C"))
	require.NoError(t, m.DeleteWorkspace("C"))
	assert.Equal(t, "B", m.Active())
	assert.Equal(t, []string{"A", "B", "D"}, m.Names())

	require.NoError(t, m.SetActive("A"))
	require.NoError(t, m.DeleteWorkspace("A"))
	assert.Equal(t, "B", m.Active())

	assert.ErrorIs(t, m.SetActive("A"), apperrors.ErrWorkspaceNotFound)
	assert.ErrorIs(t, m.DeleteWorkspace("A"), apperrors.ErrWorkspaceNotFound)

	require.NoError(t, m.DeleteWorkspace("D"))
	assert.ErrorIs(t, m.DeleteWorkspace("B"), apperrors.ErrLastWorkspace)
}

func TestVisible_FollowsActiveWorkspace(t *testing.T) {
	m := newTestManager("A", "B")
	m.AddTile("A", TileSpec{Underlying: "NIFTY"})
	m.AddTile("B", TileSpec{Underlying: "SENSEX"})
	m.AddTile("B", TileSpec{Underlying: "FINNIFTY"})

	name, tiles := m.Visible()
	assert.Equal(t, "A", name)
	require.Len(t, tiles, 1)

	require.NoError(t, m.SetActive("B"))
	name, tiles = m.Visible()
	assert.Equal(t, "B", name)
	require.Len(t, tiles, 2)
	assert.Equal(t, "SENSEX", tiles[0].Underlying)
	assert.Equal(t, "FINNIFTY", tiles[1].Underlying)

	require.NoError(t, m.Clear("B"))
	_, tiles = m.Visible()
	assert.Empty(t, tiles)
}

func TestVisible_ReturnsCopies(t *testing.T) {
	m := newTestManager()
	tile, _ := m.AddTile(m.Active(), TileSpec{})

	_, tiles := m.Visible()
	tiles[0].Legs[0].Strike = 1
	tiles[0].Underlying = "X"

	got, err := m.Tile(tile.ID)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", got.Underlying)
	assert.Equal(t, 21700.0, got.Legs[0].Strike)
}

func TestEditTile(t *testing.T) {
	m := newTestManager()
	tile, _ := m.AddTile(m.Active(), TileSpec{Strike: 21800})

	got, err := m.SetUnderlying(tile.ID, " banknifty")
	require.NoError(t, err)
	assert.Equal(t, "BANKNIFTY", got.Underlying)
	_, err = m.SetUnderlying(tile.ID, "")
	assert.Error(t, err)

	got, err = m.SetExpiry(tile.ID, "someday")
	require.NoError(t, err)
	assert.Equal(t, "someday", got.Expiry)

	got, err = m.SetLeg(tile.ID, 1, models.LegOverride{Strike: 21900})
	require.NoError(t, err)
	assert.Equal(t, models.LegOverride{Strike: 21900, Type: models.Call}, got.Legs[1])

	got, err = m.SetLeg(tile.ID, 0, models.LegOverride{Strike: 21800, Type: models.Put})
	require.NoError(t, err)
	assert.Equal(t, models.Put, got.Legs[0].Type)

	_, err = m.SetLeg(tile.ID, 2, models.LegOverride{Strike: 1})
	assert.ErrorIs(t, err, apperrors.ErrLegOutOfRange)
	_, err = m.SetLeg(tile.ID, -1, models.LegOverride{Strike: 1})
	assert.ErrorIs(t, err, apperrors.ErrLegOutOfRange)
	_, err = m.SetLeg(tile.ID, 0, models.LegOverride{Type: "FUT"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOptionType)
}

func TestSetStrategy_ResetsLegs(t *testing.T) {
	m := newTestManager()
	tile, _ := m.AddTile(m.Active(), TileSpec{Strike: 21800})
	m.SetLeg(tile.ID, 1, models.LegOverride{Strike: 22000})

	got, err := m.SetStrategy(tile.ID, models.Butterfly)
	require.NoError(t, err)
	assert.Equal(t, models.Butterfly, got.Strategy)
	assert.Equal(t, []models.LegOverride{
		{Strike: 21800, Type: models.Call},
		{Strike: 21800, Type: models.Call},
		{Strike: 21800, Type: models.Call},
	}, got.Legs)

	_, err = m.SetStrategy(tile.ID, "strangle")
	assert.Error(t, err)
	_, err = m.SetStrategy(99, models.Vertical)
	assert.ErrorIs(t, err, apperrors.ErrTileNotFound)
}

func TestStepStrike(t *testing.T) {
	m := newTestManager()
	tile, _ := m.AddTile(m.Active(), TileSpec{Strike: 100})

	got, err := m.StepStrike(tile.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.Legs[1].Strike)

	got, err = m.StepStrike(tile.ID, 0, -10)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Legs[0].Strike)

	_, err = m.StepStrike(tile.ID, 5, 1)
	assert.ErrorIs(t, err, apperrors.ErrLegOutOfRange)
}

// Property: after any sequence of adds and removes, tile ids across all
// workspaces are unique and every tile has exactly one override per template leg.
func TestProperty_TileIDsUniqueAndLegsAligned(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	kinds := models.StrategyKinds()

	properties.Property("ids unique and legs aligned", prop.ForAll(
		func(ops []int) bool {
			m := newTestManager("A", "B")
			var ids []int
			for _, op := range ops {
				ws := []string{"A", "B"}[op%2]
				switch {
				case op%5 == 4 && len(ids) > 0:
					m.RemoveTile(ids[0])
					ids = ids[1:]
				case op%7 == 6 && len(ids) > 0:
					m.SetStrategy(ids[len(ids)-1], kinds[op%len(kinds)])
				default:
					tile, err := m.AddTile(ws, TileSpec{Strategy: kinds[op%len(kinds)]})
					if err != nil {
						return false
					}
					ids = append(ids, tile.ID)
				}
			}

			seen := map[int]bool{}
			for _, ws := range m.Names() {
				tiles, _ := m.Tiles(ws)
				for _, tile := range tiles {
					if seen[tile.ID] {
						return false
					}
					seen[tile.ID] = true
					tmpl, _ := models.Template(tile.Strategy)
					if len(tile.Legs) != len(tmpl.Legs) {
						return false
					}
				}
			}
			return len(seen) == len(ids)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
