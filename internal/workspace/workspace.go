// Package workspace owns the tabs of tiles the terminal watches.
package workspace

import (
	"strings"
	"sync"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/pkg/utils"
)

// DefaultWorkspaceName names the tab every manager starts with.
const DefaultWorkspaceName = "Main"

// Defaults are the values a new tile starts with.
type Defaults struct {
	Underlying string
	Strategy   models.StrategyKind
	Strike     float64
	StrikeStep float64
}

// DefaultDefaults returns NIFTY vertical at 21700 with a 50 point step.
func DefaultDefaults() Defaults {
	return Defaults{
		Underlying: "NIFTY",
		Strategy:   models.Vertical,
		Strike:     21700,
		StrikeStep: 50,
	}
}

// TileSpec describes a tile to add. Zero fields take the manager defaults.
type TileSpec struct {
	Underlying string
	Expiry     string
	Strategy   models.StrategyKind
	Strike     float64
	Legs       []models.LegOverride
}

// Manager holds ordered named workspaces and the active selection.
// All reads hand out deep copies, so callers never share state with the manager.
type Manager struct {
	mu       sync.RWMutex
	order    []string
	tiles    map[string][]models.Tile
	active   string
	nextID   int
	defaults Defaults
	today    func() string
}

// NewManager creates a manager with one empty workspace per name, the first one
// active. Blank and repeated names are skipped; with none left the manager starts
// with DefaultWorkspaceName.
func NewManager(defaults Defaults, names ...string) *Manager {
	d := DefaultDefaults()
	if defaults.Underlying != "" {
		d.Underlying = strings.ToUpper(strings.TrimSpace(defaults.Underlying))
	}
	if _, ok := models.Template(defaults.Strategy); ok {
		d.Strategy = defaults.Strategy
	}
	if defaults.Strike > 0 {
		d.Strike = defaults.Strike
	}
	if defaults.StrikeStep > 0 {
		d.StrikeStep = defaults.StrikeStep
	}

	m := &Manager{
		tiles:    make(map[string][]models.Tile),
		defaults: d,
		today:    utils.TodayIST,
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := m.tiles[name]; name == "" || ok {
			continue
		}
		m.order = append(m.order, name)
		m.tiles[name] = nil
	}
	if len(m.order) == 0 {
		m.order = []string{DefaultWorkspaceName}
		m.tiles[DefaultWorkspaceName] = nil
	}
	m.active = m.order[0]
	return m
}

// Defaults returns the tile defaults.
func (m *Manager) Defaults() Defaults {
	return m.defaults
}

// Names returns workspace names in creation order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Active returns the active workspace name.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// AddWorkspace appends a workspace. Names are trimmed, non-empty and unique.
func (m *Manager) AddWorkspace(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("workspace", name, "name must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiles[name]; ok {
		return apperrors.Wrapf(apperrors.ErrWorkspaceExists, "%s", name)
	}
	m.order = append(m.order, name)
	m.tiles[name] = nil
	return nil
}

// DeleteWorkspace removes a workspace and its tiles. The last workspace cannot be
// deleted. Deleting the active workspace activates its left neighbour.
func (m *Manager) DeleteWorkspace(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(name)
	if idx < 0 {
		return apperrors.Wrapf(apperrors.ErrWorkspaceNotFound, "%s", name)
	}
	if len(m.order) == 1 {
		return apperrors.ErrLastWorkspace
	}

	m.order = append(m.order[:idx], m.order[idx+1:]...)
	delete(m.tiles, name)
	if m.active == name {
		if idx > 0 {
			idx--
		}
		m.active = m.order[idx]
	}
	return nil
}

// SetActive selects the workspace whose tiles are visible.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiles[name]; !ok {
		return apperrors.Wrapf(apperrors.ErrWorkspaceNotFound, "%s", name)
	}
	m.active = name
	return nil
}

// Visible returns the active workspace name and copies of its tiles in order.
func (m *Manager) Visible() (string, []models.Tile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, cloneTiles(m.tiles[m.active])
}

// Tiles returns copies of a workspace's tiles in order.
func (m *Manager) Tiles(workspace string) ([]models.Tile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tiles, ok := m.tiles[workspace]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrWorkspaceNotFound, "%s", workspace)
	}
	return cloneTiles(tiles), nil
}

// AddTile appends a tile to a workspace and returns it. Ids come from a
// manager-wide counter and are never reused.
func (m *Manager) AddTile(workspace string, spec TileSpec) (models.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tiles, ok := m.tiles[workspace]
	if !ok {
		return models.Tile{}, apperrors.Wrapf(apperrors.ErrWorkspaceNotFound, "%s", workspace)
	}

	t, err := m.build(spec)
	if err != nil {
		return models.Tile{}, err
	}
	m.nextID++
	t.ID = m.nextID
	m.tiles[workspace] = append(tiles, t)
	return t.Clone(), nil
}

func (m *Manager) build(spec TileSpec) (models.Tile, error) {
	t := models.Tile{
		Underlying: strings.ToUpper(strings.TrimSpace(spec.Underlying)),
		Expiry:     strings.TrimSpace(spec.Expiry),
		Strategy:   spec.Strategy,
	}
	if t.Underlying == "" {
		t.Underlying = m.defaults.Underlying
	}
	if t.Expiry == "" {
		t.Expiry = m.today()
	}
	if t.Strategy == "" {
		t.Strategy = m.defaults.Strategy
	}
	tmpl, ok := models.Template(t.Strategy)
	if !ok {
		return models.Tile{}, apperrors.NewValidationError("strategy", spec.Strategy, "unknown strategy")
	}

	strike := spec.Strike
	if strike <= 0 {
		strike = m.defaults.Strike
	}
	t.Legs = tmpl.DefaultLegs(strike)
	for i := 0; i < len(spec.Legs) && i < len(t.Legs); i++ {
		if spec.Legs[i].Strike > 0 {
			t.Legs[i].Strike = spec.Legs[i].Strike
		}
		if spec.Legs[i].Type != "" {
			if !spec.Legs[i].Type.Valid() {
				return models.Tile{}, apperrors.Wrapf(apperrors.ErrInvalidOptionType, "leg %d: %s", i, spec.Legs[i].Type)
			}
			t.Legs[i].Type = spec.Legs[i].Type
		}
	}
	return t, nil
}

// Tile returns a copy of the tile with id.
func (m *Manager) Tile(id int) (models.Tile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, idx := m.find(id)
	if idx < 0 {
		return models.Tile{}, apperrors.Wrapf(apperrors.ErrTileNotFound, "%d", id)
	}
	return m.tiles[ws][idx].Clone(), nil
}

// SetUnderlying changes a tile's underlying symbol.
func (m *Manager) SetUnderlying(id int, symbol string) (models.Tile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Tile{}, apperrors.NewValidationError("underlying", symbol, "must not be empty")
	}
	return m.update(id, func(t *models.Tile) error {
		t.Underlying = symbol
		return nil
	})
}

// SetExpiry changes a tile's expiry. The value is stored as given; a malformed
// date only means the tile resolves no identifiers and stays WAITING.
func (m *Manager) SetExpiry(id int, expiry string) (models.Tile, error) {
	return m.update(id, func(t *models.Tile) error {
		t.Expiry = strings.TrimSpace(expiry)
		return nil
	})
}

// SetStrategy switches a tile to another template and resets its legs to the new
// template's defaults at the tile's first strike.
func (m *Manager) SetStrategy(id int, kind models.StrategyKind) (models.Tile, error) {
	tmpl, ok := models.Template(kind)
	if !ok {
		return models.Tile{}, apperrors.NewValidationError("strategy", kind, "unknown strategy")
	}
	return m.update(id, func(t *models.Tile) error {
		strike := m.defaults.Strike
		if len(t.Legs) > 0 && t.Legs[0].Strike > 0 {
			strike = t.Legs[0].Strike
		}
		t.Strategy = kind
		t.Legs = tmpl.DefaultLegs(strike)
		return nil
	})
}

// SetLeg replaces the override at position pos.
func (m *Manager) SetLeg(id, pos int, leg models.LegOverride) (models.Tile, error) {
	if leg.Type != "" && !leg.Type.Valid() {
		return models.Tile{}, apperrors.Wrapf(apperrors.ErrInvalidOptionType, "%s", leg.Type)
	}
	return m.update(id, func(t *models.Tile) error {
		if err := checkLeg(t, pos); err != nil {
			return err
		}
		if leg.Type == "" {
			leg.Type = t.Legs[pos].Type
		}
		t.Legs[pos] = leg
		return nil
	})
}

// StepStrike moves the strike at pos by n strike steps. Strikes never go below one step.
func (m *Manager) StepStrike(id, pos, n int) (models.Tile, error) {
	step := m.defaults.StrikeStep
	return m.update(id, func(t *models.Tile) error {
		if err := checkLeg(t, pos); err != nil {
			return err
		}
		next := t.Legs[pos].Strike + float64(n)*step
		if next < step {
			next = step
		}
		t.Legs[pos].Strike = next
		return nil
	})
}

// RemoveTile deletes a tile from whichever workspace holds it.
func (m *Manager) RemoveTile(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, idx := m.find(id)
	if idx < 0 {
		return apperrors.Wrapf(apperrors.ErrTileNotFound, "%d", id)
	}
	tiles := m.tiles[ws]
	m.tiles[ws] = append(tiles[:idx], tiles[idx+1:]...)
	return nil
}

// Clear removes every tile from a workspace.
func (m *Manager) Clear(workspace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiles[workspace]; !ok {
		return apperrors.Wrapf(apperrors.ErrWorkspaceNotFound, "%s", workspace)
	}
	m.tiles[workspace] = nil
	return nil
}

func (m *Manager) update(id int, fn func(*models.Tile) error) (models.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, idx := m.find(id)
	if idx < 0 {
		return models.Tile{}, apperrors.Wrapf(apperrors.ErrTileNotFound, "%d", id)
	}
	t := m.tiles[ws][idx].Clone()
	if err := fn(&t); err != nil {
		return models.Tile{}, err
	}
	m.tiles[ws][idx] = t
	return t.Clone(), nil
}

// find locates a tile; callers hold the lock.
func (m *Manager) find(id int) (string, int) {
	for _, ws := range m.order {
		for i, t := range m.tiles[ws] {
			if t.ID == id {
				return ws, i
			}
		}
	}
	return "", -1
}

func (m *Manager) indexOf(name string) int {
	for i, n := range m.order {
		if n == name {
			return i
		}
	}
	return -1
}

func checkLeg(t *models.Tile, pos int) error {
	if pos < 0 || pos >= len(t.Legs) {
		return apperrors.Wrapf(apperrors.ErrLegOutOfRange, "tile %d leg %d of %d", t.ID, pos, len(t.Legs))
	}
	return nil
}

func cloneTiles(tiles []models.Tile) []models.Tile {
	out := make([]models.Tile, len(tiles))
	for i, t := range tiles {
		out[i] = t.Clone()
	}
	return out
}
