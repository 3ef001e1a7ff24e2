package models

import "time"

// LegOverride is the per-tile mutable part of a leg.
type LegOverride struct {
	Strike float64    `mapstructure:"strike" json:"strike"`
	Type   OptionType `mapstructure:"type" json:"type"`
}

// Tile is one strategy watched on a workspace.
// Legs is position-indexed against the strategy template.
type Tile struct {
	ID         int           `json:"id"`
	Underlying string        `json:"underlying"`
	Expiry     string        `json:"expiry"` // YYYY-MM-DD
	Strategy   StrategyKind  `json:"strategy"`
	Legs       []LegOverride `json:"legs"`
}

// Clone returns a deep copy so readers never share the leg slice with writers.
func (t Tile) Clone() Tile {
	legs := make([]LegOverride, len(t.Legs))
	copy(legs, t.Legs)
	t.Legs = legs
	return t
}

// Group returns the fetch group the tile belongs to.
func (t Tile) Group() FetchGroup {
	return NewFetchGroup(t.Underlying, t.Expiry)
}

// LegsFor pairs each template leg with the tile's override at the same position.
// A missing override keeps the template's default type and a zero strike, which
// later resolves to no price. An override without a type uses the default type.
func (t Tile) LegsFor(tmpl StrategyTemplate) []LegOverride {
	out := make([]LegOverride, len(tmpl.Legs))
	for i, leg := range tmpl.Legs {
		out[i] = LegOverride{Type: leg.DefaultType}
		if i < len(t.Legs) {
			out[i].Strike = t.Legs[i].Strike
			if t.Legs[i].Type != "" {
				out[i].Type = t.Legs[i].Type
			}
		}
	}
	return out
}

// Workspace is a named ordered collection of tiles.
type Workspace struct {
	Name  string `json:"name"`
	Tiles []Tile `json:"tiles"`
}

// Frame is everything published by one refresh tick.
type Frame struct {
	Cycle     uint64            `json:"cycle"`
	Workspace string            `json:"workspace"`
	At        time.Time         `json:"at"`
	Results   []ValuationResult `json:"results"`
	Errors    map[string]string `json:"errors,omitempty"` // group -> fetch error this cycle
	// Stale maps a failed group to the cycle its cached prices come from.
	Stale map[string]uint64 `json:"stale,omitempty"`
}
