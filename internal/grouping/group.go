// Package grouping reduces a set of tiles to the minimal set of external lookups.
package grouping

import (
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
)

// Group returns one request per distinct (underlying, expiry) pair, in first-seen order.
// The number of requests never depends on how many tiles or legs share a pair.
// Each request also carries the deduplicated leg identifiers of its group; legs whose
// identifier resolves to the empty sentinel are left out.
func Group(tiles []models.Tile) []models.GroupRequest {
	index := make(map[models.FetchGroup]int)
	seen := make(map[string]struct{})
	var out []models.GroupRequest

	for _, tile := range tiles {
		g := tile.Group()
		i, ok := index[g]
		if !ok {
			i = len(out)
			index[g] = i
			out = append(out, models.GroupRequest{Group: g})
		}

		tmpl, ok := models.Template(tile.Strategy)
		if !ok {
			continue
		}
		for _, leg := range tile.LegsFor(tmpl) {
			key := instrument.Key(g.Underlying, g.Expiry, leg.Strike, leg.Type)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out[i].Keys = append(out[i].Keys, key)
		}
	}
	return out
}

// Groups is Group without the per-leg identifiers.
func Groups(tiles []models.Tile) []models.FetchGroup {
	reqs := Group(tiles)
	out := make([]models.FetchGroup, len(reqs))
	for i, r := range reqs {
		out[i] = r.Group
	}
	return out
}
