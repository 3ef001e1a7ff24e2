// Package valuation turns a tile and a quote snapshot into a net debit or credit.
package valuation

import (
	"github.com/shopspring/decimal"

	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
)

// PriceLookup is the read side of the quote cache.
type PriceLookup interface {
	LastPrice(g models.FetchGroup, key string) (float64, bool)
}

// TableLookup serves prices from a single flat table regardless of group.
type TableLookup models.QuoteTable

// LastPrice implements PriceLookup.
func (t TableLookup) LastPrice(_ models.FetchGroup, key string) (float64, bool) {
	p, ok := t[key]
	return p, ok
}

// Value prices one tile. It is pure: the result depends only on tile and quotes.
//
// Every leg resolves its identifier and looks up its price; unresolvable or absent
// legs price at 0. Net cost is the sum of price x signed quantity. If no leg has a
// positive price the tile is WAITING. Otherwise a positive net cost is a DEBIT and
// anything else, including exactly zero, is a CREDIT.
func Value(tile models.Tile, quotes PriceLookup) models.ValuationResult {
	g := tile.Group()
	res := models.ValuationResult{
		TileID:     tile.ID,
		Underlying: g.Underlying,
		Expiry:     g.Expiry,
		Strategy:   tile.Strategy,
		Status:     models.StatusWaiting,
	}

	tmpl, ok := models.Template(tile.Strategy)
	if !ok {
		return res
	}

	net := decimal.Zero
	priced := false
	res.Legs = make([]models.LegQuote, len(tmpl.Legs))
	for i, leg := range tile.LegsFor(tmpl) {
		lq := models.LegQuote{
			Label:    tmpl.Legs[i].Label,
			Key:      instrument.Key(g.Underlying, g.Expiry, leg.Strike, leg.Type),
			Strike:   leg.Strike,
			Type:     leg.Type,
			Quantity: tmpl.Legs[i].Quantity,
		}
		if lq.Key != "" && quotes != nil {
			if p, ok := quotes.LastPrice(g, lq.Key); ok && p > 0 {
				lq.Price = p
			}
		}
		if lq.Price > 0 {
			priced = true
		}
		net = net.Add(decimal.NewFromFloat(lq.Price).Mul(decimal.NewFromInt(int64(lq.Quantity))))
		res.Legs[i] = lq
	}

	if !priced {
		return res
	}
	if net.IsPositive() {
		res.Status = models.StatusDebit
	} else {
		res.Status = models.StatusCredit
	}
	res.Magnitude = net.Abs().InexactFloat64()
	return res
}

// ValueAll prices tiles in order against the same quotes.
func ValueAll(tiles []models.Tile, quotes PriceLookup) []models.ValuationResult {
	out := make([]models.ValuationResult, len(tiles))
	for i, t := range tiles {
		out[i] = Value(t, quotes)
	}
	return out
}
