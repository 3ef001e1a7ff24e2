// Package store provides the valuation journal.
package store

import (
	"context"
	"time"

	"kyoto-terminal/internal/models"
)

// Journal persists published frames and serves tile history.
type Journal interface {
	SaveFrame(ctx context.Context, frame models.Frame) error
	TileHistory(ctx context.Context, tileID int, limit int) ([]HistoryRow, error)
	Close() error
}

// HistoryRow is one recorded valuation of a tile.
type HistoryRow struct {
	Cycle     uint64
	Workspace string
	At        time.Time
	TileID    int
	Group     models.FetchGroup
	Strategy  models.StrategyKind
	Status    models.ValuationStatus
	Magnitude float64
	Legs      []models.LegQuote
}

// NetCost returns the signed net cost of the row.
func (r HistoryRow) NetCost() float64 {
	if r.Status == models.StatusDebit {
		return r.Magnitude
	}
	return -r.Magnitude
}
