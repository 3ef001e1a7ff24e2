package models

import (
	"strings"
)

// FetchGroup is a deduplicated (underlying, expiry) pair needing one external lookup.
type FetchGroup struct {
	Underlying string
	Expiry     string
}

// NewFetchGroup normalizes the underlying symbol so "nifty" and "NIFTY" share a group.
func NewFetchGroup(underlying, expiry string) FetchGroup {
	return FetchGroup{
		Underlying: strings.ToUpper(strings.TrimSpace(underlying)),
		Expiry:     strings.TrimSpace(expiry),
	}
}

func (g FetchGroup) String() string {
	return g.Underlying + "@" + g.Expiry
}

// GroupRequest is one fetch group plus the leg identifiers requested inside it.
// Keys is only consulted by the batch-quote fetcher.
type GroupRequest struct {
	Group FetchGroup
	Keys  []string
}

// QuoteTable maps instrument identifier to last traded price.
// Tables are treated as immutable once handed to the cache.
type QuoteTable map[string]float64

// Clone returns an independent copy.
func (q QuoteTable) Clone() QuoteTable {
	out := make(QuoteTable, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}
