// Package models provides domain models for the spread terminal.
package models

import "strings"

// Exchange represents an exchange segment namespace used in instrument keys.
type Exchange string

const (
	NSEIndex Exchange = "NSE_INDEX"
	BSEIndex Exchange = "BSE_INDEX"
	NSEFO    Exchange = "NSE_FO" // F&O
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// OptionType is the contract side of a leg.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Valid reports whether t is CE or PE.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// ParseOptionType accepts CE/PE, CALL/PUT and C/P in any case.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL", "C":
		return Call, true
	case "PE", "PUT", "P":
		return Put, true
	}
	return "", false
}

// ExpiryLayout is the ISO-8601 date layout used for tile expiries and provider requests.
const ExpiryLayout = "2006-01-02"
