// Package instrument derives canonical provider identifiers for option contracts.
package instrument

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

// Prefix namespaces every option identifier under the NSE derivatives segment.
const Prefix = string(models.NSEFO) + "|"

// Resolve builds the identifier, e.g. NIFTY 2024-01-25 21700 CE -> NSE_FO|NIFTY24JAN2521700CE.
// The strike is truncated to an integer before formatting.
func Resolve(underlying, expiry string, strike float64, typ models.OptionType) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(underlying))
	if sym == "" {
		return "", apperrors.NewResolutionError(underlying, expiry, strike, string(typ), apperrors.ErrUnknownUnderlying)
	}
	date, err := time.Parse(models.ExpiryLayout, strings.TrimSpace(expiry))
	if err != nil {
		return "", apperrors.NewResolutionError(underlying, expiry, strike, string(typ), apperrors.ErrInvalidExpiry)
	}
	if math.IsNaN(strike) || math.IsInf(strike, 0) || math.Trunc(strike) <= 0 || strike > math.MaxInt32 {
		return "", apperrors.NewResolutionError(underlying, expiry, strike, string(typ), apperrors.ErrInvalidStrike)
	}
	if !typ.Valid() {
		return "", apperrors.NewResolutionError(underlying, expiry, strike, string(typ), apperrors.ErrInvalidOptionType)
	}

	month := strings.ToUpper(date.Format("Jan"))
	return fmt.Sprintf("%s%s%s%s%s%d%s",
		Prefix, sym, date.Format("06"), month, date.Format("02"), int64(strike), typ), nil
}

// Key is the total form of Resolve: any failure yields the empty sentinel.
// Callers treat "" exactly like "no price available" for that leg.
func Key(underlying, expiry string, strike float64, typ models.OptionType) string {
	k, err := Resolve(underlying, expiry, strike, typ)
	if err != nil {
		return ""
	}
	return k
}
