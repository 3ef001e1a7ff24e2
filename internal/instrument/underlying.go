package instrument

import (
	"strings"
	"sync"

	apperrors "kyoto-terminal/internal/errors"
)

// DefaultUnderlyings maps index symbols to the provider's spot instrument key,
// used as the instrument_key of option-chain requests.
var DefaultUnderlyings = map[string]string{
	"NIFTY":      "NSE_INDEX|Nifty 50",
	"BANKNIFTY":  "NSE_INDEX|Nifty Bank",
	"FINNIFTY":   "NSE_INDEX|Nifty Fin Service",
	"MIDCPNIFTY": "NSE_INDEX|NIFTY MID SELECT",
	"SENSEX":     "BSE_INDEX|SENSEX",
}

// Underlyings resolves underlying symbols to index keys.
type Underlyings struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewUnderlyings starts from DefaultUnderlyings and applies overrides.
func NewUnderlyings(overrides map[string]string) *Underlyings {
	keys := make(map[string]string, len(DefaultUnderlyings)+len(overrides))
	for sym, key := range DefaultUnderlyings {
		keys[sym] = key
	}
	for sym, key := range overrides {
		keys[strings.ToUpper(strings.TrimSpace(sym))] = key
	}
	return &Underlyings{keys: keys}
}

// IndexKey returns the spot instrument key for symbol.
func (u *Underlyings) IndexKey(symbol string) (string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	key, ok := u.keys[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "", apperrors.Wrapf(apperrors.ErrUnknownUnderlying, "%s", symbol)
	}
	return key, nil
}

// Symbols returns the configured symbols.
func (u *Underlyings) Symbols() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.keys))
	for sym := range u.keys {
		out = append(out, sym)
	}
	return out
}
