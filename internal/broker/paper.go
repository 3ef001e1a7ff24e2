package broker

import (
	"context"
	"math"
	"strings"
	"time"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/pkg/utils"
)

const paperPath = "paper"

// DefaultPaperSpots seeds the paper fetcher when no spot is configured.
var DefaultPaperSpots = map[string]float64{
	"NIFTY":      21700,
	"BANKNIFTY":  47000,
	"FINNIFTY":   21000,
	"MIDCPNIFTY": 10500,
	"SENSEX":     72000,
}

// PaperFetcher prices a synthetic chain with Black-Scholes so the terminal can run
// without a token. Spot drifts slowly with the clock to make the feed look live.
type PaperFetcher struct {
	spots      map[string]float64
	strikeStep float64
	vol        float64
	now        func() time.Time
}

// PaperFetcherConfig holds configuration for the paper fetcher.
type PaperFetcherConfig struct {
	Spots      map[string]float64
	StrikeStep float64
	Vol        float64
	Now        func() time.Time
}

// NewPaperFetcher creates a paper fetcher.
func NewPaperFetcher(cfg PaperFetcherConfig) *PaperFetcher {
	spots := make(map[string]float64, len(DefaultPaperSpots))
	for sym, s := range DefaultPaperSpots {
		spots[sym] = s
	}
	for sym, s := range cfg.Spots {
		spots[strings.ToUpper(sym)] = s
	}
	step := cfg.StrikeStep
	if step <= 0 {
		step = 50
	}
	vol := cfg.Vol
	if vol <= 0 {
		vol = 0.14
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PaperFetcher{spots: spots, strikeStep: step, vol: vol, now: now}
}

// Name returns the fetcher name.
func (p *PaperFetcher) Name() string { return "paper" }

// Fetch returns both sides of every strike within 20% of spot. The token is ignored.
func (p *PaperFetcher) Fetch(ctx context.Context, req models.GroupRequest, _ string) (models.QuoteTable, error) {
	g := req.Group
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewFetchError(g.String(), paperPath, err)
	}
	expiry, err := time.Parse(models.ExpiryLayout, g.Expiry)
	if err != nil {
		return nil, apperrors.NewFetchError(g.String(), paperPath, apperrors.ErrInvalidExpiry)
	}
	base, ok := p.spots[g.Underlying]
	if !ok {
		return nil, apperrors.NewFetchError(g.String(), paperPath, apperrors.ErrUnknownUnderlying)
	}

	now := p.now()
	spot := base * (1 + 0.002*math.Sin(float64(now.Unix())/30))
	// Expiry settles at 15:30 IST.
	settle := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 15, 30, 0, 0, utils.IndiaLocation)
	years := settle.Sub(now).Hours() / 24 / 365

	table := make(models.QuoteTable)
	lo := math.Floor(spot*0.8/p.strikeStep) * p.strikeStep
	hi := math.Ceil(spot*1.2/p.strikeStep) * p.strikeStep
	for k := lo; k <= hi; k += p.strikeStep {
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			price := roundTick(bsPrice(spot, k, years, 0.065, p.vol, typ))
			if price <= 0 {
				continue
			}
			if key := instrument.Key(g.Underlying, g.Expiry, k, typ); key != "" {
				table[key] = price
			}
		}
	}
	if len(table) == 0 {
		return nil, apperrors.NewFetchError(g.String(), paperPath, apperrors.ErrEmptyResult)
	}
	return table, nil
}

// bsPrice is the Black-Scholes premium; past expiry it is the intrinsic value.
func bsPrice(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if t <= 0 {
		if typ == models.Call {
			return math.Max(s-k, 0)
		}
		return math.Max(k-s, 0)
	}
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	if typ == models.Call {
		return s*normCDF(d1) - k*math.Exp(-r*t)*normCDF(d2)
	}
	return k*math.Exp(-r*t)*normCDF(-d2) - s*normCDF(-d1)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func roundTick(v float64) float64 {
	return math.Round(v*20) / 20 // NSE tick size is 0.05
}

var _ QuoteFetcher = (*PaperFetcher)(nil)
