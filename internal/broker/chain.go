package broker

import (
	"context"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
)

const chainPath = "/option/chain"

// ChainFetcher fetches a whole option chain per (underlying, expiry) group.
type ChainFetcher struct {
	client      *upstoxClient
	underlyings *instrument.Underlyings
}

// NewChainFetcher creates a chain fetcher.
func NewChainFetcher(cfg UpstoxConfig, underlyings *instrument.Underlyings) *ChainFetcher {
	if underlyings == nil {
		underlyings = instrument.NewUnderlyings(nil)
	}
	return &ChainFetcher{
		client:      newUpstoxClient(cfg),
		underlyings: underlyings,
	}
}

// Name returns the fetcher name.
func (f *ChainFetcher) Name() string { return "upstox-chain" }

// chainRow is one strike of the option-chain payload.
type chainRow struct {
	Expiry      string     `json:"expiry"`
	StrikePrice float64    `json:"strike_price"`
	CallOptions *chainSide `json:"call_options"`
	PutOptions  *chainSide `json:"put_options"`
}

type chainSide struct {
	InstrumentKey string `json:"instrument_key"`
	MarketData    struct {
		LTP float64 `json:"ltp"`
	} `json:"market_data"`
}

// Fetch issues exactly one chain request for req.Group.
// Rows are keyed by the identifier the valuator derives for the same leg, not by the
// provider's own instrument_key, so lookups line up regardless of provider key format.
func (f *ChainFetcher) Fetch(ctx context.Context, req models.GroupRequest, token string) (models.QuoteTable, error) {
	g := req.Group
	fail := func(err error) (models.QuoteTable, error) {
		return nil, apperrors.NewFetchError(g.String(), chainPath, err)
	}

	if _, err := time.Parse(models.ExpiryLayout, g.Expiry); err != nil {
		return fail(apperrors.ErrInvalidExpiry)
	}
	indexKey, err := f.underlyings.IndexKey(g.Underlying)
	if err != nil {
		return fail(err)
	}

	params := url.Values{}
	params.Set("instrument_key", indexKey)
	params.Set("expiry_date", g.Expiry)

	data, err := f.client.get(ctx, chainPath, params, token)
	if err != nil {
		return fail(err)
	}

	var rows []chainRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fail(apperrors.Wrap(apperrors.ErrMalformedResponse, err.Error()))
	}

	table := parseChain(g, rows)
	if len(table) == 0 {
		return fail(apperrors.ErrEmptyResult)
	}
	return table, nil
}

// parseChain flattens rows into identifier -> ltp. Sides that are missing or have
// not traded contribute nothing.
func parseChain(g models.FetchGroup, rows []chainRow) models.QuoteTable {
	table := make(models.QuoteTable, len(rows)*2)
	for _, row := range rows {
		sides := []struct {
			typ  models.OptionType
			side *chainSide
		}{
			{models.Call, row.CallOptions},
			{models.Put, row.PutOptions},
		}
		for _, s := range sides {
			if s.side == nil || s.side.MarketData.LTP <= 0 {
				continue
			}
			key := instrument.Key(g.Underlying, g.Expiry, row.StrikePrice, s.typ)
			if key == "" {
				continue
			}
			table[key] = s.side.MarketData.LTP
		}
	}
	return table
}

var _ QuoteFetcher = (*ChainFetcher)(nil)
