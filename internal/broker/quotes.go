package broker

import (
	"context"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

const quotesPath = "/market-quote/quotes"

// QuotesFetcher uses the legacy batch-quote endpoint with explicit leg identifiers.
type QuotesFetcher struct {
	client *upstoxClient
}

// NewQuotesFetcher creates a batch-quote fetcher.
func NewQuotesFetcher(cfg UpstoxConfig) *QuotesFetcher {
	return &QuotesFetcher{client: newUpstoxClient(cfg)}
}

// Name returns the fetcher name.
func (f *QuotesFetcher) Name() string { return "upstox-quotes" }

type quoteEntry struct {
	LastPrice       float64 `json:"last_price"`
	InstrumentToken string  `json:"instrument_token"`
}

// Fetch issues one request for all of the group's leg identifiers.
func (f *QuotesFetcher) Fetch(ctx context.Context, req models.GroupRequest, token string) (models.QuoteTable, error) {
	fail := func(err error) (models.QuoteTable, error) {
		return nil, apperrors.NewFetchError(req.Group.String(), quotesPath, err)
	}

	keys := Dedupe(req.Keys)
	if len(keys) == 0 {
		return fail(apperrors.ErrEmptyResult)
	}

	params := url.Values{}
	params.Set("instrument_key", strings.Join(keys, ","))

	data, err := f.client.get(ctx, quotesPath, params, token)
	if err != nil {
		return fail(err)
	}

	var entries map[string]quoteEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fail(apperrors.Wrap(apperrors.ErrMalformedResponse, err.Error()))
	}

	table := mapQuotes(keys, entries)
	if len(table) == 0 {
		return fail(apperrors.ErrEmptyResult)
	}
	return table, nil
}

// mapQuotes maps response entries back onto requested identifiers. The provider
// keys its response as SEGMENT:SYMBOL while requests use SEGMENT|SYMBOL. Untraded
// contracts (zero price) are left out.
func mapQuotes(requested []string, entries map[string]quoteEntry) models.QuoteTable {
	want := make(map[string]struct{}, len(requested))
	for _, k := range requested {
		want[k] = struct{}{}
	}
	table := make(models.QuoteTable, len(entries))
	for respKey, e := range entries {
		if e.LastPrice <= 0 {
			continue
		}
		for _, candidate := range []string{e.InstrumentToken, strings.Replace(respKey, ":", "|", 1), respKey} {
			if _, ok := want[candidate]; ok {
				table[candidate] = e.LastPrice
				break
			}
		}
	}
	return table
}

// Dedupe removes duplicates and empty identifiers, keeping first-seen order.
func Dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

var _ QuoteFetcher = (*QuotesFetcher)(nil)
