// Package broker provides quote provider interfaces and implementations.
package broker

import (
	"context"
	"fmt"
	"time"

	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
)

// QuoteFetcher performs the single external lookup for one fetch group.
//
// Implementations return a non-nil error (typically *errors.FetchError) on any
// failure, including an empty payload. A failure for one group must not affect
// any other group, so fetchers hold no per-cycle state.
type QuoteFetcher interface {
	Fetch(ctx context.Context, req models.GroupRequest, token string) (models.QuoteTable, error)
	Name() string
}

// TokenSource supplies the bearer token for a cycle. The core never stores it.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token() string { return string(t) }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token calls f.
func (f TokenFunc) Token() string { return f() }

// Mode selects how groups are fetched.
type Mode string

const (
	ModeChain  Mode = "chain"  // one option-chain request per group
	ModeQuotes Mode = "quotes" // one batch-quote request per group with explicit leg keys
	ModePaper  Mode = "paper"  // synthetic prices, no network
)

// DefaultTimeout bounds every external call.
const DefaultTimeout = 1500 * time.Millisecond

// Config selects and configures a fetcher.
type Config struct {
	Mode        Mode
	Upstox      UpstoxConfig
	Underlyings *instrument.Underlyings
	Paper       PaperFetcherConfig
}

// New builds the fetcher for cfg.Mode. An empty mode means ModeChain.
func New(cfg Config) (QuoteFetcher, error) {
	switch cfg.Mode {
	case ModeChain, "":
		underlyings := cfg.Underlyings
		if underlyings == nil {
			underlyings = instrument.NewUnderlyings(nil)
		}
		return NewChainFetcher(cfg.Upstox, underlyings), nil
	case ModeQuotes:
		return NewQuotesFetcher(cfg.Upstox), nil
	case ModePaper:
		return NewPaperFetcher(cfg.Paper), nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
}

// RequiresToken reports whether fetches in mode need an access token.
func (m Mode) RequiresToken() bool {
	return m != ModePaper
}
