package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

func TestQuotesFetcher_MapsResponseKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, quotesPath, r.URL.Path)
		keys := strings.Split(r.URL.Query().Get("instrument_key"), ",")
		assert.Equal(t, []string{"NSE_FO|NIFTY24JAN2521700CE", "NSE_FO|NIFTY24JAN2521800CE", "NSE_FO|NIFTY24JAN2521900CE"}, keys)
		w.Write([]byte(`{"status":"success","data":{
			"NSE_FO:NIFTY24JAN2521700CE": {"last_price": 100, "instrument_token": "NSE_FO|NIFTY24JAN2521700CE"},
			"NSE_FO:NIFTY24JAN2521800CE": {"last_price": 60},
			"NSE_FO:NIFTY24JAN2521900CE": {"last_price": 0}
		}}`))
	}))
	defer srv.Close()

	f := NewQuotesFetcher(UpstoxConfig{BaseURL: srv.URL, Timeout: time.Second})
	req := models.GroupRequest{
		Group: niftyGroup,
		Keys: []string{
			"NSE_FO|NIFTY24JAN2521700CE",
			"NSE_FO|NIFTY24JAN2521800CE",
			"NSE_FO|NIFTY24JAN2521700CE",
			"",
			"NSE_FO|NIFTY24JAN2521900CE",
		},
	}

	table, err := f.Fetch(context.Background(), req, "tok")
	require.NoError(t, err)
	assert.Equal(t, models.QuoteTable{
		"NSE_FO|NIFTY24JAN2521700CE": 100,
		"NSE_FO|NIFTY24JAN2521800CE": 60,
	}, table)
}

func TestQuotesFetcher_NoKeys(t *testing.T) {
	f := NewQuotesFetcher(UpstoxConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "tok")
	assert.ErrorIs(t, err, apperrors.ErrEmptyResult)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, Dedupe([]string{"b", "", "a", "b", "c", "a"}))
	assert.Empty(t, Dedupe(nil))
}

func TestNew(t *testing.T) {
	for _, mode := range []Mode{"", ModeChain} {
		f, err := New(Config{Mode: mode})
		require.NoError(t, err)
		assert.IsType(t, &ChainFetcher{}, f)
	}

	f, err := New(Config{Mode: ModeQuotes})
	require.NoError(t, err)
	assert.Equal(t, "upstox-quotes", f.Name())

	f, err = New(Config{Mode: ModePaper})
	require.NoError(t, err)
	assert.Equal(t, "paper", f.Name())

	_, err = New(Config{Mode: "kite"})
	assert.Error(t, err)

	assert.True(t, ModeChain.RequiresToken())
	assert.True(t, ModeQuotes.RequiresToken())
	assert.False(t, ModePaper.RequiresToken())
}
