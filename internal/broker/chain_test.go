package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
)

const chainPayload = `{
  "status": "success",
  "data": [
    {"expiry": "2024-01-25", "strike_price": 21700,
     "call_options": {"instrument_key": "NSE_FO|43885", "market_data": {"ltp": 112.5}},
     "put_options":  {"instrument_key": "NSE_FO|43886", "market_data": {"ltp": 98.05}}},
    {"expiry": "2024-01-25", "strike_price": 21800,
     "call_options": {"instrument_key": "NSE_FO|43887", "market_data": {"ltp": 64}},
     "put_options":  {"instrument_key": "NSE_FO|43888", "market_data": {"ltp": 0}}},
    {"expiry": "2024-01-25", "strike_price": 21900,
     "call_options": null}
  ]
}`

var niftyGroup = models.NewFetchGroup("NIFTY", "2024-01-25")

func newTestChain(t *testing.T, handler http.HandlerFunc) *ChainFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChainFetcher(UpstoxConfig{BaseURL: srv.URL, Timeout: time.Second}, instrument.NewUnderlyings(nil))
}

func TestChainFetcher_ParsesChain(t *testing.T) {
	f := newTestChain(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chainPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "NSE_INDEX|Nifty 50", r.URL.Query().Get("instrument_key"))
		assert.Equal(t, "2024-01-25", r.URL.Query().Get("expiry_date"))
		w.Write([]byte(chainPayload))
	})

	table, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "tok")
	require.NoError(t, err)

	assert.Equal(t, models.QuoteTable{
		"NSE_FO|NIFTY24JAN2521700CE": 112.5,
		"NSE_FO|NIFTY24JAN2521700PE": 98.05,
		"NSE_FO|NIFTY24JAN2521800CE": 64,
	}, table)
}

func TestChainFetcher_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"status":"error"}`, apperrors.ErrAuthRejected},
		{"forbidden", http.StatusForbidden, ``, apperrors.ErrAuthRejected},
		{"empty chain", http.StatusOK, `{"status":"success","data":[]}`, apperrors.ErrEmptyResult},
		{"untraded chain", http.StatusOK, `{"status":"success","data":[{"strike_price":21700,"call_options":{"market_data":{"ltp":0}}}]}`, apperrors.ErrEmptyResult},
		{"bad json", http.StatusOK, `{"status":`, apperrors.ErrMalformedResponse},
		{"provider error", http.StatusOK, `{"status":"error","errors":[{"errorCode":"UDAPI100","message":"bad"}]}`, apperrors.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestChain(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			table, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "tok")
			require.Error(t, err)
			assert.Nil(t, table)
			assert.ErrorIs(t, err, tt.wantErr)

			var fe *apperrors.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, niftyGroup.String(), fe.Group)
		})
	}
}

func TestChainFetcher_NoTokenSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	f := newTestChain(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "")
	assert.ErrorIs(t, err, apperrors.ErrNoToken)
	assert.True(t, apperrors.IsAuth(err))
	assert.Zero(t, hits.Load())
}

func TestChainFetcher_InvalidGroupSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	f := newTestChain(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := f.Fetch(context.Background(), models.GroupRequest{Group: models.NewFetchGroup("NIFTY", "25-01-2024")}, "tok")
	assert.ErrorIs(t, err, apperrors.ErrInvalidExpiry)

	_, err = f.Fetch(context.Background(), models.GroupRequest{Group: models.NewFetchGroup("ACME", "2024-01-25")}, "tok")
	assert.ErrorIs(t, err, apperrors.ErrUnknownUnderlying)

	assert.Zero(t, hits.Load())
}

func TestChainFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := NewChainFetcher(UpstoxConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChainFetcher_RedactsErrorBody(t *testing.T) {
	f := newTestChain(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream rejected Authorization: Bearer abcdefghijklmnop`))
	})

	_, err := f.Fetch(context.Background(), models.GroupRequest{Group: niftyGroup}, "tok")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "abcdefghijklmnop")
	assert.Contains(t, err.Error(), "status 502")
}
