package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/logging"
)

// DefaultBaseURL is the Upstox v2 REST root.
const DefaultBaseURL = "https://api.upstox.com/v2"

// UpstoxConfig holds configuration for the Upstox REST client.
type UpstoxConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// upstoxClient is the transport shared by the chain and batch-quote fetchers.
type upstoxClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger
}

func newUpstoxClient(cfg UpstoxConfig) *upstoxClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &upstoxClient{
		baseURL: baseURL,
		timeout: timeout,
		http:    client,
		logger:  logger,
	}
}

// envelope is the common Upstox response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

// get issues one GET bounded by the client timeout and returns the envelope's data.
func (c *upstoxClient) get(ctx context.Context, path string, params url.Values, token string) (json.RawMessage, error) {
	if token == "" {
		return nil, apperrors.ErrNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logging.LogAPICall(c.logger, http.MethodGet, path, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	logging.LogAPICall(c.logger, http.MethodGet, path, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, apperrors.ErrAuthRejected)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d, body: %s", resp.StatusCode, logging.Redact(truncate(body, 200)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, apperrors.ErrMalformedResponse)
	}
	if env.Status != "success" {
		msg := env.Status
		if len(env.Errors) > 0 {
			msg = env.Errors[0].ErrorCode + " " + logging.Redact(env.Errors[0].Message)
		}
		return nil, fmt.Errorf("provider status %q: %w", msg, apperrors.ErrMalformedResponse)
	}
	return env.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
