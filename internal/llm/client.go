package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
)

// ErrUpstream indicates the prediction endpoint returned a non-success status.
var ErrUpstream = errors.New("prediction endpoint error")

// Client defines the interface for model providers.
type Client interface {
	Predict(ctx context.Context, req PredictRequest) (Prediction, error)
}

// PredictRequest describes the merchant to classify.
type PredictRequest struct {
	Merchant string  `json:"merchant"`
	Name     string  `json:"name,omitempty"`
	Amount   float64 `json:"amount"`
}

// Prediction is the model's ranked answer for one merchant.
type Prediction struct {
	ModelVersion string           `json:"model_version"`
	Categories   []RankedCategory `json:"predictions"`
}

// RankedCategory is one category with its model score.
type RankedCategory struct {
	Category string  `json:"category"`
	Reason   string  `json:"reason,omitempty"`
	Score    float64 `json:"score"`
}

// httpClient implements Client against a JSON prediction endpoint.
type httpClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewHTTPClient creates a client that POSTs requests to endpoint.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) (Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: model endpoint", common.ErrMissingConfig)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &httpClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Predict sends one prediction request. Client errors (4xx) are marked
// permanent so retry loops stop early.
func (c *httpClient) Predict(ctx context.Context, in PredictRequest) (Prediction, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Prediction{}, common.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w (status %d): %s", ErrUpstream, resp.StatusCode, bytes.TrimSpace(raw))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Prediction{}, common.Permanent(err)
		}
		return Prediction{}, err
	}

	var out Prediction
	if err := json.Unmarshal(raw, &out); err != nil {
		return Prediction{}, common.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return out, nil
}
