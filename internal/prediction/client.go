// Package prediction talks to the hosted restoration model: creating
// predictions with a completion webhook, cancelling them, and decoding the
// webhook callbacks.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photorestore/internal/config"
)

var (
	ErrNotConfigured = errors.New("prediction service not configured")
	ErrUpstream      = errors.New("prediction service error")
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Final reports whether the upstream will send no further updates.
func (s Status) Final() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type Prediction struct {
	ID     string
	Status Status
}

type Client struct {
	baseURL    string
	token      string
	version    string
	webhookURL string
	httpClient *http.Client
}

func NewClient(cfg config.PredictionConfig, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" || cfg.ModelVersion == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		version:    cfg.ModelVersion,
		webhookURL: cfg.WebhookURL,
		httpClient: httpClient,
	}, nil
}

type createRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Create starts a restoration of the image at imageURL. The webhook URL
// carries jobID so a callback can be matched before the prediction id is
// stored.
func (c *Client) Create(ctx context.Context, jobID, imageURL string) (Prediction, error) {
	body := createRequest{
		Version: c.version,
		Input:   map[string]any{"img": imageURL, "version": "v1.4", "scale": 2},
	}
	if c.webhookURL != "" {
		hook, err := webhookFor(c.webhookURL, jobID)
		if err != nil {
			return Prediction{}, err
		}
		body.Webhook = hook
		body.WebhookEventsFilter = []string{"completed"}
	}

	var resp predictionResponse
	if err := c.post(ctx, "/v1/predictions", body, &resp); err != nil {
		return Prediction{}, err
	}
	if resp.ID == "" {
		return Prediction{}, fmt.Errorf("%w: empty prediction id", ErrUpstream)
	}
	return Prediction{ID: resp.ID, Status: resp.Status}, nil
}

func webhookFor(base, jobID string) (string, error) {
	if jobID == "" {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("webhook url: %w", err)
	}
	q := u.Query()
	q.Set(WebhookJobParam, jobID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Cancel asks the upstream to stop a running prediction.
func (c *Client) Cancel(ctx context.Context, predictionID string) error {
	if predictionID == "" {
		return fmt.Errorf("%w: empty prediction id", ErrUpstream)
	}
	return c.post(ctx, "/v1/predictions/"+predictionID+"/cancel", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
