package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
	// JobID is set when a start failed after the job row was written.
	JobID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrInsufficientCredits && e.Status == http.StatusPaymentRequired
}

type StartResult struct {
	JobID        string `json:"job_id"`
	PredictionID string `json:"prediction_id"`
	Status       string `json:"status"`
	// Credits is the balance after the start was charged.
	Credits int `json:"credits"`
}

// Client talks to the restoration API on behalf of one signed-in user.
type Client struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

// NewClient reads the user id from the access token's subject. The token is
// verified by the API, not here.
func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("access token has no subject")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v1",
		token:      token,
		userID:     claims.Subject,
		httpClient: httpClient,
	}, nil
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/restorations", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) StartRestoration(ctx context.Context, imagePath string) (StartResult, error) {
	var out StartResult
	err := c.do(ctx, http.MethodPost, "/restorations", map[string]string{
		"user_id":    c.userID,
		"image_path": imagePath,
	}, &out)
	return out, err
}

func (c *Client) CancelRestoration(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/restorations/cancel", map[string]string{
		"user_id": c.userID,
		"job_id":  jobID,
	}, nil)
}

type balanceResponse struct {
	Credits int `json:"credits"`
}

func (c *Client) Credits(ctx context.Context) (int, error) {
	var out balanceResponse
	err := c.do(ctx, http.MethodGet, "/credits", nil, &out)
	return out.Credits, err
}

func (c *Client) RefundCredits(ctx context.Context, jobID string) (int, error) {
	var out balanceResponse
	err := c.do(ctx, http.MethodPost, "/credits/refund", map[string]string{"job_id": jobID}, &out)
	return out.Credits, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	if gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		if msg := doc.Get("error").String(); msg != "" {
			apiErr.Message = msg
		}
		apiErr.JobID = doc.Get("job_id").String()
	}
	return apiErr
}
