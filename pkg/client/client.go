package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rtcstats/internal/core/domain"
)

// Client uploads ended sessions to an rtcstats server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rtcstats: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("rtcstats: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.token = token
}

// SubmitSession uploads one session and returns the server's receipt.
func (c *Client) SubmitSession(ctx context.Context, sub *domain.SessionSubmission) (*domain.SubmissionReceipt, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	var receipt domain.SubmissionReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", bytes.NewReader(body), &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SubmitBatch uploads several sessions in one request. The receipt holds one
// item per session, in order; per session failures are items, not errors.
func (c *Client) SubmitBatch(ctx context.Context, subs []domain.SessionSubmission) (*domain.BatchReceipt, error) {
	body, err := json.Marshal(subs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sessions: %w", err)
	}

	var receipt domain.BatchReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/batch", bytes.NewReader(body), &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// FindSessions lists the records stored under a base client id. A base
// with no records is an *APIError with status 404.
func (c *Client) FindSessions(ctx context.Context, baseDumpID string) (*domain.SessionListing, error) {
	var listing domain.SessionListing
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(baseDumpID), nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
