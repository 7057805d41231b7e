package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Transaction is one externally observed transaction to push to the
// indexer. The first signature is the transaction's canonical id.
type Transaction struct {
	Signatures []string `json:"signatures"`
}

// PushResult reports what the indexer did with a pushed batch.
type PushResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client is the HTTP client for the indexer's control API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new indexer client. The token is the shared secret
// presented as a bearer credential on every request.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// PushTransactions submits externally observed transactions for ingestion.
// The server confirms each signature on chain itself before persisting, so
// a successful push does not guarantee every transaction was ingested;
// check the returned result's message.
func (c *Client) PushTransactions(ctx context.Context, txs []Transaction) (*PushResult, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("no transactions to push")
	}

	reqBody := struct {
		Transactions []Transaction `json:"transactions"`
	}{Transactions: txs}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("pushed transactions",
		"count", len(txs),
		"success", result.Success,
		"message", result.Message,
	)
	return &result, nil
}

// Health checks the indexer's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Message string `json:"message"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Message)
}
