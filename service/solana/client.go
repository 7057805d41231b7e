package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/ratelimit"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxRetries  = 5
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 8 * time.Second

	// Pool diagnostics fire when this many requests are in flight.
	poolSaturationThreshold = 8
)

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client is a pooled, retrying JSON-RPC client for a Solana endpoint.
// Every outbound call is admitted through the shared rate limiter before
// it touches the network, and transport failures are retried with
// exponential backoff up to a fixed attempt cap.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *ratelimit.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger

	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	reqID atomic.Uint64

	// Transport saturation counters, observed by the diagnostics loop.
	inFlight       atomic.Int64
	waitingForConn atomic.Int64
	connsReused    atomic.Int64
	connsOpened    atomic.Int64
}

// NewClient creates a JSON-RPC client over a pooled keep-alive transport.
// The limiter is shared by every caller of this client, so admission
// accounts for aggregate demand (live subscription + backfill + sampler).
// If m is nil, no metrics are recorded.
func NewClient(endpoint string, limiter *ratelimit.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: transport,
		},
		limiter:     limiter,
		metrics:     m,
		logger:      logger,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
}

func (c *Client) nextID() uint64 {
	return c.reqID.Add(1)
}

// StartPoolDiagnostics logs transport saturation above a threshold on a
// fixed interval until ctx is done. Observability only.
func (c *Client) StartPoolDiagnostics(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inFlight := c.inFlight.Load()
				waiting := c.waitingForConn.Load()
				if inFlight >= poolSaturationThreshold || waiting > 0 {
					c.logger.Warn("rpc connection pool saturation",
						"in_flight", inFlight,
						"waiting_for_conn", waiting,
						"conns_reused", c.connsReused.Load(),
						"conns_opened", c.connsOpened.Load(),
					)
				}
			}
		}
	}()
}

// doRequest sends one HTTP POST carrying a JSON-RPC payload (single or
// batch). Admission is acquired before the send and released when the
// response has been read, regardless of outcome. Transient failures are
// retried with capped exponential backoff; exhaustion surfaces the last
// error to the caller.
func (c *Client) doRequest(ctx context.Context, method string, payload []byte) ([]byte, error) {
	acquireStart := time.Now()
	release, err := c.limiter.Acquire(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	defer release()
	c.metrics.RecordLimiterWait(method, time.Since(acquireStart).Seconds())

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff << uint(attempt-1)
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			c.metrics.RecordRPCRetry(method, "transient")
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := c.send(ctx, method, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}
		c.logger.Warn("rpc request failed, will retry",
			"method", method,
			"attempt", attempt+1,
			"error", err,
		)
	}

	c.logger.Error("rpc request failed after retries", "method", method, "error", lastErr)
	return nil, lastErr
}

// httpStatusError marks a non-2xx response so the retry loop can
// distinguish transient statuses from hard failures.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rpc status %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	if se, ok := err.(*httpStatusError); ok {
		return transientStatus(se.code)
	}
	// Network-level errors (timeouts, resets) are treated as transient.
	return true
}

func (c *Client) send(ctx context.Context, method string, payload []byte) ([]byte, error) {
	trace := &httptrace.ClientTrace{
		GetConn: func(string) { c.waitingForConn.Add(1) },
		GotConn: func(info httptrace.GotConnInfo) {
			c.waitingForConn.Add(-1)
			if info.Reused {
				c.connsReused.Add(1)
			} else {
				c.connsOpened.Add(1)
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace),
		http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.inFlight.Add(1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	c.inFlight.Add(-1)

	if err != nil {
		c.metrics.RecordRPCCall(method, "error", duration)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.metrics.RecordRPCCall(method, "error", duration)
		if resp.StatusCode == http.StatusTooManyRequests {
			if delay, ok := retryAfterDelay(resp.Header.Get("Retry-After")); ok {
				// Respect the server's hint before the next attempt.
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &httpStatusError{code: resp.StatusCode, body: string(snippet)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordRPCCall(method, "error", duration)
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.metrics.RecordRPCCall(method, "success", duration)
	return body, nil
}

func retryAfterDelay(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// call issues a single JSON-RPC request and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	body, err := c.doRequest(ctx, method, payload)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// GetSignaturesParams configures one page of signature listing.
type GetSignaturesParams struct {
	Before string
	Limit  int
}

// GetSignatures returns one page of signature metadata for an address,
// newest first. Page backward by passing the oldest signature of the
// previous page as Before.
func (c *Client) GetSignatures(ctx context.Context, address string, params GetSignaturesParams) ([]SignatureInfo, error) {
	opts := map[string]any{
		"limit":      params.Limit,
		"commitment": "confirmed",
	}
	if params.Before != "" {
		opts["before"] = params.Before
	}

	var out []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []any{address, opts}, &out); err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress %s: %w", address, err)
	}
	return out, nil
}

// GetBatchTransactions resolves many transactions in a single JSON-RPC
// batch request. The returned slice is aligned with the input: slot i is
// nil when signature i could not be resolved (skipped or dropped
// transactions are not retried at this layer).
func (c *Client) GetBatchTransactions(ctx context.Context, signatures []string) ([]*RawTransaction, error) {
	if len(signatures) == 0 {
		return nil, nil
	}

	requests := make([]rpcRequest, 0, len(signatures))
	idToIndex := make(map[uint64]int, len(signatures))
	for i, sig := range signatures {
		id := c.nextID()
		idToIndex[id] = i
		requests = append(requests, rpcRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "getTransaction",
			Params: []any{
				sig,
				map[string]any{
					"encoding":                       "base64",
					"commitment":                     "confirmed",
					"maxSupportedTransactionVersion": 0,
				},
			},
		})
	}

	payload, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	c.metrics.RecordRPCBatchSize("getTransaction", len(requests))
	body, err := c.doRequest(ctx, "getTransaction", payload)
	if err != nil {
		return nil, err
	}

	var responses []rpcResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	results := make([]*RawTransaction, len(signatures))
	for _, resp := range responses {
		idx, ok := idToIndex[resp.ID]
		if !ok {
			continue
		}
		sig := signatures[idx]
		if resp.Error != nil {
			c.logger.Warn("transaction unresolvable", "signature", sig, "error", resp.Error)
			continue
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			continue
		}
		var result transactionResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.logger.Warn("malformed transaction result", "signature", sig, "error", err)
			continue
		}
		raw, err := result.decode(sig)
		if err != nil {
			c.logger.Warn("failed to decode transaction", "signature", sig, "error", err)
			continue
		}
		results[idx] = raw
	}

	return results, nil
}

// GetConfirmation polls the chain for a signature's confirmation status.
// Confirmed or finalized commitment counts as success. After maxRetries
// polls spaced by a fixed retryDelay it returns (nil, nil): not an error,
// the signature just never confirmed while we watched.
func (c *Client) GetConfirmation(ctx context.Context, signature string, maxRetries int, retryDelay time.Duration) (*SignatureStatus, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var out contextWrapped[[]*SignatureStatus]
		err := c.call(ctx, "getSignatureStatuses",
			[]any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}, &out)
		if err != nil {
			return nil, fmt.Errorf("getSignatureStatuses %s: %w", signature, err)
		}

		if len(out.Value) > 0 && out.Value[0].Confirmed() {
			return out.Value[0], nil
		}
	}

	c.logger.Debug("signature did not confirm within retry budget", "signature", signature)
	return nil, nil
}

// GetBalance returns the lamport balance of an address.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var out contextWrapped[uint64]
	err := c.call(ctx, "getBalance", []any{address, map[string]any{"commitment": "confirmed"}}, &out)
	if err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", address, err)
	}
	return out.Value, nil
}

// GetAccountInfo fetches one account with base64-encoded data. Returns
// nil when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var out contextWrapped[*AccountInfo]
	err := c.call(ctx, "getAccountInfo",
		[]any{address, map[string]any{"encoding": "base64", "commitment": "confirmed"}}, &out)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	return out.Value, nil
}

// GetMultipleAccounts fetches many accounts in one call. The result is
// aligned with the input; missing accounts are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string) ([]*AccountInfo, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	var out contextWrapped[[]*AccountInfo]
	err := c.call(ctx, "getMultipleAccounts",
		[]any{addresses, map[string]any{"encoding": "base64", "commitment": "confirmed"}}, &out)
	if err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	return out.Value, nil
}

// GetTokenAccountsByOwner lists the token accounts owned by an address
// under the given token program.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenAccount, error) {
	var out contextWrapped[[]TokenAccount]
	err := c.call(ctx, "getTokenAccountsByOwner",
		[]any{
			owner,
			map[string]any{"programId": programID},
			map[string]any{"encoding": "base64", "commitment": "confirmed"},
		}, &out)
	if err != nil {
		return nil, fmt.Errorf("getTokenAccountsByOwner %s: %w", owner, err)
	}
	return out.Value, nil
}
