package wealth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memeroyale/indexer/service/metrics"
)

const (
	// maxQueryLength bounds the serialized query string; oracles reject
	// over-long GET URLs, so id lists are chunked under this budget.
	maxQueryLength = 4000

	priceMaxRetries  = 5
	priceBaseBackoff = 300 * time.Millisecond
)

// priceQuote mirrors the oracle's per-token response entry.
type priceQuote struct {
	ID    string      `json:"id"`
	Price json.Number `json:"price"`
}

type priceResponse struct {
	Data map[string]priceQuote `json:"data"`
}

// PriceClient looks up USD token prices from an HTTP oracle. Quotes are
// requested against a fixed vs-token (USDC), comma-joined, chunked so
// each request's query string stays under the URL budget.
type PriceClient struct {
	baseURL    string
	vsToken    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger

	baseBackoff time.Duration
}

func NewPriceClient(baseURL, vsToken string, m *metrics.Metrics, logger *slog.Logger) *PriceClient {
	return &PriceClient{
		baseURL:     baseURL,
		vsToken:     vsToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		metrics:     m,
		logger:      logger,
		baseBackoff: priceBaseBackoff,
	}
}

// GetPrices resolves prices for the given mints. A mint absent from the
// result had no quote; a whole chunk failing after retries drops that
// chunk's mints from the result rather than failing the lookup.
func (c *PriceClient) GetPrices(ctx context.Context, mints []string) (map[string]*big.Rat, error) {
	prices := make(map[string]*big.Rat, len(mints))

	var chunk []string
	for _, mint := range mints {
		candidate := append(chunk[:len(chunk):len(chunk)], mint)
		if len(chunk) > 0 && len(c.queryURL(candidate)) > maxQueryLength {
			c.fetchChunk(ctx, chunk, prices)
			chunk = []string{mint}
		} else {
			chunk = candidate
		}
	}
	if len(chunk) > 0 {
		c.fetchChunk(ctx, chunk, prices)
	}

	return prices, nil
}

func (c *PriceClient) queryURL(mints []string) string {
	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))
	q.Set("vsToken", c.vsToken)
	return c.baseURL + "?" + q.Encode()
}

// fetchChunk requests one chunk with exponential-backoff retries and
// merges resolvable quotes into out. Exhausting retries logs and skips
// the chunk.
func (c *PriceClient) fetchChunk(ctx context.Context, mints []string, out map[string]*big.Rat) {
	requestURL := c.queryURL(mints)

	var lastErr error
	for attempt := 0; attempt < priceMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff << uint(attempt-1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		resp, err := c.fetchOnce(ctx, requestURL)
		if err != nil {
			lastErr = err
			continue
		}

		for _, mint := range mints {
			quote, ok := resp.Data[mint]
			if !ok {
				continue
			}
			price, ok := new(big.Rat).SetString(quote.Price.String())
			if !ok || price.Sign() <= 0 {
				continue
			}
			out[mint] = price
		}
		c.metrics.RecordPriceLookup("success", len(mints))
		return
	}

	c.metrics.RecordPriceLookup("error", len(mints))
	c.logger.Error("price lookup failed for chunk",
		"mints", len(mints), "error", lastErr)
}

func (c *PriceClient) fetchOnce(ctx context.Context, requestURL string) (*priceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	return &parsed, nil
}
