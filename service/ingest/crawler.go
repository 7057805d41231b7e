package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/solana"
)

// ChainSource is the slice of the RPC client the crawler needs.
type ChainSource interface {
	GetSignatures(ctx context.Context, address string, params solana.GetSignaturesParams) ([]solana.SignatureInfo, error)
	GetBatchTransactions(ctx context.Context, signatures []string) ([]*solana.RawTransaction, error)
}

// DedupStore answers whether a signature has already been ingested.
type DedupStore interface {
	SignatureExists(ctx context.Context, signature string) (bool, error)
}

// TransactionDecoder turns raw transactions into parsed entities.
type TransactionDecoder interface {
	DecodeTransactions(ctx context.Context, txs []*solana.RawTransaction) []decode.ParsedTransaction
}

// TransactionSink persists a decoded batch.
type TransactionSink interface {
	Persist(ctx context.Context, parsed []decode.ParsedTransaction) error
}

// CrawlResult summarizes one backfill run. Completed is true when the
// crawl reached the end of the signature history (an empty page); false
// means it stopped early on an error or cancellation, with already
// persisted pages remaining valid.
type CrawlResult struct {
	Pages        int
	Signatures   int
	Skipped      int
	Transactions int
	Events       int
	Completed    bool
}

// Crawler paginates backward through an address's signature history,
// skipping already-seen signatures, decoding and persisting the rest.
// The inter-page delay self-throttles for downstream write capacity,
// independent of the RPC rate limiter.
type Crawler struct {
	chain   ChainSource
	dedup   DedupStore
	decoder TransactionDecoder
	sink    TransactionSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	pageSize  int
	pageDelay time.Duration
}

func NewCrawler(chain ChainSource, dedup DedupStore, decoder TransactionDecoder, sink TransactionSink, pageSize int, pageDelay time.Duration, m *metrics.Metrics, logger *slog.Logger) *Crawler {
	return &Crawler{
		chain:     chain,
		dedup:     dedup,
		decoder:   decoder,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		pageSize:  pageSize,
		pageDelay: pageDelay,
	}
}

// Crawl runs one backfill over the address's history, newest to oldest.
// Errors are logged and end the crawl early rather than propagating; the
// result reports how far it got.
func (c *Crawler) Crawl(ctx context.Context, address string) CrawlResult {
	var result CrawlResult
	before := ""

	c.logger.Info("starting backfill crawl", "address", address, "page_size", c.pageSize)

	for {
		page, err := c.chain.GetSignatures(ctx, address, solana.GetSignaturesParams{
			Before: before,
			Limit:  c.pageSize,
		})
		if err != nil {
			c.logger.Error("crawl ended early on signature listing",
				"address", address, "before", before, "error", err)
			return result
		}
		if len(page) == 0 {
			result.Completed = true
			c.logger.Info("backfill crawl complete",
				"address", address,
				"pages", result.Pages,
				"signatures", result.Signatures,
				"skipped", result.Skipped,
				"events", result.Events,
			)
			return result
		}

		result.Pages++
		result.Signatures += len(page)
		c.metrics.RecordCrawlPage(address, "ok")

		fresh, err := c.filterSeen(ctx, page)
		if err != nil {
			c.logger.Error("crawl ended early on dedup check", "address", address, "error", err)
			return result
		}
		skipped := len(page) - len(fresh)
		result.Skipped += skipped
		c.metrics.RecordSignaturesSkipped(address, skipped)

		if len(fresh) > 0 {
			if err := c.processPage(ctx, fresh, &result); err != nil {
				c.logger.Error("crawl ended early on page processing",
					"address", address, "error", err)
				return result
			}
		}

		// Advance over the full unfiltered page so an all-seen page
		// still makes forward progress.
		before = page[len(page)-1].Signature

		timer := time.NewTimer(c.pageDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("backfill crawl cancelled", "address", address, "pages", result.Pages)
			return result
		case <-timer.C:
		}
	}
}

// filterSeen drops signatures the dedup store already has, preserving
// page order. Checks run concurrently per signature.
func (c *Crawler) filterSeen(ctx context.Context, page []solana.SignatureInfo) ([]string, error) {
	type check struct {
		seen bool
		err  error
	}
	checks := make([]check, len(page))

	var wg sync.WaitGroup
	for i, info := range page {
		wg.Add(1)
		go func(i int, signature string) {
			defer wg.Done()
			seen, err := c.dedup.SignatureExists(ctx, signature)
			checks[i] = check{seen: seen, err: err}
		}(i, info.Signature)
	}
	wg.Wait()

	fresh := make([]string, 0, len(page))
	for i, info := range page {
		if checks[i].err != nil {
			return nil, checks[i].err
		}
		if !checks[i].seen {
			fresh = append(fresh, info.Signature)
		}
	}
	return fresh, nil
}

func (c *Crawler) processPage(ctx context.Context, signatures []string, result *CrawlResult) error {
	txs, err := c.chain.GetBatchTransactions(ctx, signatures)
	if err != nil {
		return err
	}

	parsed := c.decoder.DecodeTransactions(ctx, txs)
	if len(parsed) == 0 {
		return nil
	}

	if err := c.sink.Persist(ctx, parsed); err != nil {
		return err
	}

	result.Transactions += len(parsed)
	for _, p := range parsed {
		result.Events += len(p.Events)
	}
	return nil
}
