package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memeroyale/indexer/service/ingest"
	"github.com/memeroyale/indexer/service/metrics"
)

// RefreshWealthInput contains the input parameters for a wealth refresh sweep.
type RefreshWealthInput struct {
	// RequestedBy identifies what triggered the sweep ("schedule" or "manual").
	RequestedBy string `json:"requested_by"`
}

// RefreshWealthResult contains the result of a wealth refresh sweep.
type RefreshWealthResult struct {
	Refreshed   int       `json:"refreshed"`
	RefreshTime time.Time `json:"refresh_time"`
}

// BackfillInput contains the input parameters for a backfill crawl.
type BackfillInput struct {
	// Address is the program address whose history should be crawled.
	Address string `json:"address"`
}

// BackfillResult contains the result of a backfill crawl.
type BackfillResult struct {
	Address      string `json:"address"`
	Pages        int    `json:"pages"`
	Signatures   int    `json:"signatures"`
	Skipped      int    `json:"skipped"`
	Transactions int    `json:"transactions"`
	Events       int    `json:"events"`
	Completed    bool   `json:"completed"`
}

// RefresherInterface defines the wealth sweep operation needed by activities.
// This allows for easy mocking in tests.
type RefresherInterface interface {
	Refresh(ctx context.Context) (int, error)
}

// CrawlerInterface defines the backfill operation needed by activities.
// This allows for easy mocking in tests.
type CrawlerInterface interface {
	Crawl(ctx context.Context, address string) ingest.CrawlResult
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	refresher RefresherInterface
	crawler   CrawlerInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	refresher RefresherInterface,
	crawler CrawlerInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		refresher: refresher,
		crawler:   crawler,
		metrics:   m,
		logger:    logger,
	}
}

// RefreshWealth re-samples the wealth snapshot of every tracked user.
func (a *Activities) RefreshWealth(ctx context.Context, input RefreshWealthInput) (*RefreshWealthResult, error) {
	a.logger.DebugContext(ctx, "refreshing user wealth", "requested_by", input.RequestedBy)

	refreshed, err := a.refresher.Refresh(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "wealth refresh failed", "error", err)
		return nil, fmt.Errorf("wealth refresh failed: %w", err)
	}

	a.logger.InfoContext(ctx, "wealth refresh finished", "refreshed", refreshed)
	return &RefreshWealthResult{
		Refreshed:   refreshed,
		RefreshTime: time.Now().UTC(),
	}, nil
}

// CrawlProgram walks the program's signature history backwards, ingesting
// every transaction not already stored. Crawl errors end the run early but
// are not activity failures; the result reports how far the crawl got.
func (a *Activities) CrawlProgram(ctx context.Context, input BackfillInput) (*BackfillResult, error) {
	if input.Address == "" {
		return nil, fmt.Errorf("backfill requires a program address")
	}

	a.logger.InfoContext(ctx, "starting backfill crawl", "address", input.Address)

	crawl := a.crawler.Crawl(ctx, input.Address)

	a.logger.InfoContext(ctx, "backfill crawl finished",
		"address", input.Address,
		"pages", crawl.Pages,
		"signatures", crawl.Signatures,
		"skipped", crawl.Skipped,
		"transactions", crawl.Transactions,
		"events", crawl.Events,
		"completed", crawl.Completed,
	)

	return &BackfillResult{
		Address:      input.Address,
		Pages:        crawl.Pages,
		Signatures:   crawl.Signatures,
		Skipped:      crawl.Skipped,
		Transactions: crawl.Transactions,
		Events:       crawl.Events,
		Completed:    crawl.Completed,
	}, nil
}
