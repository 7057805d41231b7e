package wealth

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/solana"
)

const mintFetchBatchSize = 100

// AccountReader is the slice of the RPC client the resolver needs.
type AccountReader interface {
	GetMultipleAccounts(ctx context.Context, addresses []string) ([]*solana.AccountInfo, error)
}

// MintStore is the persistent mint cache. GetMint returns (nil, nil)
// when the mint is not stored.
type MintStore interface {
	GetMint(ctx context.Context, address string) (*solana.Mint, error)
	SaveMint(ctx context.Context, mint *solana.Mint) error
}

// Resolver resolves mint metadata cache-first: an in-process LRU, then
// the persistent store, then a chunked multiple-accounts RPC fetch.
// Each mint address costs at most one RPC round trip over the resolver's
// lifetime; later lookups hit a cache.
type Resolver struct {
	chain   AccountReader
	store   MintStore
	cache   *lru.Cache[string, *solana.Mint]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewResolver(chain AccountReader, store MintStore, cacheSize int, m *metrics.Metrics, logger *slog.Logger) (*Resolver, error) {
	cache, err := lru.New[string, *solana.Mint](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create mint cache: %w", err)
	}
	return &Resolver{
		chain:   chain,
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}, nil
}

// Resolve returns metadata for the given mint addresses. Addresses that
// cannot be resolved (no such account, undecodable layout) are absent
// from the result, not errors.
func (r *Resolver) Resolve(ctx context.Context, addresses []string) (map[string]*solana.Mint, error) {
	out := make(map[string]*solana.Mint, len(addresses))

	var missing []string
	for _, addr := range addresses {
		if mint, ok := r.cache.Get(addr); ok {
			r.metrics.RecordMintLookup("memory", 1)
			out[addr] = mint
			continue
		}

		mint, err := r.store.GetMint(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("mint store lookup %s: %w", addr, err)
		}
		if mint != nil {
			r.metrics.RecordMintLookup("store", 1)
			r.cache.Add(addr, mint)
			out[addr] = mint
			continue
		}

		missing = append(missing, addr)
	}

	for start := 0; start < len(missing); start += mintFetchBatchSize {
		end := start + mintFetchBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		accounts, err := r.chain.GetMultipleAccounts(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("fetch mint accounts: %w", err)
		}

		for i, info := range accounts {
			addr := batch[i]
			if info == nil || len(info.Data) == 0 {
				continue
			}
			mint, err := solana.DecodeMint(addr, info.Data)
			if err != nil {
				r.logger.Warn("skipping undecodable mint", "mint", addr, "error", err)
				continue
			}

			r.metrics.RecordMintLookup("chain", 1)
			if err := r.store.SaveMint(ctx, mint); err != nil {
				r.logger.Error("failed to persist mint", "mint", addr, "error", err)
			}
			r.cache.Add(addr, mint)
			out[addr] = mint
		}
	}

	return out, nil
}
