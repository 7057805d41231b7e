package wealth

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/solana"
)

const (
	// SOLMint is the canonical wrapped-SOL mint, used to price the
	// native balance through the same oracle as every other token.
	SOLMint     = "So11111111111111111111111111111111111111112"
	solDecimals = 9
)

// TokenBalance is one priced holding. Balance is a non-negative decimal
// string in whole-token units.
type TokenBalance struct {
	Mint    string `json:"mint"`
	Balance string `json:"balance"`
}

// SkippedToken records a holding that was excluded from the aggregate,
// with the reason, so callers can assert on omissions instead of
// grepping logs.
type SkippedToken struct {
	Mint   string `json:"mint"`
	Reason string `json:"reason"`
}

// WealthData is one point-in-time valuation of an address's holdings.
type WealthData struct {
	Wealth  string         `json:"wealth"`
	Tokens  []TokenBalance `json:"tokens"`
	Skipped []SkippedToken `json:"skipped,omitempty"`
}

// User is a persisted wealth snapshot for one address.
type User struct {
	Address string         `json:"address"`
	Wealth  string         `json:"wealth"`
	Tokens  []TokenBalance `json:"tokens"`
}

// ChainReader is the slice of the RPC client the sampler needs.
type ChainReader interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]solana.TokenAccount, error)
}

// PriceSource resolves mint addresses to USD prices. Missing entries in
// the returned map mean the oracle had no quote for that mint.
type PriceSource interface {
	GetPrices(ctx context.Context, mints []string) (map[string]*big.Rat, error)
}

// MintResolver resolves mint metadata, cache-first. Missing entries mean
// the mint could not be resolved.
type MintResolver interface {
	Resolve(ctx context.Context, addresses []string) (map[string]*solana.Mint, error)
}

// Sampler computes per-address wealth snapshots: native balance plus all
// token holdings, each valued against the oracle's USD quote. Holdings
// whose mint or price cannot be resolved are skipped from both the total
// and the token list.
type Sampler struct {
	chain   ChainReader
	prices  PriceSource
	mints   MintResolver
	metrics *metrics.Metrics
	logger  *slog.Logger

	tokenProgramID string
}

func NewSampler(chain ChainReader, prices PriceSource, mints MintResolver, m *metrics.Metrics, logger *slog.Logger) *Sampler {
	return &Sampler{
		chain:          chain,
		prices:         prices,
		mints:          mints,
		metrics:        m,
		logger:         logger,
		tokenProgramID: solanago.TokenProgramID.String(),
	}
}

// GetUserWealth values one address. The native balance and the token
// account listing are fetched concurrently; either failing fails the
// whole sample (there is nothing meaningful to aggregate without them).
func (s *Sampler) GetUserWealth(ctx context.Context, address string) (*WealthData, error) {
	var (
		wg            sync.WaitGroup
		lamports      uint64
		balanceErr    error
		tokenAccounts []solana.TokenAccount
		tokenErr      error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		lamports, balanceErr = s.chain.GetBalance(ctx, address)
	}()
	go func() {
		defer wg.Done()
		tokenAccounts, tokenErr = s.chain.GetTokenAccountsByOwner(ctx, address, s.tokenProgramID)
	}()
	wg.Wait()

	if balanceErr != nil {
		s.metrics.RecordWealthSample("error")
		return nil, fmt.Errorf("balance for %s: %w", address, balanceErr)
	}
	if tokenErr != nil {
		s.metrics.RecordWealthSample("error")
		return nil, fmt.Errorf("token accounts for %s: %w", address, tokenErr)
	}

	data := &WealthData{Tokens: []TokenBalance{}}

	// Decode holdings, dropping empty and undecodable accounts.
	holdings := make([]*solana.TokenBalanceEntry, 0, len(tokenAccounts))
	for _, acct := range tokenAccounts {
		if acct.Account == nil {
			continue
		}
		entry, err := solana.DecodeTokenAccount(acct.Account.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable token account",
				"owner", address, "account", acct.Pubkey, "error", err)
			data.Skipped = append(data.Skipped, SkippedToken{Mint: acct.Pubkey, Reason: "undecodable account"})
			continue
		}
		if entry.Amount == 0 {
			continue
		}
		holdings = append(holdings, entry)
	}

	mintAddresses := make([]string, 0, len(holdings))
	seen := map[string]bool{}
	for _, h := range holdings {
		if !seen[h.Mint] {
			seen[h.Mint] = true
			mintAddresses = append(mintAddresses, h.Mint)
		}
	}

	// Mint metadata and prices resolve concurrently; the native SOL
	// quote rides along in the same price query.
	var (
		mints    map[string]*solana.Mint
		mintErr  error
		prices   map[string]*big.Rat
		priceErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mints, mintErr = s.mints.Resolve(ctx, mintAddresses)
	}()
	go func() {
		defer wg.Done()
		prices, priceErr = s.prices.GetPrices(ctx, append([]string{SOLMint}, mintAddresses...))
	}()
	wg.Wait()

	if mintErr != nil {
		s.logger.Warn("mint resolution failed, valuing native balance only",
			"address", address, "error", mintErr)
		mints = map[string]*solana.Mint{}
	}
	if priceErr != nil {
		s.logger.Warn("price lookup failed, valuing nothing",
			"address", address, "error", priceErr)
		prices = map[string]*big.Rat{}
	}

	total := new(big.Rat)

	if solPrice, ok := prices[SOLMint]; ok {
		solAmount := amountToDecimal(lamports, solDecimals)
		total.Add(total, new(big.Rat).Mul(solAmount, solPrice))
		data.Tokens = append(data.Tokens, TokenBalance{
			Mint:    SOLMint,
			Balance: ratString(solAmount),
		})
	}

	for _, h := range holdings {
		mint, ok := mints[h.Mint]
		if !ok {
			data.Skipped = append(data.Skipped, SkippedToken{Mint: h.Mint, Reason: "mint unresolvable"})
			continue
		}
		price, ok := prices[h.Mint]
		if !ok {
			data.Skipped = append(data.Skipped, SkippedToken{Mint: h.Mint, Reason: "no price"})
			continue
		}

		amount := amountToDecimal(h.Amount, int(mint.Decimals))
		total.Add(total, new(big.Rat).Mul(amount, price))
		data.Tokens = append(data.Tokens, TokenBalance{
			Mint:    h.Mint,
			Balance: ratString(amount),
		})
	}

	sort.Slice(data.Tokens, func(i, j int) bool { return data.Tokens[i].Mint < data.Tokens[j].Mint })
	data.Wealth = ratString(total)

	s.metrics.RecordWealthSample("success")
	return data, nil
}

// amountToDecimal converts a raw integer amount to whole-token units.
func amountToDecimal(amount uint64, decimals int) *big.Rat {
	r := new(big.Rat).SetUint64(amount)
	if decimals > 0 {
		denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		r.Quo(r, new(big.Rat).SetInt(denom))
	}
	return r
}

// ratString renders a non-negative rational as a plain decimal string
// with trailing zeros trimmed.
func ratString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(18)
	// trim trailing zeros, then a dangling dot
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}
