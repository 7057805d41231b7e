package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/solana"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	confirmMaxRetries = 10
	confirmRetryDelay = 3 * time.Second
)

// ChainSource is the slice of the RPC client the push endpoint needs:
// confirmation polling and full transaction resolution.
type ChainSource interface {
	GetConfirmation(ctx context.Context, signature string, maxRetries int, retryDelay time.Duration) (*solana.SignatureStatus, error)
	GetBatchTransactions(ctx context.Context, signatures []string) ([]*solana.RawTransaction, error)
}

// Decoder turns raw transactions into parsed entities.
type Decoder interface {
	DecodeTransactions(ctx context.Context, txs []*solana.RawTransaction) []decode.ParsedTransaction
}

// Sink persists a decoded batch.
type Sink interface {
	Persist(ctx context.Context, parsed []decode.ParsedTransaction) error
}

type pushedTransaction struct {
	Signatures []string `json:"signatures"`
}

type pushTransactionsRequest struct {
	Transactions []pushedTransaction `json:"transactions"`
}

type pushTransactionsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// requireBearerToken rejects requests lacking the shared-secret bearer
// credential before any chain interaction happens.
func requireBearerToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warn("rejected unauthorized push", "remote", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, pushTransactionsResponse{
					Success: false,
					Message: "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handlePushTransactions accepts externally observed transactions,
// independently confirms each signature on chain, and runs the confirmed
// ones through the decode-and-persist pipeline. Unconfirmed signatures
// are reported, not fatal.
func handlePushTransactions(chain ChainSource, decoder Decoder, sink Sink, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pushTransactionsRequest
		body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, pushTransactionsResponse{
				Success: false,
				Message: fmt.Sprintf("invalid request body: %v", err),
			})
			return
		}

		var signatures []string
		for _, tx := range req.Transactions {
			if len(tx.Signatures) == 0 {
				writeJSON(w, http.StatusBadRequest, pushTransactionsResponse{
					Success: false,
					Message: "every transaction needs at least one signature",
				})
				return
			}
			// The first signature is the transaction's canonical id.
			signatures = append(signatures, tx.Signatures[0])
		}
		if len(signatures) == 0 {
			writeJSON(w, http.StatusBadRequest, pushTransactionsResponse{
				Success: false,
				Message: "no transactions provided",
			})
			return
		}

		ctx := r.Context()

		var confirmed []string
		for _, sig := range signatures {
			status, err := chain.GetConfirmation(ctx, sig, confirmMaxRetries, confirmRetryDelay)
			if err != nil {
				logger.Error("confirmation check failed", "signature", sig, "error", err)
				writeJSON(w, http.StatusBadGateway, pushTransactionsResponse{
					Success: false,
					Message: fmt.Sprintf("confirmation check failed for %s", sig),
				})
				return
			}
			if status == nil {
				logger.Warn("pushed signature never confirmed", "signature", sig)
				continue
			}
			confirmed = append(confirmed, sig)
		}

		if len(confirmed) == 0 {
			writeJSON(w, http.StatusOK, pushTransactionsResponse{
				Success: false,
				Message: "no pushed transactions reached confirmed commitment",
			})
			return
		}

		txs, err := chain.GetBatchTransactions(ctx, confirmed)
		if err != nil {
			logger.Error("failed to fetch pushed transactions", "error", err)
			writeJSON(w, http.StatusBadGateway, pushTransactionsResponse{
				Success: false,
				Message: "failed to fetch transactions",
			})
			return
		}

		parsed := decoder.DecodeTransactions(ctx, txs)
		if err := sink.Persist(ctx, parsed); err != nil {
			logger.Error("failed to persist pushed transactions", "error", err)
			writeJSON(w, http.StatusInternalServerError, pushTransactionsResponse{
				Success: false,
				Message: "failed to persist transactions",
			})
			return
		}

		logger.Info("ingested pushed transactions",
			"pushed", len(signatures),
			"confirmed", len(confirmed),
			"persisted", len(parsed),
		)
		writeJSON(w, http.StatusOK, pushTransactionsResponse{
			Success: true,
			Message: fmt.Sprintf("ingested %d of %d pushed transactions", len(parsed), len(signatures)),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
