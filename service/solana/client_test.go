package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memeroyale/indexer/service/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	limiter := ratelimit.NewClient(ratelimit.NewSparse(1000, time.Second))
	c := NewClient(endpoint, limiter, nil, testLogger())
	c.baseBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c
}

func TestGetSignatures_PagesWithBeforeCursor(t *testing.T) {
	var gotParams []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getSignaturesForAddress", req.Method)
		gotParams = req.Params

		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":[
			{"signature":"sig-new","slot":200,"blockTime":1700000100,"err":null},
			{"signature":"sig-old","slot":100,"blockTime":1700000000,"err":{"InstructionError":[0,"Custom"]}}
		]}`, req.ID)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sigs, err := client.GetSignatures(context.Background(), "SomeAddr", GetSignaturesParams{Before: "cursor-sig", Limit: 100})
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, "sig-new", sigs[0].Signature)
	assert.Equal(t, uint64(200), sigs[0].Slot)
	assert.Nil(t, sigs[0].Err)
	assert.NotNil(t, sigs[1].Err)

	require.Len(t, gotParams, 2)
	opts, ok := gotParams[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cursor-sig", opts["before"])
	assert.Equal(t, float64(100), opts["limit"])
}

func TestGetBatchTransactions_AlignsResultsAndNilsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		require.Len(t, reqs, 3)

		// Respond out of order, fail the middle one, null the last.
		responses := []map[string]any{
			{"jsonrpc": "2.0", "id": reqs[2].ID, "result": nil},
			{"jsonrpc": "2.0", "id": reqs[1].ID, "error": map[string]any{"code": -32004, "message": "not found"}},
		}
		json.NewEncoder(w).Encode(responses)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	results, err := client.GetBatchTransactions(context.Background(), []string{"sig-a", "sig-b", "sig-c"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Nil(t, results[0], "unanswered request should map to nil")
	assert.Nil(t, results[1], "errored request should map to nil")
	assert.Nil(t, results[2], "null result should map to nil")
}

func TestDoRequest_RetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":42}}`, req.ID)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	balance, err := client.GetBalance(context.Background(), "SomeAddr")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)
	assert.Equal(t, int64(3), calls.Load())
}

func TestDoRequest_DoesNotRetryHardFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetBalance(context.Background(), "SomeAddr")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestDoRequest_GivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetBalance(context.Background(), "SomeAddr")
	require.Error(t, err)
	assert.Equal(t, int64(defaultMaxRetries), calls.Load())
}

func TestCall_SurfacesRPCErrorObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"invalid params"}}`, req.ID)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetBalance(context.Background(), "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}

func TestGetConfirmation_ReturnsNilAfterExhaustion(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":[{"slot":1,"confirmationStatus":"processed"}]}}`, req.ID)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	status, err := client.GetConfirmation(context.Background(), "sig-x", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, status, "unconfirmed after retries should be nil, not an error")
	assert.Equal(t, int64(3), calls.Load())
}

func TestGetConfirmation_StopsOnConfirmed(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		status := "processed"
		if n >= 2 {
			status = "finalized"
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":[{"slot":9,"confirmationStatus":%q}]}}`, req.ID, status)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	status, err := client.GetConfirmation(context.Background(), "sig-x", 5, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Confirmed())
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetMultipleAccounts_DecodesBase64Tuples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":[
			{"lamports":1000,"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA","executable":false,"data":["aGVsbG8=","base64"]},
			null
		]}}`, req.ID)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	accounts, err := client.GetMultipleAccounts(context.Background(), []string{"mint-a", "mint-b"})
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	require.NotNil(t, accounts[0])
	assert.Equal(t, []byte("hello"), []byte(accounts[0].Data))
	assert.Nil(t, accounts[1])
}

func TestClient_RespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetBalance(ctx, "SomeAddr")
	require.Error(t, err)
}
