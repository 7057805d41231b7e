package solana

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls atomic.Int64
	txs   map[string]*RawTransaction
}

func (f *stubFetcher) GetBatchTransactions(_ context.Context, signatures []string) ([]*RawTransaction, error) {
	f.calls.Add(1)
	out := make([]*RawTransaction, len(signatures))
	for i, sig := range signatures {
		out[i] = f.txs[sig]
	}
	return out, nil
}

// wsTestServer upgrades connections and runs script against each one.
func wsTestServer(t *testing.T, script func(conn *websocket.Conn, session int)) *httptest.Server {
	t.Helper()
	var sessions atomic.Int64
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, int(sessions.Add(1)))
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func confirmSubscription(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var req rpcRequest
	require.NoError(t, conn.ReadJSON(&req))
	require.Equal(t, "transactionSubscribe", req.Method)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": req.ID, "result": 99,
	}))
}

func TestSubscriber_FetchesAndHandlesNotifiedTransactions(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn, _ int) {
		confirmSubscription(t, conn)
		note := map[string]any{
			"jsonrpc": "2.0",
			"method":  "transactionNotification",
			"params": map[string]any{
				"subscription": 99,
				"result":       map[string]any{"signature": "sig-live", "slot": 123},
			},
		}
		conn.WriteJSON(note)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	fetcher := &stubFetcher{txs: map[string]*RawTransaction{
		"sig-live": {Signature: "sig-live", Slot: 123},
	}}

	handled := make(chan *RawTransaction, 1)
	sub := NewSubscriber(wsURL(server), "Prog111", fetcher,
		func(_ context.Context, tx *RawTransaction) error {
			handled <- tx
			return nil
		}, nil, testLogger(), 1)
	sub.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sub.Run(ctx)

	select {
	case tx := <-handled:
		assert.Equal(t, "sig-live", tx.Signature)
		assert.Equal(t, uint64(123), tx.Slot)
	case <-ctx.Done():
		t.Fatal("handler was never invoked")
	}
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestSubscriber_DropsMalformedNotifications(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn, _ int) {
		confirmSubscription(t, conn)
		// Garbage frame, then a notification with no signature, then a
		// valid one. Only the last should reach the handler.
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0", "method": "transactionNotification",
			"params": map[string]any{"subscription": 99, "result": map[string]any{"slot": 5}},
		})
		conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0", "method": "transactionNotification",
			"params": map[string]any{"subscription": 99, "result": map[string]any{"signature": "sig-ok"}},
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	fetcher := &stubFetcher{txs: map[string]*RawTransaction{
		"sig-ok": {Signature: "sig-ok"},
	}}

	handled := make(chan string, 4)
	sub := NewSubscriber(wsURL(server), "Prog111", fetcher,
		func(_ context.Context, tx *RawTransaction) error {
			handled <- tx.Signature
			return nil
		}, nil, testLogger(), 1)
	sub.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sub.Run(ctx)

	select {
	case sig := <-handled:
		assert.Equal(t, "sig-ok", sig)
	case <-ctx.Done():
		t.Fatal("valid notification never handled")
	}
	assert.Equal(t, int64(1), fetcher.calls.Load(), "malformed frames must not trigger fetches")
}

func TestSubscriber_ReconnectsAfterSessionDrop(t *testing.T) {
	sessionStarted := make(chan int, 4)
	server := wsTestServer(t, func(conn *websocket.Conn, session int) {
		sessionStarted <- session
		confirmSubscription(t, conn)
		if session == 1 {
			return // drop immediately after confirming
		}
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	sub := NewSubscriber(wsURL(server), "Prog111", &stubFetcher{},
		func(context.Context, *RawTransaction) error { return nil },
		nil, testLogger(), 0)
	sub.reconnectDelay = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sub.Run(ctx)

	for want := 1; want <= 2; want++ {
		select {
		case got := <-sessionStarted:
			assert.Equal(t, want, got)
		case <-ctx.Done():
			t.Fatalf("session %d never started", want)
		}
	}
}

func TestSubscriber_StopsAfterReconnectBudget(t *testing.T) {
	// Server rejects the subscription every time, so the attempt counter
	// never resets and the budget must eventually trip.
	server := wsTestServer(t, func(conn *websocket.Conn, _ int) {
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	})
	defer server.Close()

	sub := NewSubscriber(wsURL(server), "Prog111", &stubFetcher{},
		func(context.Context, *RawTransaction) error { return nil },
		nil, testLogger(), 2)
	sub.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sub.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "reconnect budget exhausted")
}

func TestSubscriber_HandlerErrorDoesNotKillSession(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn, _ int) {
		confirmSubscription(t, conn)
		for _, sig := range []string{"sig-1", "sig-2"} {
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0", "method": "transactionNotification",
				"params": map[string]any{"subscription": 99, "result": map[string]any{"signature": sig}},
			})
		}
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	fetcher := &stubFetcher{txs: map[string]*RawTransaction{
		"sig-1": {Signature: "sig-1"},
		"sig-2": {Signature: "sig-2"},
	}}

	handled := make(chan string, 2)
	sub := NewSubscriber(wsURL(server), "Prog111", fetcher,
		func(_ context.Context, tx *RawTransaction) error {
			handled <- tx.Signature
			return fmt.Errorf("handler blew up on %s", tx.Signature)
		}, nil, testLogger(), 1)
	sub.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sub.Run(ctx)

	var got []string
	for len(got) < 2 {
		select {
		case sig := <-handled:
			got = append(got, sig)
		case <-ctx.Done():
			t.Fatalf("only %d notifications handled: %v", len(got), got)
		}
	}
	assert.Equal(t, []string{"sig-1", "sig-2"}, got)
}
