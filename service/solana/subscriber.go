package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memeroyale/indexer/service/metrics"
)

const (
	defaultReconnectDelay = 5 * time.Second
	wsHandshakeTimeout    = 10 * time.Second
)

// TransactionFetcher resolves signatures into full transactions. The
// production implementation is *Client; tests substitute their own.
type TransactionFetcher interface {
	GetBatchTransactions(ctx context.Context, signatures []string) ([]*RawTransaction, error)
}

// TransactionHandler receives each resolved transaction from the live
// subscription. Handler errors are logged and do not stop the stream.
type TransactionHandler func(ctx context.Context, tx *RawTransaction) error

// Subscriber maintains a websocket subscription for transactions that
// mention a program address. Notifications carry only the signature we
// trust; the full transaction is re-fetched over RPC so the live path and
// the backfill path feed the decoder identical inputs.
type Subscriber struct {
	wsURL   string
	address string
	fetcher TransactionFetcher
	handler TransactionHandler
	metrics *metrics.Metrics
	logger  *slog.Logger

	reconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed reconnects; zero
	// means retry forever. The counter resets whenever a subscription is
	// confirmed by the server.
	maxReconnectAttempts int

	dialer *websocket.Dialer
}

// NewSubscriber creates a subscriber for the given program address.
// maxReconnectAttempts <= 0 retries forever.
func NewSubscriber(wsURL, address string, fetcher TransactionFetcher, handler TransactionHandler, m *metrics.Metrics, logger *slog.Logger, maxReconnectAttempts int) *Subscriber {
	return &Subscriber{
		wsURL:                wsURL,
		address:              address,
		fetcher:              fetcher,
		handler:              handler,
		metrics:              m,
		logger:               logger,
		reconnectDelay:       defaultReconnectDelay,
		maxReconnectAttempts: maxReconnectAttempts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
		},
	}
}

// wsMessage is the envelope for everything the server sends: subscription
// confirmations (ID + Result) and notifications (Method + Params).
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type wsNotificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
	} `json:"result"`
}

// Run drives the connect / subscribe / receive loop until ctx is done or
// the reconnect budget is exhausted. Each session failure waits a fixed
// delay before redialing.
func (s *Subscriber) Run(ctx context.Context) error {
	attempts := 0
	for {
		subscribed, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			// A confirmed subscription means the endpoint is healthy
			// enough that past failures should not count against us.
			attempts = 0
		}
		attempts++
		if s.maxReconnectAttempts > 0 && attempts > s.maxReconnectAttempts {
			return fmt.Errorf("websocket reconnect budget exhausted after %d attempts: %w", attempts-1, err)
		}

		s.metrics.RecordWSReconnect(s.address)
		s.logger.Warn("websocket session ended, reconnecting",
			"attempt", attempts,
			"delay", s.reconnectDelay,
			"error", err,
		)

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runSession runs one full websocket session: dial, subscribe, receive
// until the connection drops. The subscribed return reports whether the
// server confirmed the subscription at any point.
func (s *Subscriber) runSession(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	const subscribeID = 1
	subscribe := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeID,
		Method:  "transactionSubscribe",
		Params: []any{
			map[string]any{"accountInclude": []string{s.address}},
			map[string]any{
				"commitment":                     "confirmed",
				"encoding":                       "base64",
				"transactionDetails":             "full",
				"showRewards":                    true,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return false, fmt.Errorf("send subscribe: %w", err)
	}

	s.logger.Info("websocket connected, awaiting subscription", "address", s.address)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("read message: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("dropping malformed websocket message", "error", err)
			continue
		}

		switch {
		case msg.ID == subscribeID && msg.Error != nil:
			return subscribed, fmt.Errorf("subscribe rejected: %w", msg.Error)

		case msg.ID == subscribeID && len(msg.Result) > 0:
			subscribed = true
			s.logger.Info("transaction subscription confirmed", "address", s.address)

		case msg.Method == "transactionNotification":
			s.handleNotification(ctx, msg.Params)

		default:
			s.logger.Debug("ignoring websocket message", "method", msg.Method, "id", msg.ID)
		}
	}
}

// handleNotification resolves one notification's signature into a full
// transaction and hands it to the handler. All failures are dropped with
// a log line; the subscription keeps running.
func (s *Subscriber) handleNotification(ctx context.Context, params json.RawMessage) {
	var note wsNotificationParams
	if err := json.Unmarshal(params, &note); err != nil {
		s.logger.Warn("dropping malformed notification", "error", err)
		return
	}
	if note.Result.Signature == "" {
		s.logger.Warn("dropping notification without signature")
		return
	}

	s.metrics.RecordWSNotification(s.address, "received")

	txs, err := s.fetcher.GetBatchTransactions(ctx, []string{note.Result.Signature})
	if err != nil {
		s.logger.Error("failed to fetch notified transaction",
			"signature", note.Result.Signature, "error", err)
		return
	}
	if len(txs) == 0 || txs[0] == nil {
		s.logger.Warn("notified transaction not resolvable", "signature", note.Result.Signature)
		return
	}

	if err := s.handler(ctx, txs[0]); err != nil {
		s.logger.Error("transaction handler failed",
			"signature", note.Result.Signature, "error", err)
	}
}
