package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memeroyale/indexer/service/decode"
)

// TransactionStore persists one parsed transaction as a unit. The store
// is expected to write the dedup marker with (or before) the entities so
// a crash cannot re-ingest the signature.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, parsed decode.ParsedTransaction) error
}

// EventPublisher announces decoded events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event decode.Event) error
}

// Sink persists parsed transactions and then publishes their events.
// Persistence failure for one transaction aborts the batch (the caller
// retries via dedup-guarded re-crawl); publish failures are logged and
// dropped, since the store is the source of truth.
type Sink struct {
	store     TransactionStore
	publisher EventPublisher
	logger    *slog.Logger
}

func NewSink(store TransactionStore, publisher EventPublisher, logger *slog.Logger) *Sink {
	return &Sink{store: store, publisher: publisher, logger: logger}
}

func (s *Sink) Persist(ctx context.Context, parsed []decode.ParsedTransaction) error {
	for _, tx := range parsed {
		if err := s.store.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("save transaction %s: %w", tx.Signature, err)
		}

		if s.publisher == nil {
			continue
		}
		for _, event := range tx.Events {
			if err := s.publisher.PublishEvent(ctx, event); err != nil {
				s.logger.Error("failed to publish event",
					"signature", event.Signature,
					"type", event.Type,
					"position", event.Position,
					"error", err,
				)
			}
		}
	}
	return nil
}
