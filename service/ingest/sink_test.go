package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memeroyale/indexer/service/decode"
)

type recordingStore struct {
	saved  []string
	failOn string
}

func (s *recordingStore) SaveTransaction(_ context.Context, parsed decode.ParsedTransaction) error {
	if parsed.Signature == s.failOn {
		return fmt.Errorf("constraint violation")
	}
	s.saved = append(s.saved, parsed.Signature)
	return nil
}

type recordingPublisher struct {
	published []string
	err       error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event decode.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event.Type)
	return nil
}

func parsedTx(signature string, eventTypes ...string) decode.ParsedTransaction {
	tx := decode.ParsedTransaction{Signature: signature}
	for _, typ := range eventTypes {
		tx.Events = append(tx.Events, decode.Event{Signature: signature, Type: typ})
	}
	return tx
}

func TestSink_PersistsThenPublishes(t *testing.T) {
	store := &recordingStore{}
	publisher := &recordingPublisher{}
	sink := NewSink(store, publisher, testLogger())

	err := sink.Persist(context.Background(), []decode.ParsedTransaction{
		parsedTx("sig-1", "trade", "convert"),
		parsedTx("sig-2", "graduate"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sig-1", "sig-2"}, store.saved)
	assert.Equal(t, []string{"trade", "convert", "graduate"}, publisher.published)
}

func TestSink_StoreFailureAbortsBatch(t *testing.T) {
	store := &recordingStore{failOn: "sig-2"}
	publisher := &recordingPublisher{}
	sink := NewSink(store, publisher, testLogger())

	err := sink.Persist(context.Background(), []decode.ParsedTransaction{
		parsedTx("sig-1", "trade"),
		parsedTx("sig-2", "trade"),
		parsedTx("sig-3", "trade"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sig-2")
	assert.Equal(t, []string{"sig-1"}, store.saved)
}

func TestSink_PublishFailureIsNotFatal(t *testing.T) {
	store := &recordingStore{}
	publisher := &recordingPublisher{err: fmt.Errorf("stream unavailable")}
	sink := NewSink(store, publisher, testLogger())

	err := sink.Persist(context.Background(), []decode.ParsedTransaction{
		parsedTx("sig-1", "trade"),
	})
	require.NoError(t, err, "the store is the source of truth; publishing is best effort")
	assert.Equal(t, []string{"sig-1"}, store.saved)
}

func TestSink_NilPublisherIsAllowed(t *testing.T) {
	store := &recordingStore{}
	sink := NewSink(store, nil, testLogger())

	err := sink.Persist(context.Background(), []decode.ParsedTransaction{parsedTx("sig-1", "trade")})
	require.NoError(t, err)
}
