package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

func unsentRecord(exchange, routingKey string) Record {
	return Record{
		ID:         uuid.New(),
		Exchange:   exchange,
		RoutingKey: routingKey,
		Payload:    json.RawMessage(`{"id":"u1"}`),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRelayPublishesAndMarksSent(t *testing.T) {
	rec := unsentRecord("users.signup", "eu")
	rec.Aggregate = &envelope.Aggregate{EntityID: "u1", Version: 3}

	store := &fakeStore{records: []Record{rec}}
	publisher := &fakePublisher{}
	relay := NewRelay(store, publisher)

	require.NoError(t, relay.Relay(context.Background(), rec))

	published := publisher.all()
	require.Len(t, published, 1)
	assert.Equal(t, "users.signup", published[0].exchange)
	assert.Equal(t, "eu", published[0].routingKey)
	assert.JSONEq(t, `{"id":"u1"}`, string(published[0].env.Payload))
	require.NotNil(t, published[0].env.Aggregate)
	assert.Equal(t, int64(3), published[0].env.Aggregate.Version)

	records := store.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].IsSent)
}

func TestRelayLeavesRecordUnsentOnPublishFailure(t *testing.T) {
	rec := unsentRecord("users.signup", "")
	store := &fakeStore{records: []Record{rec}}

	publishErr := errors.New("broker unreachable")
	publisher := &fakePublisher{
		publishErr: func(envelope.Envelope) error { return publishErr },
	}
	relay := NewRelay(store, publisher)

	err := relay.Relay(context.Background(), rec)
	require.ErrorIs(t, err, publishErr)

	records := store.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].IsSent)
}

func TestRelayReportsMarkSentFailure(t *testing.T) {
	rec := unsentRecord("users.signup", "")
	store := &fakeStore{
		records:     []Record{rec},
		markSentErr: errors.New("connection reset"),
	}
	publisher := &fakePublisher{}
	relay := NewRelay(store, publisher)

	err := relay.Relay(context.Background(), rec)
	require.ErrorIs(t, err, store.markSentErr)

	// The publish went out; the record will be republished by the sweeper.
	assert.Len(t, publisher.all(), 1)
}

func TestRelayTwiceIsIdempotentOnSentFlag(t *testing.T) {
	rec := unsentRecord("users.signup", "")
	store := &fakeStore{records: []Record{rec}}
	publisher := &fakePublisher{}
	relay := NewRelay(store, publisher)

	require.NoError(t, relay.Relay(context.Background(), rec))
	require.NoError(t, relay.Relay(context.Background(), rec))

	assert.Len(t, publisher.all(), 2)

	records := store.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].IsSent)
}
