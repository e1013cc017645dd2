package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/notify"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestFanoutDeliversToEverySink(t *testing.T) {
	ctx := context.Background()
	a, b := in_memory.NewRecorder(), in_memory.NewRecorder()
	b.Err = errors.New("sink down")
	c := in_memory.NewRecorder()
	ch := domain.UserChannel(uuid.New())

	err := notify.Fanout{a, b, nil, c}.Notify(ctx, ch, domain.EventOfferReceived, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, a.On(ch), 1)
	assert.Len(t, c.On(ch), 1, "a failing sink does not block later ones")
}

func TestEnvelopeProto(t *testing.T) {
	ch := domain.AuctionChannel(uuid.New())
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env := notify.NewEnvelope(ch, domain.EventBid, map[string]any{
		"amount":  "20",
		"bidders": []any{"a", "b"},
	}, at)

	msg, err := env.Proto()
	require.NoError(t, err)
	m := msg.AsMap()
	assert.Equal(t, string(ch), m["channel"])
	assert.Equal(t, domain.EventBid, m["event"])
	assert.Equal(t, "2025-03-01T12:00:00Z", m["timestamp"])
	payload := m["payload"].(map[string]any)
	assert.Equal(t, "20", payload["amount"])
	assert.Equal(t, []any{"a", "b"}, payload["bidders"])
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesProtobuf(t *testing.T) {
	w := &fakeWriter{}
	sink := notify.NewKafkaSink(w, nil)
	ch := domain.UserChannel(uuid.New())

	require.NoError(t, sink.Notify(context.Background(), ch, domain.EventBalanceChanged, map[string]any{"balance": "80"}))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte(ch), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, domain.EventBalanceChanged, string(msg.Headers[0].Value))

	var decoded structpb.Struct
	require.NoError(t, proto.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, domain.EventBalanceChanged, decoded.Fields["event"].GetStringValue())
	assert.Equal(t, "80", decoded.Fields["payload"].GetStructValue().Fields["balance"].GetStringValue())
}

func TestKafkaSinkBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	sink := notify.NewKafkaSink(w, nil)
	ctx := context.Background()
	ch := domain.UserChannel(uuid.New())

	for i := 0; i < 5; i++ {
		err := sink.Notify(ctx, ch, domain.EventBalanceChanged, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	err := sink.Notify(ctx, ch, domain.EventBalanceChanged, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
