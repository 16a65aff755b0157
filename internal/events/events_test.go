package events

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtrader/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

func TestFromResponse(t *testing.T) {
	ok := FromResponse("req-1", &models.OrderResponse{
		Success: true, Exchange: "bybit", Symbol: "BTC/USDT:USDT", OrderID: "1", StopsAttached: models.StopsFull,
	})
	assert.Equal(t, ExecutionCompleted, ok.Type)
	assert.Equal(t, "req-1", ok.RequestID)
	assert.Equal(t, models.StopsFull, ok.Stops)
	assert.Equal(t, "bybit:BTC/USDT:USDT", ok.Key())

	failed := FromResponse("req-2", &models.OrderResponse{Success: false, Exchange: "okx"})
	assert.Equal(t, ExecutionFailed, failed.Type)
}

func TestMulti_FanOutContinuesAfterError(t *testing.T) {
	bad := &recordingPublisher{err: errors.New("broker down")}
	good := &recordingPublisher{}
	m := NewMulti(bad, nil, good)

	err := m.Publish(context.Background(), Event{Type: StopsPending})
	require.Error(t, err)
	assert.Len(t, bad.events, 1)
	assert.Len(t, good.events, 1)

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, topic: "executions"}

	e := Event{Type: StopsAttached, Exchange: "okx", Symbol: "ETH/USDT:USDT", OrderID: "42"}
	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "okx:ETH/USDT:USDT", string(w.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, StopsAttached, decoded.Type)
	assert.Equal(t, "42", decoded.OrderID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "x"})
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "executions"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
