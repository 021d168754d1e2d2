package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func header(msg kafka.Message, key string) string {
	return HeaderCarrier{Message: &msg}.Get(key)
}

func TestProducer_PublishEntityEvent(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "fern.unified", testLogger())

	err := p.PublishEntityEvent(context.Background(), &EntityEvent{
		EventType:     "unified.created",
		EntityID:      "u1",
		SourceRecords: []string{"domrf/r1", "avito/a1"},
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "fern.unified", msg.Topic)
	assert.Equal(t, "u1", string(msg.Key))
	assert.Equal(t, "unified.created", header(msg, "event_type"))
	assert.Equal(t, SchemaVersion, header(msg, "schema_version"))

	var decoded EntityEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, []string{"domrf/r1", "avito/a1"}, decoded.SourceRecords)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestProducer_PublishCollapseEvent(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "fern.unified", testLogger())

	require.NoError(t, p.PublishCollapseEvent(context.Background(), &CollapseEvent{
		EventType:   "source.collapsed",
		Source:      "avito",
		CanonicalID: "a8",
		RemovedIDs:  []string{"a5", "a2"},
	}))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "avito/a8", string(w.messages[0].Key))
}

func TestProducer_PublishEntityEvents(t *testing.T) {
	t.Run("empty batch writes nothing", func(t *testing.T) {
		w := &fakeWriter{}
		require.NoError(t, NewProducerWithWriter(w, "t", testLogger()).PublishEntityEvents(context.Background(), nil))
		assert.Empty(t, w.messages)
	})

	t.Run("batch", func(t *testing.T) {
		w := &fakeWriter{}
		events := []*EntityEvent{
			{EventType: "unified.merged", EntityID: "u1"},
			{EventType: "unified.replaced", EntityID: "u2"},
		}
		require.NoError(t, NewProducerWithWriter(w, "t", testLogger()).PublishEntityEvents(context.Background(), events))
		require.Len(t, w.messages, 2)
		assert.Equal(t, "u2", string(w.messages[1].Key))
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("broker down")}
		err := NewProducerWithWriter(w, "t", testLogger()).PublishEntityEvents(context.Background(), []*EntityEvent{{EntityID: "u1"}})
		assert.EqualError(t, err, "broker down")
	})
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := HeaderCarrier{Message: &msg}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("event_type", "x")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "event_type"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewProducerWithWriter(w, "t", testLogger()).Close())
	assert.True(t, w.closed)
}
