//go:build !integration

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain/model"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	failNext  int
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.failNext > 0 {
		f.failNext--
		return amqp.ErrClosed
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func testEvent() model.DomainEvent {
	return model.NewTransitionEvent(model.SubscriptionTransition{
		SubscriptionID: "sub-1",
		TenantID:       9,
		TierID:         "pro",
		From:           model.SubscriptionStatusNone,
		To:             model.SubscriptionStatusActive,
		Event:          model.EventActivated,
		At:             time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	})
}

func TestAMQPPublisher(t *testing.T) {
	log := zerolog.Nop()
	var channels []*fakeChannel
	dial := func(url string) (channel, func() error, error) {
		ch := &fakeChannel{}
		channels = append(channels, ch)
		return ch, func() error { return nil }, nil
	}

	p, err := newAMQPPublisher("amqp://test", "licensing.events", dial, &log)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, []string{"licensing.events:topic"}, channels[0].declared)

	ev := testEvent()
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, channels[0].published, 1)
	msg := channels[0].published[0]
	assert.Equal(t, model.EventTypeSubscriptionTransition, channels[0].keys[0])
	assert.Equal(t, ev.ID, msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)

	var decoded model.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, int64(9), decoded.TenantID)
	assert.Equal(t, "active", decoded.Payload["to"])

	t.Run("reconnects once after a dropped channel", func(t *testing.T) {
		channels[0].failNext = 1
		require.NoError(t, p.Publish(context.Background(), ev))
		require.Len(t, channels, 2)
		assert.True(t, channels[0].closed)
		assert.Len(t, channels[1].published, 1)
	})

	t.Run("cancelled context is not published", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, p.Publish(ctx, ev), context.Canceled)
	})

	require.NoError(t, p.Close())
	assert.True(t, channels[1].closed)
}

func TestAMQPPublisher_DialFailure(t *testing.T) {
	log := zerolog.Nop()
	dial := func(url string) (channel, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}
	_, err := newAMQPPublisher("amqp://nowhere", "x", dial, &log)
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	p := NewLogPublisher(&log)

	ev := testEvent()
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Contains(t, buf.String(), `"event_type":"subscription.transitioned"`)
	assert.Contains(t, buf.String(), ev.ID)
	assert.NoError(t, p.Close())
}
