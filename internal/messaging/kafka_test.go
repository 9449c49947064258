package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-reservations/internal/application"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier_Notify(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	n := NewKafkaNotifier(w)

	err := n.Notify(context.Background(), application.Notification{
		Kind:          application.NotificationReservationCanceled,
		Subject:       "Reservation canceled",
		Recipients:    []string{"sato@example.com"},
		ReservationID: "r1",
		VehicleID:     "v1",
		DriverID:      "d1",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "r1", string(w.messages[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &got))
	assert.Equal(t, "reservation_canceled", got["kind"])
	assert.Equal(t, []any{"sato@example.com"}, got["recipients"])

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaEventPublisher_PublishTransition(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	p := NewKafkaEventPublisher(w)
	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.FixedZone("JST", 9*60*60))

	err := p.PublishTransition(context.Background(), application.TransitionEvent{
		ReservationID: "r1",
		VehicleID:     "v1",
		From:          application.StatusBooked,
		To:            application.StatusCanceled,
		Actor:         "system",
		At:            at,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "v1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "reservation.transition", string(msg.Headers[0].Value))

	var got transitionMessage
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "booked", got.From)
	assert.Equal(t, "canceled", got.To)
	assert.True(t, got.At.Equal(at))
}

func TestKafkaEventPublisher_WrapsWriteError(t *testing.T) {
	t.Parallel()

	broker := errors.New("broker down")
	p := NewKafkaEventPublisher(&recordingWriter{err: broker})
	err := p.PublishTransition(context.Background(), application.TransitionEvent{ReservationID: "r1"})
	require.ErrorIs(t, err, broker)
}

func TestNewWriter_DoesNotBlockPublishers(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	w := NewWriter([]string{"localhost:9092"}, "fleet.events", logger)

	assert.True(t, w.Async)
	assert.LessOrEqual(t, w.BatchTimeout, 50*time.Millisecond)
	assert.Equal(t, "fleet.events", w.Topic)
	require.NotNil(t, w.Completion)

	w.Completion([]kafka.Message{{Key: []byte("v1")}}, errors.New("broker down"))
	assert.Contains(t, logs.String(), "kafka delivery failed")
	assert.Contains(t, logs.String(), "broker down")

	logs.Reset()
	w.Completion([]kafka.Message{{Key: []byte("v1")}}, nil)
	assert.Empty(t, logs.String())
}
