// Package messaging publishes reservation notifications and status transitions to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-reservations/internal/application"
)

// MessageWriter is the subset of *kafka.Writer used by the publishers.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns an asynchronous writer for topic on the given brokers. WriteMessages
// returns once the message is queued, so publishing never holds a vehicle lock for a
// broker round trip. Delivery failures are logged through logger.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka delivery failed", "topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
}

type notificationMessage struct {
	Kind          string   `json:"kind"`
	Subject       string   `json:"subject"`
	Recipients    []string `json:"recipients"`
	Body          string   `json:"body"`
	ReservationID string   `json:"reservation_id"`
	VehicleID     string   `json:"vehicle_id"`
	DriverID      string   `json:"driver_id"`
}

type transitionMessage struct {
	ReservationID string    `json:"reservation_id"`
	VehicleID     string    `json:"vehicle_id"`
	DriverID      string    `json:"driver_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Actor         string    `json:"actor"`
	At            time.Time `json:"at"`
}

// KafkaNotifier hands notifications to a mail relay consuming the topic.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Notify publishes n keyed by reservation id.
func (k *KafkaNotifier) Notify(ctx context.Context, n application.Notification) error {
	payload, err := json.Marshal(notificationMessage{
		Kind:          string(n.Kind),
		Subject:       n.Subject,
		Recipients:    n.Recipients,
		Body:          n.Body,
		ReservationID: n.ReservationID,
		VehicleID:     n.VehicleID,
		DriverID:      n.DriverID,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.ReservationID), Value: payload}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// KafkaEventPublisher publishes status transitions keyed by vehicle so that one vehicle's
// events stay ordered within a partition.
type KafkaEventPublisher struct {
	writer MessageWriter
}

// NewKafkaEventPublisher wraps writer.
func NewKafkaEventPublisher(writer MessageWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

// PublishTransition publishes one status change.
func (k *KafkaEventPublisher) PublishTransition(ctx context.Context, event application.TransitionEvent) error {
	payload, err := json.Marshal(transitionMessage{
		ReservationID: event.ReservationID,
		VehicleID:     event.VehicleID,
		DriverID:      event.DriverID,
		From:          string(event.From),
		To:            string(event.To),
		Actor:         event.Actor,
		At:            event.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(event.VehicleID),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event", Value: []byte("reservation.transition")}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaEventPublisher) Close() error {
	return k.writer.Close()
}
