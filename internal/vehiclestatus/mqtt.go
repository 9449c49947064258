// Package vehiclestatus mirrors vehicle availability to an MQTT broker so that
// dispatch boards can follow it without reading the database.
package vehiclestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/example/fleet-reservations/internal/application"
)

// Publisher is the subset of mqtt.Client used by the mirror.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configures an MQTTMirror.
type Options struct {
	// TopicPrefix defaults to "fleet/vehicles".
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// MQTTMirror decorates a VehicleCatalog, publishing a retained message on
// <prefix>/<vehicle id>/status after every successful status write.
type MQTTMirror struct {
	next      application.VehicleCatalog
	publisher Publisher
	opts      Options
	now       func() time.Time
}

var _ application.VehicleCatalog = (*MQTTMirror)(nil)

// NewMQTTMirror wraps next.
func NewMQTTMirror(next application.VehicleCatalog, publisher Publisher, opts Options) *MQTTMirror {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "fleet/vehicles"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MQTTMirror{next: next, publisher: publisher, opts: opts, now: time.Now}
}

// Connect dials brokerURL and returns a connected client.
func Connect(brokerURL, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}
	return client, nil
}

// GetVehicle delegates to the wrapped catalog.
func (m *MQTTMirror) GetVehicle(ctx context.Context, id string) (application.VehicleRef, error) {
	return m.next.GetVehicle(ctx, id)
}

// ListVehicles delegates to the wrapped catalog.
func (m *MQTTMirror) ListVehicles(ctx context.Context) ([]application.VehicleRef, error) {
	return m.next.ListVehicles(ctx)
}

// SetVehicleStatus writes through and then publishes. Publish failures are logged, not returned.
func (m *MQTTMirror) SetVehicleStatus(ctx context.Context, id string, status application.VehicleStatus) error {
	if err := m.next.SetVehicleStatus(ctx, id, status); err != nil {
		return err
	}
	if err := m.publish(id, status); err != nil {
		m.opts.Logger.WarnContext(ctx, "vehicle status publish failed", "vehicle_id", id, "status", string(status), "error", err)
	}
	return nil
}

// Topic returns the status topic of a vehicle.
func (m *MQTTMirror) Topic(vehicleID string) string {
	return fmt.Sprintf("%s/%s/status", m.opts.TopicPrefix, vehicleID)
}

type statusMessage struct {
	VehicleID string    `json:"vehicle_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

func (m *MQTTMirror) publish(id string, status application.VehicleStatus) error {
	payload, err := json.Marshal(statusMessage{VehicleID: id, Status: string(status), At: m.now().UTC()})
	if err != nil {
		return err
	}
	token := m.publisher.Publish(m.Topic(id), m.opts.QoS, true, payload)
	if !token.WaitTimeout(m.opts.PublishTimeout) {
		return fmt.Errorf("publish to %s: timed out", m.Topic(id))
	}
	return token.Error()
}
