// Package mqttpub publishes engine events to an MQTT broker. Each event kind
// gets its own subtopic under the configured base topic, so downstream
// consumers can subscribe to gate events without wading through occupancy
// samples.
package mqttpub

import (
	"context"
	"time"
)

// Client defines the broker operations the sink publishes through.
type Client interface {
	// Connect attempts to connect to the MQTT broker. Attempts closer
	// together than the reconnect cooldown are rejected.
	Connect(ctx context.Context) error

	// Publish sends a message to the given topic.
	Publish(ctx context.Context, topic, payload string) error

	// IsConnected reports whether the client currently holds a broker
	// connection.
	IsConnected() bool

	// Disconnect closes the connection and stops any pending reconnect.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Retain   bool // publish with the retain flag

	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
