package mqttpub

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
)

const maxReconnectBackoff = 5 * time.Minute

// client implements the Client interface over paho. Reconnection is driven
// by reconnectWithBackoff rather than paho's auto-reconnect so attempts show
// up in the metrics.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.MQTTMetrics
	log             *slog.Logger
}

// NewClient creates an MQTT client from the output settings. The metrics
// argument may be nil.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) (Client, error) {
	if settings.Output.MQTT.Broker == "" {
		return nil, errors.Newf("mqtt output enabled but no broker configured").
			Category(errors.CategoryConfiguration).
			Component("mqttpub").
			Build()
	}

	log := logging.ForService("mqttpub")
	if log == nil {
		log = slog.Default()
	}

	cfg := DefaultConfig()
	cfg.Broker = settings.Output.MQTT.Broker
	cfg.ClientID = settings.Main.Name
	cfg.Username = settings.Output.MQTT.Username
	cfg.Password = settings.Output.MQTT.Password
	cfg.Retain = settings.Output.MQTT.Retain

	return &client{
		config:        cfg,
		reconnectStop: make(chan struct{}),
		metrics:       m,
		log:           log,
	}, nil
}

// Connect establishes a connection to the MQTT broker. The hostname is
// resolved first so DNS problems surface as themselves instead of a generic
// connect timeout.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Category(errors.CategoryMQTTConnection).
			Component("mqttpub").
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.Newf("invalid broker URL: %w", err).
			Category(errors.CategoryConfiguration).
			Component("mqttpub").
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.Newf("failed to resolve broker hostname %s: %w", host, err).
				Category(errors.CategoryNetwork).
				Component("mqttpub").
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Category(errors.CategoryTimeout).
			Component("mqttpub").
			Context("broker", c.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.Newf("connection error: %w", err).
			Category(errors.CategoryMQTTConnection).
			Component("mqttpub").
			Context("broker", c.config.Broker).
			Build()
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends a message to the given topic, honoring the configured
// publish timeout and retain flag.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Category(errors.CategoryMQTTConnection).
			Component("mqttpub").
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.Newf("publish timeout").
			Category(errors.CategoryTimeout).
			Component("mqttpub").
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.Newf("publish failed: %w", err).
			Category(errors.CategoryMQTTPublish).
			Component("mqttpub").
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.ObservePublishLatency(time.Since(start).Seconds())
	}
	return nil
}

// IsConnected reports whether the client currently holds a connection.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection and stops any pending reconnect. Safe to
// call more than once.
func (c *client) Disconnect() {
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.stopOnce.Do(func() { close(c.reconnectStop) })
}

func (c *client) onConnect(mqtt.Client) {
	c.log.Info("Connected to MQTT broker", "broker", c.config.Broker)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("Connection to MQTT broker lost",
		"broker", c.config.Broker,
		"error", err)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.IncrementErrors()
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

// reconnectWithBackoff retries the connection until it succeeds or the
// client is stopped. The backoff starts at the reconnect cooldown so retry
// pacing never trips the cooldown check.
func (c *client) reconnectWithBackoff() {
	backoff := c.config.ReconnectCooldown
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		if c.metrics != nil {
			c.metrics.IncrementReconnectAttempts()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.log.Info("Reconnected to MQTT broker", "broker", c.config.Broker)
			return
		}

		c.log.Warn("Failed to reconnect to MQTT broker",
			"broker", c.config.Broker,
			"retry_in", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
