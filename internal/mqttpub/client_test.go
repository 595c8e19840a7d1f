package mqttpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/errors"
)

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Main.Name = "camwatch-test"
	settings.Output.MQTT.Enabled = true
	settings.Output.MQTT.Broker = "tcp://localhost:1883"
	settings.Output.MQTT.Topic = "camwatch"
	settings.Output.MQTT.Retain = true
	return settings
}

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Output.MQTT.Broker = ""

	_, err := NewClient(settings, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewClientAppliesSettings(t *testing.T) {
	t.Parallel()

	c, err := NewClient(testSettings(), nil)
	require.NoError(t, err)

	impl, ok := c.(*client)
	require.True(t, ok)
	assert.Equal(t, "tcp://localhost:1883", impl.config.Broker)
	assert.Equal(t, "camwatch-test", impl.config.ClientID)
	assert.True(t, impl.config.Retain)
	assert.Equal(t, 5*time.Second, impl.config.ReconnectCooldown)
	assert.Equal(t, 10*time.Second, impl.config.PublishTimeout)
}

func TestConnectCooldownRejectsRapidAttempts(t *testing.T) {
	t.Parallel()

	c, err := NewClient(testSettings(), nil)
	require.NoError(t, err)

	impl := c.(*client)
	impl.lastConnAttempt = time.Now()

	err = c.Connect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.Contains(t, err.Error(), "too recent")
}

func TestConnectRejectsInvalidBrokerURL(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Output.MQTT.Broker = "tcp://[::1%" // unparsable

	c, err := NewClient(settings, nil)
	require.NoError(t, err)

	err = c.Connect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, err := NewClient(testSettings(), nil)
	require.NoError(t, err)

	err = c.Publish(testContext(t), "camwatch/gate", "{}")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.False(t, c.IsConnected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	c, err := NewClient(testSettings(), nil)
	require.NoError(t, err)

	c.Disconnect()
	assert.NotPanics(t, c.Disconnect)
}
