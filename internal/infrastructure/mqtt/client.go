package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// Client is a publish-only MQTT connection for change events.
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger *logging.Logger

	connected bool
	connMu    sync.RWMutex
}

// Connect dials the broker described by cfg and waits for the first
// connection. Reconnection after that is automatic.
func Connect(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	opts := buildClientOptions(cfg)
	c := newClient(nil, cfg, logger)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", brokerURL(cfg), "prefix", c.topics.prefix())
	return c, nil
}

func newClient(pc pahomqtt.Client, cfg config.MQTTConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		client: pc,
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		logger: logger.With("component", "mqtt"),
	}
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// handleConnect runs on the initial connect and every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload("online", c.cfg.Broker.ClientID, ""))
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection lost", "error", err)
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}
