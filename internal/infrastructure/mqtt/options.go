package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	tlsMinVersion            = tls.VersionTLS12
)

// brokerURL returns tcp:// or ssl:// depending on the TLS setting.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho options from config: broker, client ID,
// credentials, clean session, auto-reconnect with backoff and TLS.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT registers the offline status the broker publishes if the
// connection drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.SystemStatus(), string(statusPayload("offline", clientID, "unexpected_disconnect")), 1, true)
}

// statusPayload encodes a system status message.
func statusPayload(status, clientID, reason string) []byte {
	msg := struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{status, clientID, reason, time.Now().UTC().Format(time.RFC3339)}

	b, _ := json.Marshal(msg) //nolint:errcheck // plain strings always marshal
	return b
}
