package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Options configure the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	Timeout  time.Duration
}

// RealClient publishes to an actual MQTT broker.
type RealClient struct {
	client  paho.Client
	timeout time.Duration
}

// Connect dials the broker. The last will marks the service offline on
// <prefix>/availability; every (re)connect marks it online again.
func Connect(opts Options) (*RealClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	availability := NewTopics(opts.Prefix).Availability

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availability, Offline, 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			log.Info().Str("broker", opts.Broker).Msg("MQTT connected")
			c.Publish(availability, 1, true, Online)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	client := paho.NewClient(pahoOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealClient{client: client, timeout: opts.Timeout}, nil
}

// Publish sends payload with QoS 1.
func (c *RealClient) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
