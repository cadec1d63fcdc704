package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guardian/internal/logger"
	"guardian/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

const defaultPublishTimeout = 5 * time.Second

type Client struct {
	client         mqtt.Client
	config         models.MQTTConfig
	publishTimeout time.Duration
	log            *logger.Logger
}

func NewClient(cfg models.MQTTConfig, log *logger.Logger) *Client {
	log = log.With("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnf("Lost connection to MQTT broker: %v", err)
	})

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	client := mqtt.NewClient(opts)
	return &Client{
		client:         client,
		config:         cfg,
		publishTimeout: timeout,
		log:            log,
	}
}

func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// SubscribeTriggers feeds manual alert requests from the triggers topic into
// triggers. Malformed payloads are logged and dropped, as are requests that
// arrive after ctx is done.
func (c *Client) SubscribeTriggers(ctx context.Context, triggers chan<- models.TriggerRequest) error {
	token := c.client.Subscribe(c.config.TriggersTopic, 0, func(client mqtt.Client, msg mqtt.Message) {
		req, err := ParseTrigger(msg.Payload())
		if err != nil {
			c.log.Warnf("Dropping trigger from %s: %v", msg.Topic(), err)
			return
		}
		select {
		case triggers <- req:
		case <-ctx.Done():
			c.log.Warnf("Dropping trigger %q from %s: shutting down", req.Type, msg.Topic())
		}
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	c.log.Infof("Subscribed to topic: %s", c.config.TriggersTopic)
	return nil
}

// ParseTrigger decodes and validates one trigger payload.
func ParseTrigger(payload []byte) (models.TriggerRequest, error) {
	var req models.TriggerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return models.TriggerRequest{}, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	if err := req.Validate(); err != nil {
		return models.TriggerRequest{}, err
	}
	return req, nil
}

func (c *Client) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := c.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: %s after %v", ErrPublishTimeout, topic, c.publishTimeout)
	}
	return token.Error()
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
