package mqtt

import (
	"context"
	"testing"
	"time"

	"guardian/internal/logger"
	"guardian/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken completes immediately unless stalled
type fakeToken struct {
	stalled bool
	err     error
}

func (t *fakeToken) Wait() bool {
	return !t.stalled
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return !t.stalled
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.stalled {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}

// fakeBroker stands in for a paho client; only Publish and Subscribe are used
type fakeBroker struct {
	mqtt.Client
	stalled bool
	handler mqtt.MessageHandler
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return &fakeToken{stalled: b.stalled}
}

func (b *fakeBroker) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	b.handler = callback
	return &fakeToken{}
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func newTestClient(broker *fakeBroker) *Client {
	return &Client{
		client:         broker,
		config:         models.MQTTConfig{TriggersTopic: "guardian/triggers"},
		publishTimeout: 20 * time.Millisecond,
		log:            logger.Discard(),
	}
}

func TestPublishTimesOutOnStalledBroker(t *testing.T) {
	c := newTestClient(&fakeBroker{stalled: true})
	err := c.Publish("guardian/alerts", AlertMessage{Type: "new"})
	assert.ErrorIs(t, err, ErrPublishTimeout)

	c = newTestClient(&fakeBroker{})
	assert.NoError(t, c.Publish("guardian/alerts", AlertMessage{Type: "new"}))
}

func TestSubscribeTriggersDelivers(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(broker)
	triggers := make(chan models.TriggerRequest, 1)

	require.NoError(t, c.SubscribeTriggers(context.Background(), triggers))
	require.NotNil(t, broker.handler)

	broker.handler(broker, &fakeMessage{topic: "guardian/triggers", payload: []byte(`{"message":"no type"}`)})
	broker.handler(broker, &fakeMessage{topic: "guardian/triggers", payload: []byte(`{"type":"manual"}`)})

	require.Len(t, triggers, 1)
	assert.Equal(t, "manual", (<-triggers).Type)
}

func TestSubscribeTriggersDropsAfterShutdown(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(broker)
	ctx, cancel := context.WithCancel(context.Background())
	triggers := make(chan models.TriggerRequest) // nobody reads

	require.NoError(t, c.SubscribeTriggers(ctx, triggers))
	cancel()

	returned := make(chan struct{})
	go func() {
		broker.handler(broker, &fakeMessage{topic: "guardian/triggers", payload: []byte(`{"type":"manual"}`)})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("trigger handler blocked after shutdown")
	}
}
