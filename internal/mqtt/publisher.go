package mqtt

import (
	"guardian/internal/logger"
	"guardian/internal/models"
)

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// AlertMessage is the payload published for each alert transition
type AlertMessage struct {
	Type  string       `json:"type"`
	Alert models.Alert `json:"alert"`
}

// AlertPublisher forwards dispatched alerts to Topic and resolutions to
// Topic + "/resolved".
type AlertPublisher struct {
	pub   Publisher
	topic string
	log   *logger.Logger
}

func NewAlertPublisher(pub Publisher, topic string, log *logger.Logger) *AlertPublisher {
	return &AlertPublisher{
		pub:   pub,
		topic: topic,
		log:   log.With("mqtt"),
	}
}

func (p *AlertPublisher) OnAlert(a models.Alert) error {
	if err := p.pub.Publish(p.topic, AlertMessage{Type: "new", Alert: a}); err != nil {
		return err
	}
	p.log.Debugf("Published alert %s (%s) to %s", a.ID, a.Severity, p.topic)
	return nil
}

func (p *AlertPublisher) OnResolve(a models.Alert) error {
	topic := p.topic + "/resolved"
	if err := p.pub.Publish(topic, AlertMessage{Type: "resolved", Alert: a}); err != nil {
		return err
	}
	p.log.Debugf("Published resolution of %s to %s", a.ID, topic)
	return nil
}
