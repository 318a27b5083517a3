package webevents

import (
	"encoding/json"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

const (
	EventAlertCreated        = "alertCreated"
	EventAlertUpdated        = "alertUpdated"
	EventRiskScoreComputed   = "riskScoreComputed"
	EventBaselineEstablished = "baselineEstablished"
)

//go:generate moq -rm -out webevents_mock.go . WebEvents
type WebEvents interface {
	Server() *gosse.Server
	Shutdown()
	Publish(event string, data any) error
	PublishAlert(alert types.Alert) error
	PublishRiskScore(score types.RiskScore) error
}

type webEvents struct {
	s *gosse.Server
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{}),
	}
}

func (we *webEvents) Server() *gosse.Server {
	return we.s
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) Publish(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	message := gosse.NewMessage("", string(b), event)
	we.s.SendMessage("", message)

	return nil
}

func (we *webEvents) PublishAlert(alert types.Alert) error {
	event := EventAlertCreated
	if alert.State != types.AlertOpen {
		event = EventAlertUpdated
	}

	return we.Publish(event, alert)
}

func (we *webEvents) PublishRiskScore(score types.RiskScore) error {
	return we.Publish(EventRiskScoreComputed, score)
}
