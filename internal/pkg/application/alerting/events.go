package alerting

import (
	"encoding/json"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

type AlertCreated struct {
	Alert     types.Alert `json:"alert"`
	Tenant    string      `json:"tenant"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a *AlertCreated) ContentType() string {
	return "application/json"
}
func (a *AlertCreated) TopicName() string {
	return "alerts.alertCreated"
}
func (a *AlertCreated) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertAcknowledged struct {
	ID        string    `json:"id"`
	By        string    `json:"by"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertAcknowledged) ContentType() string {
	return "application/json"
}
func (a *AlertAcknowledged) TopicName() string {
	return "alerts.alertAcknowledged"
}
func (a *AlertAcknowledged) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertEscalated struct {
	Alert     types.Alert `json:"alert"`
	Tenant    string      `json:"tenant"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a *AlertEscalated) ContentType() string {
	return "application/json"
}
func (a *AlertEscalated) TopicName() string {
	return "alerts.alertEscalated"
}
func (a *AlertEscalated) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertResolved struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertResolved) ContentType() string {
	return "application/json"
}
func (a *AlertResolved) TopicName() string {
	return "alerts.alertResolved"
}
func (a *AlertResolved) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}
