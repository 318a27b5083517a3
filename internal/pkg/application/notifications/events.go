package notifications

import (
	"encoding/json"
	"time"
)

type ManualFollowUp struct {
	AlertID   string    `json:"alertID"`
	PatientID string    `json:"patientID"`
	Recipient string    `json:"recipient"`
	Channels  []string  `json:"channels"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *ManualFollowUp) ContentType() string {
	return "application/json"
}
func (m *ManualFollowUp) TopicName() string {
	return "notifications.manualFollowUp"
}
func (m *ManualFollowUp) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
