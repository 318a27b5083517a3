package watchdog

import (
	"encoding/json"
	"time"
)

type PatientNotObserved struct {
	PatientID  string    `json:"patientID"`
	Tenant     string    `json:"tenant"`
	ObservedAt time.Time `json:"observedAt"`
}

func (p *PatientNotObserved) ContentType() string {
	return "application/json"
}
func (p *PatientNotObserved) TopicName() string {
	return "watchdog.patientNotObserved"
}
func (p *PatientNotObserved) Body() []byte {
	b, _ := json.Marshal(p)
	return b
}
