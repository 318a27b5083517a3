package types

import (
	"encoding/json"
	"time"
)

type RiskScoreComputed struct {
	RiskScore RiskScore `json:"riskScore"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *RiskScoreComputed) ContentType() string {
	return "application/json"
}
func (r *RiskScoreComputed) TopicName() string {
	return "risk.scoreComputed"
}
func (r *RiskScoreComputed) Body() []byte {
	b, _ := json.Marshal(r)
	return b
}

type BaselineEstablished struct {
	PatientID string    `json:"patientID"`
	Signal    string    `json:"signal"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stdDev"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *BaselineEstablished) ContentType() string {
	return "application/json"
}
func (b *BaselineEstablished) TopicName() string {
	return "baselines.baselineEstablished"
}
func (b *BaselineEstablished) Body() []byte {
	bytes, _ := json.Marshal(b)
	return bytes
}
