package types

import (
	"time"
)

type Collection[T any] struct {
	Data       []T
	Count      uint64
	Offset     uint64
	Limit      uint64
	TotalCount uint64
}

const (
	SignalSpO2            string = "spo2"
	SignalHeartRate       string = "heart_rate"
	SignalRespiratoryRate string = "respiratory_rate"
	SignalTemperature     string = "temperature"
)

func ValidSignal(signal string) bool {
	switch signal {
	case SignalSpO2, SignalHeartRate, SignalRespiratoryRate, SignalTemperature:
		return true
	}
	return false
}

const (
	ActivityResting string = "resting"
	ActivityLight   string = "light"
	ActivityActive  string = "active"
)

type VitalSample struct {
	PatientID    string    `json:"patientID"`
	Signal       string    `json:"signal"`
	Value        float64   `json:"value"`
	Activity     string    `json:"activity,omitempty"`
	BatteryLevel *float64  `json:"batteryLevel,omitempty"`
	Tenant       string    `json:"tenant"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	BaselineAccumulating string = "accumulating"
	BaselineFinalized    string = "finalized"
)

type Baseline struct {
	PatientID       string     `json:"patientID"`
	Signal          string     `json:"signal"`
	Mean            float64    `json:"mean"`
	StdDev          float64    `json:"stdDev"`
	M2              float64    `json:"m2"`
	SampleCount     int64      `json:"sampleCount"`
	WindowStartedAt time.Time  `json:"windowStartedAt"`
	EstablishedAt   *time.Time `json:"establishedAt,omitempty"`
	Status          string     `json:"status"`
	Tenant          string     `json:"tenant"`
}

func (b Baseline) Finalized() bool {
	return b.Status == BaselineFinalized
}

type AnomalyEvent struct {
	PatientID      string    `json:"patientID"`
	Signal         string    `json:"signal"`
	Value          float64   `json:"value"`
	BaselineMean   float64   `json:"baselineMean"`
	BaselineStdDev float64   `json:"baselineStdDev"`
	Deviation      float64   `json:"deviation"`
	Tenant         string    `json:"tenant"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	RiskCategoryLow    string = "low"
	RiskCategoryMedium string = "medium"
	RiskCategoryHigh   string = "high"

	RiskSourceModel string = "model"
	RiskSourceRules string = "rules"
)

type RiskComponents struct {
	Vitals      float64 `json:"vitals"`
	Symptoms    float64 `json:"symptoms"`
	Medication  float64 `json:"medication"`
	Environment float64 `json:"environment"`
}

type RiskScore struct {
	PatientID  string         `json:"patientID"`
	Overall    float64        `json:"overall"`
	Components RiskComponents `json:"components"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Factors    []string       `json:"factors"`
	Source     string         `json:"source"`
	Tenant     string         `json:"tenant"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RiskCategoryOf maps an overall score on the 0-100 scale to its category.
// Boundaries are inclusive: 0-33 low, 34-66 medium, 67-100 high.
func RiskCategoryOf(overall float64) string {
	switch {
	case overall <= 33:
		return RiskCategoryLow
	case overall <= 66:
		return RiskCategoryMedium
	default:
		return RiskCategoryHigh
	}
}

const (
	SeverityCritical string = "critical"
	SeverityWarning  string = "warning"
	SeverityInfo     string = "info"
)

const (
	AlertOpen         string = "open"
	AlertAcknowledged string = "acknowledged"
	AlertEscalated    string = "escalated"
	AlertResolved     string = "resolved"
)

type Alert struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patientID"`
	Tenant         string     `json:"tenant"`
	Severity       string     `json:"severity"`
	Condition      string     `json:"condition"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	ActionSteps    []string   `json:"actionSteps"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	EscalatedAt    *time.Time `json:"escalatedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

func (a Alert) IsOpen() bool {
	return a.State == AlertOpen || a.State == AlertAcknowledged || a.State == AlertEscalated
}

const (
	ChannelPush      string = "push"
	ChannelSMS       string = "sms"
	ChannelEmail     string = "email"
	ChannelDashboard string = "dashboard"

	OutcomeSent      string = "sent"
	OutcomeFailed    string = "failed"
	OutcomeExhausted string = "exhausted"
)

type NotificationAttempt struct {
	AlertID     string    `json:"alertID"`
	Recipient   string    `json:"recipient"`
	Channel     string    `json:"channel"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Tenant      string    `json:"tenant"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

const (
	CATResponseCount int = 8
	CATResponseMax   int = 5
	MMRCGradeMax     int = 4
)

type SymptomReport struct {
	PatientID    string    `json:"patientID"`
	CATResponses []int     `json:"catResponses"`
	MMRCGrade    int       `json:"mmrcGrade"`
	Notes        string    `json:"notes,omitempty"`
	Tenant       string    `json:"tenant"`
	Timestamp    time.Time `json:"timestamp"`
}

// CATScore sums the eight COPD Assessment Test responses to a 0-40 total.
func (s SymptomReport) CATScore() int {
	total := 0
	for _, r := range s.CATResponses {
		total += r
	}
	return total
}

func (s SymptomReport) Valid() bool {
	if len(s.CATResponses) != CATResponseCount {
		return false
	}
	for _, r := range s.CATResponses {
		if r < 0 || r > CATResponseMax {
			return false
		}
	}
	return s.MMRCGrade >= 0 && s.MMRCGrade <= MMRCGradeMax
}

const (
	MedicationDoseTaken     string = "dose_taken"
	MedicationDoseScheduled string = "dose_scheduled"
	MedicationDoseMissed    string = "dose_missed"
	MedicationInhalerUse    string = "inhaler_use"
)

type MedicationEvent struct {
	PatientID  string    `json:"patientID"`
	Kind       string    `json:"kind"`
	Medication string    `json:"medication,omitempty"`
	Tenant     string    `json:"tenant"`
	Timestamp  time.Time `json:"timestamp"`
}

type EnvironmentData struct {
	PatientID string    `json:"patientID"`
	AQI       int       `json:"aqi"`
	PM25      float64   `json:"pm25,omitempty"`
	Ozone     float64   `json:"ozone,omitempty"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

type Contact struct {
	Name      string `json:"name,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

type CareTeam struct {
	Caregivers []Contact `json:"caregivers,omitempty"`
	OnCall     Contact   `json:"onCall"`
}

type Patient struct {
	PatientID           string     `json:"patientID"`
	Name                string     `json:"name"`
	Active              bool       `json:"active"`
	Tenant              string     `json:"tenant"`
	Contact             Contact    `json:"contact"`
	CareTeam            CareTeam   `json:"careTeam"`
	ActivityGoalMinutes int        `json:"activityGoalMinutes,omitempty"`
	LastObservedAt      *time.Time `json:"lastObservedAt,omitempty"`
}
