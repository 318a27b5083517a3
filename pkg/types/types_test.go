package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestRiskCategoryBoundaries(t *testing.T) {
	is := is.New(t)

	is.Equal(RiskCategoryLow, RiskCategoryOf(0))
	is.Equal(RiskCategoryLow, RiskCategoryOf(33))
	is.Equal(RiskCategoryMedium, RiskCategoryOf(34))
	is.Equal(RiskCategoryMedium, RiskCategoryOf(66))
	is.Equal(RiskCategoryHigh, RiskCategoryOf(67))
	is.Equal(RiskCategoryHigh, RiskCategoryOf(100))
}

func TestCATScoreIsSumOfResponses(t *testing.T) {
	is := is.New(t)

	report := SymptomReport{CATResponses: []int{5, 5, 5, 5, 5, 5, 5, 5}}
	is.Equal(40, report.CATScore())

	report.CATResponses = []int{0, 1, 2, 3, 0, 1, 2, 3}
	is.Equal(12, report.CATScore())
}

func TestSymptomReportValidation(t *testing.T) {
	is := is.New(t)

	report := SymptomReport{CATResponses: []int{0, 1, 2, 3, 4, 5, 0, 1}, MMRCGrade: 2}
	is.True(report.Valid())

	report.CATResponses = []int{0, 1, 2}
	is.True(!report.Valid())

	report.CATResponses = []int{0, 1, 2, 3, 4, 6, 0, 1}
	is.True(!report.Valid())

	report.CATResponses = []int{0, 1, 2, 3, 4, 5, 0, 1}
	report.MMRCGrade = 5
	is.True(!report.Valid())
}

func TestAlertRoundTrip(t *testing.T) {
	is := is.New(t)

	ackAt := time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)

	alert := Alert{
		ID:             "a-01",
		PatientID:      "patient-01",
		Tenant:         "default",
		Severity:       SeverityCritical,
		Condition:      "low_spo2",
		Title:          "Low blood oxygen",
		Message:        "SpO2 below 88% for more than 2 minutes",
		ActionSteps:    []string{"Contact the patient", "Verify sensor placement"},
		State:          AlertAcknowledged,
		CreatedAt:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		AcknowledgedBy: "nurse-7",
		AcknowledgedAt: &ackAt,
	}

	b, err := json.Marshal(alert)
	is.NoErr(err)

	var got Alert
	is.NoErr(json.Unmarshal(b, &got))

	is.Equal(alert.ID, got.ID)
	is.Equal(alert.Severity, got.Severity)
	is.Equal(alert.Condition, got.Condition)
	is.Equal(alert.State, got.State)
	is.Equal(alert.ActionSteps, got.ActionSteps)
	is.Equal(alert.AcknowledgedBy, got.AcknowledgedBy)
	is.True(got.AcknowledgedAt.Equal(ackAt))
}

func TestRiskScoreRoundTrip(t *testing.T) {
	is := is.New(t)

	score := RiskScore{
		PatientID: "patient-01",
		Overall:   72.5,
		Components: RiskComponents{
			Vitals:      80,
			Symptoms:    65,
			Medication:  30,
			Environment: 25,
		},
		Category:   RiskCategoryHigh,
		Confidence: 0.82,
		Factors:    []string{"2 vital sign anomalies in the last hour", "CAT score 26 of 40"},
		Source:     RiskSourceModel,
		Tenant:     "default",
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	b, err := json.Marshal(score)
	is.NoErr(err)

	var got RiskScore
	is.NoErr(json.Unmarshal(b, &got))

	is.Equal(score.Overall, got.Overall)
	is.Equal(score.Components, got.Components)
	is.Equal(score.Factors, got.Factors)
	is.Equal(score.Source, got.Source)
}

func TestBaselineRoundTrip(t *testing.T) {
	is := is.New(t)

	established := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	baseline := Baseline{
		PatientID:       "patient-01",
		Signal:          SignalHeartRate,
		Mean:            72.4,
		StdDev:          4.1,
		M2:              3361.2,
		SampleCount:     201,
		WindowStartedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		EstablishedAt:   &established,
		Status:          BaselineFinalized,
		Tenant:          "default",
	}

	b, err := json.Marshal(baseline)
	is.NoErr(err)

	var got Baseline
	is.NoErr(json.Unmarshal(b, &got))

	is.Equal(baseline.Mean, got.Mean)
	is.Equal(baseline.SampleCount, got.SampleCount)
	is.True(got.Finalized())
	is.True(got.EstablishedAt.Equal(established))
}
