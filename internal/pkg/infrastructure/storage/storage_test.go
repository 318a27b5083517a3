package storage

import (
	"context"
	"testing"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/google/uuid"
	"github.com/matryer/is"
)

func testSetup(t *testing.T) (context.Context, *Storage) {
	ctx := context.Background()

	config := Config{
		host:     "localhost",
		user:     "postgres",
		password: "password",
		port:     "5432",
		dbname:   "postgres",
		sslmode:  "disable",
	}

	s, err := New(ctx, config)
	if err != nil {
		t.SkipNow()
	}

	err = s.CreateTables(ctx)
	if err != nil {
		t.SkipNow()
	}

	err = s.CreateOrUpdatePatient(ctx, types.Patient{
		PatientID: "patient-01",
		Name:      "Alice Andersson",
		Active:    true,
		Tenant:    "default",
		Contact: types.Contact{
			Name:  "Alice Andersson",
			Phone: "+46700000001",
		},
		CareTeam: types.CareTeam{
			OnCall: types.Contact{Name: "Nurse Line", Email: "oncall@example.com"},
		},
		ActivityGoalMinutes: 30,
	})
	if err != nil {
		t.SkipNow()
	}

	return ctx, s
}

func TestGetPatient(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	p, err := s.GetPatient(ctx, "patient-01", []string{"default"})
	is.NoErr(err)
	is.Equal("Alice Andersson", p.Name)
	is.Equal("+46700000001", p.Contact.Phone)
}

func TestGetPatientWrongTenant(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	_, err := s.GetPatient(ctx, "patient-01", []string{"other"})
	is.True(err != nil)
}

func TestQueryPatientsWithActive(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	c, err := s.QueryPatients(ctx, WithActive(true), WithTenants([]string{"default"}))
	is.NoErr(err)
	is.True(len(c.Data) > 0)
}

func TestSetLastObservedNeverMovesBackwards(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	now := time.Now().UTC()

	err := s.SetLastObserved(ctx, "patient-01", now)
	is.NoErr(err)

	err = s.SetLastObserved(ctx, "patient-01", now.Add(-1*time.Hour))
	is.NoErr(err)

	p, err := s.GetPatient(ctx, "patient-01", []string{"default"})
	is.NoErr(err)
	is.True(!p.LastObservedAt.Before(now.Truncate(time.Millisecond)))
}

func TestSaveBaselineIsUpsert(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	b := types.Baseline{
		PatientID:       "patient-01",
		Signal:          types.SignalSpO2,
		Mean:            94,
		StdDev:          1.2,
		M2:              20.16,
		SampleCount:     15,
		WindowStartedAt: time.Now().UTC().Add(-15 * 24 * time.Hour),
		Status:          types.BaselineAccumulating,
		Tenant:          "default",
	}

	err := s.SaveBaseline(ctx, b)
	is.NoErr(err)

	established := time.Now().UTC()
	b.Status = types.BaselineFinalized
	b.EstablishedAt = &established

	err = s.SaveBaseline(ctx, b)
	is.NoErr(err)

	stored, err := s.GetBaseline(ctx, "patient-01", types.SignalSpO2, []string{"default"})
	is.NoErr(err)
	is.Equal(types.BaselineFinalized, stored.Status)
	is.True(stored.EstablishedAt != nil)
}

func TestAlertLifecycle(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	alert := types.Alert{
		ID:          uuid.NewString(),
		PatientID:   "patient-01",
		Tenant:      "default",
		Severity:    types.SeverityCritical,
		Condition:   "low_spo2",
		Title:       "Low oxygen saturation",
		Message:     "SpO2 sustained below 88%",
		ActionSteps: []string{"Contact patient"},
		State:       types.AlertOpen,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.AddAlert(ctx, alert)
	is.NoErr(err)

	stored, err := s.GetAlert(ctx, WithAlertID(alert.ID), WithTenants([]string{"default"}))
	is.NoErr(err)
	is.Equal(types.AlertOpen, stored.State)

	now := time.Now().UTC()
	stored.State = types.AlertAcknowledged
	stored.AcknowledgedBy = "nurse-07"
	stored.AcknowledgedAt = &now

	err = s.UpdateAlert(ctx, stored)
	is.NoErr(err)

	stored, err = s.GetAlert(ctx, WithAlertID(alert.ID), WithTenants([]string{"default"}))
	is.NoErr(err)
	is.Equal(types.AlertAcknowledged, stored.State)
	is.Equal("nurse-07", stored.AcknowledgedBy)
}

func TestQueryAlertsByState(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	alert := types.Alert{
		ID:          uuid.NewString(),
		PatientID:   "patient-01",
		Tenant:      "default",
		Severity:    types.SeverityWarning,
		Condition:   "poor_adherence",
		Title:       "Medication adherence below target",
		Message:     "Adherence at 60% over the last week",
		ActionSteps: []string{"Review medication schedule"},
		State:       types.AlertOpen,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.AddAlert(ctx, alert)
	is.NoErr(err)

	c, err := s.QueryAlerts(ctx, WithStates([]string{types.AlertOpen}), WithTenants([]string{"default"}))
	is.NoErr(err)
	is.True(len(c.Data) > 0)
	is.True(c.TotalCount >= c.Count)
}

func TestLatestRiskScore(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	now := time.Now().UTC()

	older := types.RiskScore{
		PatientID:  "patient-01",
		Overall:    42,
		Components: types.RiskComponents{Vitals: 50, Symptoms: 40, Medication: 30, Environment: 25},
		Category:   types.RiskCategoryMedium,
		Confidence: 0.75,
		Factors:    []string{"vital signs deviating from baseline"},
		Source:     types.RiskSourceRules,
		Tenant:     "default",
		Timestamp:  now.Add(-1 * time.Hour),
	}

	newer := older
	newer.Overall = 71
	newer.Category = types.RiskCategoryHigh
	newer.Timestamp = now

	is.NoErr(s.AddRiskScore(ctx, older))
	is.NoErr(s.AddRiskScore(ctx, newer))

	latest, err := s.GetLatestRiskScore(ctx, "patient-01", []string{"default"})
	is.NoErr(err)
	is.Equal(71.0, latest.Overall)
	is.Equal(types.RiskCategoryHigh, latest.Category)
}

func TestNotificationAttemptHistory(t *testing.T) {
	is := is.New(t)
	ctx, s := testSetup(t)

	alertID := uuid.NewString()

	err := s.AddNotificationAttempt(ctx, types.NotificationAttempt{
		AlertID:     alertID,
		Recipient:   "patient-01",
		Channel:     types.ChannelPush,
		Outcome:     types.OutcomeFailed,
		Error:       "gateway timeout",
		Tenant:      "default",
		AttemptedAt: time.Now().UTC(),
	})
	is.NoErr(err)

	c, err := s.QueryNotificationAttempts(ctx, WithAlertID(alertID), WithTenants([]string{"default"}))
	is.NoErr(err)
	is.Equal(uint64(1), c.Count)
	is.Equal(types.ChannelPush, c.Data[0].Channel)
}
