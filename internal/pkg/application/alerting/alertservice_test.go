package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"log/slog"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

func testSetup(t *testing.T, suppressor *Suppressor) (*is.I, *AlertRepositoryMock, *messaging.MsgContextMock, AlertService) {
	is := is.New(t)

	repo := &AlertRepositoryMock{
		AddAlertFunc: func(ctx context.Context, alert types.Alert) error {
			return nil
		},
		UpdateAlertFunc: func(ctx context.Context, alert types.Alert) error {
			return nil
		},
	}

	messenger := &messaging.MsgContextMock{
		RegisterTopicMessageHandlerFunc: func(routingKey string, handler messaging.TopicMessageHandler) error {
			return nil
		},
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	return is, repo, messenger, New(repo, messenger, suppressor)
}

func candidate(condition, severity string, at time.Time) types.Alert {
	d, _ := Describe(condition)

	return types.Alert{
		PatientID:   "patient-01",
		Tenant:      "default",
		Severity:    severity,
		Condition:   condition,
		Title:       d.Title,
		Message:     "test",
		ActionSteps: d.ActionSteps,
		CreatedAt:   at,
	}
}

func TestOpenAssignsIdentityAndPublishes(t *testing.T) {
	is, repo, messenger, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	created, err := svc.Open(ctx, candidate(ConditionLowSpO2, types.SeverityCritical, t0))
	is.NoErr(err)
	is.Equal(1, len(created))
	is.True(created[0].ID != "")
	is.Equal(types.AlertOpen, created[0].State)

	is.Equal(1, len(repo.AddAlertCalls()))
	is.Equal(ConditionLowSpO2, repo.AddAlertCalls()[0].Alert.Condition)

	is.Equal(1, len(messenger.PublishOnTopicCalls()))
	is.Equal("alerts.alertCreated", messenger.PublishOnTopicCalls()[0].Message.TopicName())

	evt := AlertCreated{}
	err = json.Unmarshal(messenger.PublishOnTopicCalls()[0].Message.Body(), &evt)
	is.NoErr(err)
	is.Equal(created[0].ID, evt.Alert.ID)
	is.Equal("default", evt.Tenant)
}

func TestOpenSuppressesDuplicates(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	_, err := svc.Open(ctx, candidate(ConditionLowSpO2, types.SeverityCritical, t0))
	is.NoErr(err)

	created, err := svc.Open(ctx, candidate(ConditionLowSpO2, types.SeverityCritical, t0.Add(30*time.Minute)))
	is.NoErr(err)
	is.Equal(0, len(created))
	is.Equal(1, len(repo.AddAlertCalls()))
}

func TestOpenFoldsIntoAStormAlert(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Open(ctx, candidate(fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute)))
		is.NoErr(err)
	}

	created, err := svc.Open(ctx, candidate(ConditionDecliningActivity, types.SeverityWarning, t0.Add(4*time.Minute)))
	is.NoErr(err)

	is.Equal(1, len(created))
	is.Equal(ConditionAlertStorm, created[0].Condition)
	is.Equal(types.SeverityWarning, created[0].Severity)

	is.Equal(4, len(repo.AddAlertCalls()))
	is.Equal(ConditionAlertStorm, repo.AddAlertCalls()[3].Alert.Condition)
}

func TestOpenPassesCriticalsDuringAStorm(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Open(ctx, candidate(fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute)))
		is.NoErr(err)
	}

	created, err := svc.Open(ctx, candidate(ConditionLowSpO2, types.SeverityCritical, t0.Add(4*time.Minute)))
	is.NoErr(err)

	is.Equal(2, len(created))
	is.Equal(ConditionLowSpO2, created[0].Condition)
	is.Equal(ConditionAlertStorm, created[1].Condition)
	is.Equal(5, len(repo.AddAlertCalls()))
}

func TestAcknowledgeTransitionsAndPublishes(t *testing.T) {
	is, repo, messenger, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{ID: "alert-01", PatientID: "patient-01", Tenant: "default", Severity: types.SeverityCritical, State: types.AlertOpen}, nil
	}

	err := svc.Acknowledge(ctx, "alert-01", "nurse-01", []string{"default"})
	is.NoErr(err)

	is.Equal(1, len(repo.UpdateAlertCalls()))
	updated := repo.UpdateAlertCalls()[0].Alert
	is.Equal(types.AlertAcknowledged, updated.State)
	is.Equal("nurse-01", updated.AcknowledgedBy)
	is.True(updated.AcknowledgedAt != nil)

	is.Equal(1, len(messenger.PublishOnTopicCalls()))
	is.Equal("alerts.alertAcknowledged", messenger.PublishOnTopicCalls()[0].Message.TopicName())
}

func TestEscalateSetsTimestampAndPublishes(t *testing.T) {
	is, repo, messenger, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{ID: "alert-01", PatientID: "patient-01", Tenant: "default", Severity: types.SeverityCritical, State: types.AlertOpen}, nil
	}

	err := svc.Escalate(ctx, "alert-01", []string{"default"})
	is.NoErr(err)

	updated := repo.UpdateAlertCalls()[0].Alert
	is.Equal(types.AlertEscalated, updated.State)
	is.True(updated.EscalatedAt != nil)

	is.Equal("alerts.alertEscalated", messenger.PublishOnTopicCalls()[0].Message.TopicName())
}

func TestAcknowledgedAlertsDoNotEscalate(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{ID: "alert-01", State: types.AlertAcknowledged}, nil
	}

	err := svc.Escalate(ctx, "alert-01", []string{"default"})
	is.True(errors.Is(err, ErrInvalidTransition))
	is.Equal(0, len(repo.UpdateAlertCalls()))
}

func TestResolvedIsTerminal(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{ID: "alert-01", State: types.AlertResolved}, nil
	}

	is.True(errors.Is(svc.Acknowledge(ctx, "alert-01", "nurse-01", []string{"default"}), ErrInvalidTransition))
	is.True(errors.Is(svc.Resolve(ctx, "alert-01", []string{"default"}), ErrInvalidTransition))
	is.True(errors.Is(svc.Escalate(ctx, "alert-01", []string{"default"}), ErrInvalidTransition))
}

func TestEscalatedAlertsCanBeAcknowledged(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{ID: "alert-01", Tenant: "default", State: types.AlertEscalated}, nil
	}

	err := svc.Acknowledge(ctx, "alert-01", "oncall-01", []string{"default"})
	is.NoErr(err)
	is.Equal(types.AlertAcknowledged, repo.UpdateAlertCalls()[0].Alert.State)
}

func TestGetByIDReportsNotFound(t *testing.T) {
	is, repo, _, svc := testSetup(t, NewSuppressor(0, 0))
	ctx := context.Background()

	repo.GetAlertFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error) {
		return types.Alert{}, storage.ErrNoRows
	}

	_, err := svc.GetByID(ctx, "no-such-alert", []string{"default"})
	is.True(errors.Is(err, ErrAlertNotFound))
}

func TestPatientNotObservedHandlerOpensAlert(t *testing.T) {
	is := is.New(t)
	log := slog.Default()
	ctx := context.Background()

	svc := &AlertServiceMock{
		QueryFunc: func(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Alert], error) {
			return types.Collection[types.Alert]{}, nil
		},
		OpenFunc: func(ctx context.Context, alert types.Alert) ([]types.Alert, error) {
			return []types.Alert{alert}, nil
		},
	}
	m := &messaging.MsgContextMock{}

	msg := &messaging.IncomingTopicMessageMock{
		BodyFunc: func() []byte {
			b, _ := json.Marshal(patientNotObserved{
				PatientID:  "patient-01",
				Tenant:     "default",
				ObservedAt: t0,
			})
			return b
		},
	}

	handler := NewPatientNotObservedHandler(m, svc)
	handler(ctx, msg, log)

	is.Equal(1, len(svc.OpenCalls()))
	opened := svc.OpenCalls()[0].Alert
	is.Equal(ConditionNoDataReceived, opened.Condition)
	is.Equal(types.SeverityCritical, opened.Severity)
	is.Equal("patient-01", opened.PatientID)
}

func TestPatientNotObservedHandlerSkipsWhenAlertIsStillOpen(t *testing.T) {
	is := is.New(t)
	log := slog.Default()
	ctx := context.Background()

	svc := &AlertServiceMock{
		QueryFunc: func(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Alert], error) {
			return types.Collection[types.Alert]{
				Data:  []types.Alert{{ID: "alert-01", Condition: ConditionNoDataReceived, State: types.AlertOpen}},
				Count: 1,
			}, nil
		},
	}
	m := &messaging.MsgContextMock{}

	msg := &messaging.IncomingTopicMessageMock{
		BodyFunc: func() []byte {
			b, _ := json.Marshal(patientNotObserved{PatientID: "patient-01", Tenant: "default", ObservedAt: t0})
			return b
		},
	}

	handler := NewPatientNotObservedHandler(m, svc)
	handler(ctx, msg, log)

	is.Equal(0, len(svc.OpenCalls()))
}
