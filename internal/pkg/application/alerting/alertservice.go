package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/metrics"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
)

//go:generate moq -rm -out alertservice_mock.go . AlertService
type AlertService interface {
	Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Alert], error)
	GetByID(ctx context.Context, alertID string, tenants []string) (types.Alert, error)
	GetByPatientID(ctx context.Context, patientID string, offset, limit int, tenants []string) (types.Collection[types.Alert], error)
	Open(ctx context.Context, alert types.Alert) ([]types.Alert, error)
	Acknowledge(ctx context.Context, alertID, by string, tenants []string) error
	Resolve(ctx context.Context, alertID string, tenants []string) error
	Escalate(ctx context.Context, alertID string, tenants []string) error
}

var (
	ErrAlertNotFound     = fmt.Errorf("alert not found")
	ErrInvalidTransition = fmt.Errorf("invalid alert state transition")
)

//go:generate moq -rm -out alertrepository_mock.go . AlertRepository
type AlertRepository interface {
	QueryAlerts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error)
	GetAlert(ctx context.Context, conditions ...storage.ConditionFunc) (types.Alert, error)
	AddAlert(ctx context.Context, alert types.Alert) error
	UpdateAlert(ctx context.Context, alert types.Alert) error
}

type alertSvc struct {
	storage    AlertRepository
	messenger  messaging.MsgContext
	suppressor *Suppressor
}

func New(s AlertRepository, m messaging.MsgContext, suppressor *Suppressor) AlertService {
	svc := &alertSvc{
		storage:    s,
		messenger:  m,
		suppressor: suppressor,
	}

	svc.messenger.RegisterTopicMessageHandler("watchdog.patientNotObserved", NewPatientNotObservedHandler(m, svc))

	return svc
}

func (svc alertSvc) Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Alert], error) {
	conditions := storage.ParseConditions(ctx, params)
	conditions = append(conditions, storage.WithTenants(tenants))

	alerts, err := svc.storage.QueryAlerts(ctx, conditions...)
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}

	return alerts, nil
}

func (svc alertSvc) GetByID(ctx context.Context, alertID string, tenants []string) (types.Alert, error) {
	alert, err := svc.storage.GetAlert(ctx, storage.WithAlertID(alertID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Alert{}, ErrAlertNotFound
		}
		return types.Alert{}, err
	}

	return alert, nil
}

func (svc alertSvc) GetByPatientID(ctx context.Context, patientID string, offset, limit int, tenants []string) (types.Collection[types.Alert], error) {
	alerts, err := svc.storage.QueryAlerts(ctx, storage.WithPatientID(patientID), storage.WithOffset(offset), storage.WithLimit(limit), storage.WithTenants(tenants))
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}

	return alerts, nil
}

// Open runs a candidate alert through suppression and persists what survives.
// The returned slice holds the alerts that were actually created, which can
// be the candidate, a consolidated storm alert, both or neither.
func (svc alertSvc) Open(ctx context.Context, alert types.Alert) ([]types.Alert, error) {
	log := logging.GetFromContext(ctx)

	if alert.PatientID == "" {
		return nil, fmt.Errorf("no patientID is set on alert")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.State = types.AlertOpen

	created := make([]types.Alert, 0, 2)

	verdict := svc.suppressor.Check(alert.PatientID, alert.Condition, alert.Severity, alert.CreatedAt)

	if verdict.Allow {
		err := svc.add(ctx, alert)
		if err != nil {
			return created, err
		}
		created = append(created, alert)
	} else {
		metrics.AlertsSuppressed.WithLabelValues(verdict.Reason).Inc()
		log.Debug("alert suppressed", "patient_id", alert.PatientID, "alert_condition", alert.Condition, "reason", verdict.Reason)
	}

	if verdict.StormStarted {
		log.Warn("alert storm detected", "patient_id", alert.PatientID, "count", verdict.RecentCount)

		storm := stormAlert(alert, verdict)
		err := svc.add(ctx, storm)
		if err != nil {
			return created, err
		}
		created = append(created, storm)
	}

	return created, nil
}

func (svc alertSvc) add(ctx context.Context, alert types.Alert) error {
	err := svc.storage.AddAlert(ctx, alert)
	if err != nil {
		return err
	}

	metrics.AlertsCreated.WithLabelValues(alert.Severity, alert.Condition).Inc()

	return svc.messenger.PublishOnTopic(ctx, &AlertCreated{
		Alert:     alert,
		Tenant:    alert.Tenant,
		Timestamp: alert.CreatedAt,
	})
}

func (svc alertSvc) Acknowledge(ctx context.Context, alertID, by string, tenants []string) error {
	alert, err := svc.get(ctx, alertID, tenants)
	if err != nil {
		return err
	}

	if !validTransition(alert.State, types.AlertAcknowledged) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, alert.State, types.AlertAcknowledged)
	}

	now := time.Now().UTC()
	alert.State = types.AlertAcknowledged
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now

	err = svc.storage.UpdateAlert(ctx, alert)
	if err != nil {
		return err
	}

	return svc.messenger.PublishOnTopic(ctx, &AlertAcknowledged{
		ID:        alert.ID,
		By:        by,
		Tenant:    alert.Tenant,
		Timestamp: now,
	})
}

func (svc alertSvc) Resolve(ctx context.Context, alertID string, tenants []string) error {
	alert, err := svc.get(ctx, alertID, tenants)
	if err != nil {
		return err
	}

	if !validTransition(alert.State, types.AlertResolved) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, alert.State, types.AlertResolved)
	}

	now := time.Now().UTC()
	alert.State = types.AlertResolved
	alert.ResolvedAt = &now

	err = svc.storage.UpdateAlert(ctx, alert)
	if err != nil {
		return err
	}

	return svc.messenger.PublishOnTopic(ctx, &AlertResolved{
		ID:        alert.ID,
		Tenant:    alert.Tenant,
		Timestamp: now,
	})
}

func (svc alertSvc) Escalate(ctx context.Context, alertID string, tenants []string) error {
	alert, err := svc.get(ctx, alertID, tenants)
	if err != nil {
		return err
	}

	if !validTransition(alert.State, types.AlertEscalated) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, alert.State, types.AlertEscalated)
	}

	now := time.Now().UTC()
	alert.State = types.AlertEscalated
	alert.EscalatedAt = &now

	err = svc.storage.UpdateAlert(ctx, alert)
	if err != nil {
		return err
	}

	metrics.AlertsEscalated.Inc()

	return svc.messenger.PublishOnTopic(ctx, &AlertEscalated{
		Alert:     alert,
		Tenant:    alert.Tenant,
		Timestamp: now,
	})
}

func (svc alertSvc) get(ctx context.Context, alertID string, tenants []string) (types.Alert, error) {
	alert, err := svc.storage.GetAlert(ctx, storage.WithAlertID(alertID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Alert{}, ErrAlertNotFound
		}
		return types.Alert{}, err
	}

	return alert, nil
}

// Alert states only move forward. Escalation is reserved for alerts nobody
// has acknowledged yet and nothing leaves the resolved state.
func validTransition(from, to string) bool {
	switch from {
	case types.AlertOpen:
		return to == types.AlertAcknowledged || to == types.AlertEscalated || to == types.AlertResolved
	case types.AlertAcknowledged:
		return to == types.AlertResolved
	case types.AlertEscalated:
		return to == types.AlertAcknowledged || to == types.AlertResolved
	}

	return false
}

func stormAlert(source types.Alert, verdict Verdict) types.Alert {
	d, _ := Describe(ConditionAlertStorm)

	message := fmt.Sprintf("%d alerts within the last hour, further non-critical alerts are being folded. A device malfunction may be the cause.", verdict.RecentCount)
	if len(verdict.FoldedConditions) > 0 {
		message = fmt.Sprintf("%s Folded conditions: %s.", message, strings.Join(verdict.FoldedConditions, ", "))
	}

	return types.Alert{
		ID:          uuid.NewString(),
		PatientID:   source.PatientID,
		Tenant:      source.Tenant,
		Severity:    d.Severity,
		Condition:   ConditionAlertStorm,
		Title:       d.Title,
		Message:     message,
		ActionSteps: d.ActionSteps,
		State:       types.AlertOpen,
		CreatedAt:   source.CreatedAt,
	}
}
