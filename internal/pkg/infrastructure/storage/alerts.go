package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) AddAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == "" {
		return ErrNoID
	}
	if alert.Tenant == "" {
		return ErrMissingTenant
	}

	actionSteps, err := json.Marshal(alert.ActionSteps)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, patient_id, severity, condition, title, message, action_steps, state, tenant, created_on, modified_on)
		VALUES (@alert_id, @patient_id, @severity, @condition, @title, @message, @action_steps, @state, @tenant, @created_on, @modified_on)`,
		pgx.NamedArgs{
			"alert_id":     alert.ID,
			"patient_id":   alert.PatientID,
			"severity":     alert.Severity,
			"condition":    alert.Condition,
			"title":        alert.Title,
			"message":      alert.Message,
			"action_steps": string(actionSteps),
			"state":        alert.State,
			"tenant":       alert.Tenant,
			"created_on":   alert.CreatedAt.UTC(),
			"modified_on":  time.Now().UTC(),
		})

	return err
}

func (s *Storage) UpdateAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == "" {
		return ErrNoID
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET state = @state,
		    acknowledged_by = @acknowledged_by,
		    acknowledged_at = @acknowledged_at,
		    escalated_at = @escalated_at,
		    resolved_at = @resolved_at,
		    modified_on = @modified_on
		WHERE alert_id = @alert_id`,
		pgx.NamedArgs{
			"alert_id":        alert.ID,
			"state":           alert.State,
			"acknowledged_by": alert.AcknowledgedBy,
			"acknowledged_at": alert.AcknowledgedAt,
			"escalated_at":    alert.EscalatedAt,
			"resolved_at":     alert.ResolvedAt,
			"modified_on":     time.Now().UTC(),
		})

	return err
}

func (s *Storage) GetAlert(ctx context.Context, conditions ...ConditionFunc) (types.Alert, error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	query := fmt.Sprintf(`
		SELECT alert_id, patient_id, severity, condition, title, message, action_steps, state, acknowledged_by, acknowledged_at, escalated_at, resolved_at, tenant, created_on
		FROM alerts
		WHERE %s`, condition.Where())

	alert, err := scanAlert(s.pool.QueryRow(ctx, query, condition.NamedArgs()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Alert{}, ErrNoRows
		}
		return types.Alert{}, err
	}

	return alert, nil
}

func (s *Storage) QueryAlerts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Alert], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	sortBy := condition.SortBy()
	if sortBy == "" {
		sortBy = "created_on"
	}
	sortOrder := condition.SortOrder()
	if condition.sortOrder == "" {
		sortOrder = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT alert_id, patient_id, severity, condition, title, message, action_steps, state, acknowledged_by, acknowledged_at, escalated_at, resolved_at, tenant, created_on, count(*) OVER () AS count
		FROM alerts
		WHERE %s
		ORDER BY %s %s
		OFFSET %d LIMIT %d`,
		condition.Where(), sortBy, sortOrder, condition.Offset(), queryLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}
	defer rows.Close()

	alerts := make([]types.Alert, 0)
	var count int64

	for rows.Next() {
		alert, err := scanAlertRow(rows, &count)
		if err != nil {
			return types.Collection[types.Alert]{}, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return types.Collection[types.Alert]{}, rows.Err()
	}

	return types.Collection[types.Alert]{
		Data:       alerts,
		Count:      uint64(len(alerts)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(queryLimit(condition)),
		TotalCount: uint64(count),
	}, nil
}

func scanAlert(row pgx.Row) (types.Alert, error) {
	var alert types.Alert
	var actionSteps json.RawMessage
	var acknowledgedBy *string
	var acknowledgedAt, escalatedAt, resolvedAt *time.Time

	err := row.Scan(
		&alert.ID, &alert.PatientID, &alert.Severity, &alert.Condition, &alert.Title, &alert.Message,
		&actionSteps, &alert.State, &acknowledgedBy, &acknowledgedAt, &escalatedAt, &resolvedAt,
		&alert.Tenant, &alert.CreatedAt,
	)
	if err != nil {
		return types.Alert{}, err
	}

	if err := json.Unmarshal(actionSteps, &alert.ActionSteps); err != nil {
		return types.Alert{}, err
	}

	if acknowledgedBy != nil {
		alert.AcknowledgedBy = *acknowledgedBy
	}
	alert.AcknowledgedAt = acknowledgedAt
	alert.EscalatedAt = escalatedAt
	alert.ResolvedAt = resolvedAt

	return alert, nil
}

func scanAlertRow(rows pgx.Rows, count *int64) (types.Alert, error) {
	var alert types.Alert
	var actionSteps json.RawMessage
	var acknowledgedBy *string
	var acknowledgedAt, escalatedAt, resolvedAt *time.Time

	err := rows.Scan(
		&alert.ID, &alert.PatientID, &alert.Severity, &alert.Condition, &alert.Title, &alert.Message,
		&actionSteps, &alert.State, &acknowledgedBy, &acknowledgedAt, &escalatedAt, &resolvedAt,
		&alert.Tenant, &alert.CreatedAt, count,
	)
	if err != nil {
		return types.Alert{}, err
	}

	if err := json.Unmarshal(actionSteps, &alert.ActionSteps); err != nil {
		return types.Alert{}, err
	}

	if acknowledgedBy != nil {
		alert.AcknowledgedBy = *acknowledgedBy
	}
	alert.AcknowledgedAt = acknowledgedAt
	alert.EscalatedAt = escalatedAt
	alert.ResolvedAt = resolvedAt

	return alert, nil
}
