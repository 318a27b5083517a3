package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) AddNotificationAttempt(ctx context.Context, attempt types.NotificationAttempt) error {
	if attempt.AlertID == "" {
		return ErrNoID
	}
	if attempt.Tenant == "" {
		return ErrMissingTenant
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_attempts (time, alert_id, recipient, channel, outcome, error, tenant)
		VALUES (@time, @alert_id, @recipient, @channel, @outcome, @error, @tenant)`,
		pgx.NamedArgs{
			"time":      attempt.AttemptedAt.UTC(),
			"alert_id":  attempt.AlertID,
			"recipient": attempt.Recipient,
			"channel":   attempt.Channel,
			"outcome":   attempt.Outcome,
			"error":     attempt.Error,
			"tenant":    attempt.Tenant,
		})

	return err
}

func (s *Storage) QueryNotificationAttempts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.NotificationAttempt], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	// attempt history filters on delivery time
	where := strings.ReplaceAll(condition.Where(), "created_on", "time")

	query := fmt.Sprintf(`
		SELECT time, alert_id, recipient, channel, outcome, error, tenant, count(*) OVER () AS count
		FROM notification_attempts
		WHERE %s
		ORDER BY time DESC
		OFFSET %d LIMIT %d`,
		where, condition.Offset(), queryLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.NotificationAttempt]{}, err
	}

	attempts := make([]types.NotificationAttempt, 0)

	var a types.NotificationAttempt
	var count int64

	_, err = pgx.ForEachRow(rows, []any{&a.AttemptedAt, &a.AlertID, &a.Recipient, &a.Channel, &a.Outcome, &a.Error, &a.Tenant, &count}, func() error {
		attempts = append(attempts, a)
		return nil
	})
	if err != nil {
		return types.Collection[types.NotificationAttempt]{}, err
	}

	return types.Collection[types.NotificationAttempt]{
		Data:       attempts,
		Count:      uint64(len(attempts)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(queryLimit(condition)),
		TotalCount: uint64(count),
	}, nil
}
