package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

func TestSweepEscalatesOverdueCriticals(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	now := t0.Add(time.Hour)

	repo := &AlertRepositoryMock{
		QueryAlertsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error) {
			return types.Collection[types.Alert]{
				Data: []types.Alert{
					{ID: "alert-overdue", Tenant: "default", Severity: types.SeverityCritical, State: types.AlertOpen, CreatedAt: now.Add(-16 * time.Minute)},
					{ID: "alert-fresh", Tenant: "default", Severity: types.SeverityCritical, State: types.AlertOpen, CreatedAt: now.Add(-5 * time.Minute)},
				},
				Count: 2,
			}, nil
		},
	}

	svc := &AlertServiceMock{
		EscalateFunc: func(ctx context.Context, alertID string, tenants []string) error {
			return nil
		},
	}

	e := NewEscalator(svc, repo)

	count, err := e.sweep(ctx, now)
	is.NoErr(err)
	is.Equal(1, count)
	is.Equal(1, len(svc.EscalateCalls()))
	is.Equal("alert-overdue", svc.EscalateCalls()[0].AlertID)
	is.Equal([]string{"default"}, svc.EscalateCalls()[0].Tenants)
}

func TestSweepToleratesConcurrentTransitions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	now := t0.Add(time.Hour)

	repo := &AlertRepositoryMock{
		QueryAlertsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error) {
			return types.Collection[types.Alert]{
				Data: []types.Alert{
					{ID: "alert-01", Tenant: "default", Severity: types.SeverityCritical, State: types.AlertOpen, CreatedAt: now.Add(-30 * time.Minute)},
				},
				Count: 1,
			}, nil
		},
	}

	svc := &AlertServiceMock{
		EscalateFunc: func(ctx context.Context, alertID string, tenants []string) error {
			return ErrInvalidTransition
		},
	}

	e := NewEscalator(svc, repo)

	count, err := e.sweep(ctx, now)
	is.NoErr(err)
	is.Equal(0, count)
}

func TestEscalationHappensAtExactlyTheTimeout(t *testing.T) {
	is := is.New(t)

	now := t0.Add(time.Hour)
	timeout := 15 * time.Minute

	is.True(shouldEscalate(now.Add(-timeout), now, timeout))
	is.True(shouldEscalate(now.Add(-timeout-time.Second), now, timeout))
	is.True(!shouldEscalate(now.Add(-timeout+time.Second), now, timeout))
}
