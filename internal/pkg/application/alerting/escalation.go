package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

const (
	DefaultEscalationTimeout = 15 * time.Minute
	DefaultSweepInterval     = 30 * time.Second
)

// Escalator periodically sweeps open critical alerts and escalates the ones
// that have gone unacknowledged past the timeout. The sweep is idempotent,
// alerts that already left the open state never match the query.
type Escalator struct {
	svc      AlertService
	storage  AlertRepository
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
}

type EscalatorOption func(*Escalator)

func WithEscalationTimeout(d time.Duration) EscalatorOption {
	return func(e *Escalator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithSweepInterval(d time.Duration) EscalatorOption {
	return func(e *Escalator) {
		if d > 0 {
			e.interval = d
		}
	}
}

func NewEscalator(svc AlertService, s AlertRepository, opts ...EscalatorOption) *Escalator {
	e := &Escalator{
		svc:      svc,
		storage:  s,
		interval: DefaultSweepInterval,
		timeout:  DefaultEscalationTimeout,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Escalator) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Escalator) Stop(ctx context.Context) {
	close(e.done)
}

func (e *Escalator) run(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			count, err := e.sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Error("escalation sweep failed", "err", err.Error())
				continue
			}
			if count > 0 {
				log.Info("escalated unacknowledged critical alerts", "count", count)
			}
		}
	}
}

func (e *Escalator) sweep(ctx context.Context, now time.Time) (int, error) {
	log := logging.GetFromContext(ctx)

	alerts, err := e.storage.QueryAlerts(ctx,
		storage.WithStates([]string{types.AlertOpen}),
		storage.WithSeverities([]string{types.SeverityCritical}),
		storage.WithLimit(1000),
	)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, a := range alerts.Data {
		if !shouldEscalate(a.CreatedAt, now, e.timeout) {
			continue
		}

		err := e.svc.Escalate(ctx, a.ID, []string{a.Tenant})
		if err != nil {
			// a concurrent sweep or acknowledgment may have moved the alert on
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			log.Error("could not escalate alert", "alert_id", a.ID, "err", err.Error())
			continue
		}

		count++
	}

	return count, nil
}

func shouldEscalate(createdAt, now time.Time, timeout time.Duration) bool {
	return !createdAt.After(now.Add(-timeout))
}
