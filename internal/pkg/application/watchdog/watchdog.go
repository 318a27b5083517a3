package watchdog

import (
	"context"
	"time"

	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const (
	DefaultStalenessLimit = 6 * time.Hour
	DefaultSweepInterval  = 10 * time.Minute
)

//go:generate moq -rm -out patientlister_mock.go . PatientLister
type PatientLister interface {
	QueryPatients(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Patient], error)
}

// Watchdog periodically looks for active patients that have gone silent and
// publishes a patientNotObserved message for each one. The alerting layer
// turns those into no_data_received alerts, so a sweep may report the same
// patient again without creating duplicates.
type Watchdog struct {
	storage   PatientLister
	messenger messaging.MsgContext

	interval time.Duration
	limit    time.Duration

	done chan struct{}
}

type OptionFunc func(*Watchdog)

func WithStalenessLimit(d time.Duration) OptionFunc {
	return func(w *Watchdog) {
		if d > 0 {
			w.limit = d
		}
	}
}

func WithSweepInterval(d time.Duration) OptionFunc {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

func New(s PatientLister, messenger messaging.MsgContext, opts ...OptionFunc) *Watchdog {
	w := &Watchdog{
		storage:   s,
		messenger: messenger,
		interval:  DefaultSweepInterval,
		limit:     DefaultStalenessLimit,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watchdog) Stop() {
	close(w.done)
}

func (w *Watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log := logging.GetFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			count, err := w.sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Error("staleness sweep failed", "err", err.Error())
				continue
			}
			if count > 0 {
				log.Info("reported silent patients", "count", count)
			}
		}
	}
}

// sweep reports every active patient whose last observation is older than
// the staleness limit, never observed patients included.
func (w *Watchdog) sweep(ctx context.Context, now time.Time) (int, error) {
	log := logging.GetFromContext(ctx)

	patients, err := w.storage.QueryPatients(ctx,
		storage.WithActive(true),
		storage.WithNotObservedSince(now.Add(-w.limit)),
		storage.WithLimit(1000),
	)
	if err != nil {
		return 0, err
	}

	reported := 0

	for _, p := range patients.Data {
		observedAt := time.Time{}
		if p.LastObservedAt != nil {
			observedAt = *p.LastObservedAt
		}

		err := w.messenger.PublishOnTopic(ctx, &PatientNotObserved{
			PatientID:  p.PatientID,
			Tenant:     p.Tenant,
			ObservedAt: observedAt,
		})
		if err != nil {
			log.Error("failed to publish patient not observed", "patient_id", p.PatientID, "err", err.Error())
			continue
		}

		reported++
	}

	return reported, nil
}
