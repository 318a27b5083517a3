package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

var now = time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)

func silentPatients() []types.Patient {
	observed := now.Add(-7 * time.Hour)

	return []types.Patient{
		{PatientID: "patient-01", Tenant: "default", Active: true, LastObservedAt: &observed},
		{PatientID: "patient-02", Tenant: "default", Active: true},
	}
}

func watchdogSetup(t *testing.T, patients []types.Patient) (*is.I, *PatientListerMock, *messaging.MsgContextMock, *Watchdog) {
	is := is.New(t)

	lister := &PatientListerMock{
		QueryPatientsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Patient], error) {
			return types.Collection[types.Patient]{
				Data:       patients,
				Count:      uint64(len(patients)),
				TotalCount: uint64(len(patients)),
			}, nil
		},
	}

	messenger := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	return is, lister, messenger, New(lister, messenger)
}

func TestSweepReportsSilentPatients(t *testing.T) {
	is, _, messenger, w := watchdogSetup(t, silentPatients())

	count, err := w.sweep(context.Background(), now)
	is.NoErr(err)
	is.Equal(2, count)

	calls := messenger.PublishOnTopicCalls()
	is.Equal(2, len(calls))
	is.Equal("watchdog.patientNotObserved", calls[0].Message.TopicName())

	evt := PatientNotObserved{}
	err = json.Unmarshal(calls[0].Message.Body(), &evt)
	is.NoErr(err)
	is.Equal("patient-01", evt.PatientID)
	is.Equal("default", evt.Tenant)
	is.Equal(now.Add(-7*time.Hour), evt.ObservedAt)

	// a patient that has never been observed reports a zero timestamp
	err = json.Unmarshal(calls[1].Message.Body(), &evt)
	is.NoErr(err)
	is.Equal("patient-02", evt.PatientID)
	is.True(evt.ObservedAt.IsZero())
}

func TestSweepQueriesActivePatientsPastTheLimit(t *testing.T) {
	is, lister, _, w := watchdogSetup(t, nil)

	_, err := w.sweep(context.Background(), now)
	is.NoErr(err)

	is.Equal(1, len(lister.QueryPatientsCalls()))

	condition := &storage.Condition{}
	for _, f := range lister.QueryPatientsCalls()[0].Conditions {
		f(condition)
	}

	is.True(condition.Active != nil)
	is.True(*condition.Active)
	is.Equal(now.Add(-6*time.Hour), condition.NotObservedSince)
}

func TestPublishFailuresDoNotAbortTheSweep(t *testing.T) {
	is, _, messenger, w := watchdogSetup(t, silentPatients())

	failed := false
	messenger.PublishOnTopicFunc = func(ctx context.Context, message messaging.TopicMessage) error {
		if !failed {
			failed = true
			return fmt.Errorf("broker unavailable")
		}
		return nil
	}

	count, err := w.sweep(context.Background(), now)
	is.NoErr(err)
	is.Equal(1, count)
}

func TestQueryFailureIsReported(t *testing.T) {
	is, lister, _, w := watchdogSetup(t, nil)

	lister.QueryPatientsFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Patient], error) {
		return types.Collection[types.Patient]{}, fmt.Errorf("connection refused")
	}

	_, err := w.sweep(context.Background(), now)
	is.True(err != nil)
}

func TestStopEndsTheSweepLoop(t *testing.T) {
	is, lister, _, w := watchdogSetup(t, nil)
	w.interval = 5 * time.Millisecond

	queried := make(chan struct{}, 8)
	lister.QueryPatientsFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Patient], error) {
		queried <- struct{}{}
		return types.Collection[types.Patient]{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	<-queried
	w.Stop()

	is.True(len(lister.QueryPatientsCalls()) > 0)
}
