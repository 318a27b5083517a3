package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vardwise/patient-monitoring/internal/pkg/application/alerting"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/anomaly"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/baseline"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/risk"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/webevents"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/metrics"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

//go:generate moq -rm -out monitoring_mock.go . Service
type Service interface {
	HandleVitalSample(ctx context.Context, sample types.VitalSample) error
	HandleSymptomReport(ctx context.Context, report types.SymptomReport) error
	HandleMedicationEvent(ctx context.Context, event types.MedicationEvent) error
	HandleEnvironmentData(ctx context.Context, data types.EnvironmentData) error

	RegisterTopicMessageHandlers(ctx context.Context) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

//go:generate moq -rm -out monitoringstorage_mock.go . Storage
type Storage interface {
	GetPatient(ctx context.Context, patientID string, tenants []string) (types.Patient, error)
	AddRiskScore(ctx context.Context, score types.RiskScore) error
	SetLastObserved(ctx context.Context, patientID string, ts time.Time) error
}

var errMonitoringPaused = fmt.Errorf("monitoring is paused for this patient")

type monitoringSvc struct {
	storage   Storage
	baselines baseline.BaselineService
	detector  *anomaly.Detector
	risk      *risk.Engine
	alerts    alerting.AlertService
	evaluator *alerting.Evaluator
	messenger messaging.MsgContext
	webevents webevents.WebEvents

	pool *partitionPool

	mu     sync.Mutex
	states map[string]*patientState
}

type OptionFunc func(*monitoringSvc)

func WithWorkerCount(workers int) OptionFunc {
	return func(svc *monitoringSvc) {
		if workers > 0 {
			svc.pool = newPartitionPool(workers)
		}
	}
}

func New(s Storage, baselines baseline.BaselineService, detector *anomaly.Detector, engine *risk.Engine, alerts alerting.AlertService, evaluator *alerting.Evaluator, messenger messaging.MsgContext, we webevents.WebEvents, opts ...OptionFunc) Service {
	svc := &monitoringSvc{
		storage:   s,
		baselines: baselines,
		detector:  detector,
		risk:      engine,
		alerts:    alerts,
		evaluator: evaluator,
		messenger: messenger,
		webevents: we,
		pool:      newPartitionPool(DefaultWorkerCount),
		states:    map[string]*patientState{},
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *monitoringSvc) Start(ctx context.Context) error {
	svc.pool.Start(ctx)
	return nil
}

func (svc *monitoringSvc) Stop(ctx context.Context) error {
	svc.pool.Stop()
	return nil
}

func (svc *monitoringSvc) RegisterTopicMessageHandlers(ctx context.Context) error {
	handlers := map[string]messaging.TopicMessageHandler{
		"vitals.sample":       NewVitalSampleHandler(svc),
		"symptoms.reported":   NewSymptomReportHandler(svc),
		"medication.event":    NewMedicationEventHandler(svc),
		"environment.updated": NewEnvironmentUpdatedHandler(svc),
	}

	for topic, handler := range handlers {
		err := svc.messenger.RegisterTopicMessageHandler(topic, handler)
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", topic, err)
		}
	}

	return nil
}

func (svc *monitoringSvc) HandleVitalSample(ctx context.Context, sample types.VitalSample) error {
	return svc.pool.Submit(ctx, sample.PatientID, func(ctx context.Context) {
		err := svc.processVitalSample(ctx, sample)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to process vital sample", "patient_id", sample.PatientID, "err", err.Error())
		}
	})
}

func (svc *monitoringSvc) HandleSymptomReport(ctx context.Context, report types.SymptomReport) error {
	return svc.pool.Submit(ctx, report.PatientID, func(ctx context.Context) {
		err := svc.processSymptomReport(ctx, report)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to process symptom report", "patient_id", report.PatientID, "err", err.Error())
		}
	})
}

func (svc *monitoringSvc) HandleMedicationEvent(ctx context.Context, event types.MedicationEvent) error {
	return svc.pool.Submit(ctx, event.PatientID, func(ctx context.Context) {
		err := svc.processMedicationEvent(ctx, event)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to process medication event", "patient_id", event.PatientID, "err", err.Error())
		}
	})
}

func (svc *monitoringSvc) HandleEnvironmentData(ctx context.Context, data types.EnvironmentData) error {
	return svc.pool.Submit(ctx, data.PatientID, func(ctx context.Context) {
		err := svc.processEnvironmentData(ctx, data)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to process environment data", "patient_id", data.PatientID, "err", err.Error())
		}
	})
}

func (svc *monitoringSvc) processVitalSample(ctx context.Context, sample types.VitalSample) error {
	log := logging.GetFromContext(ctx)

	st, err := svc.stateFor(ctx, sample.PatientID, sample.Tenant)
	if err != nil {
		return svc.dropUnmonitored(ctx, sample.PatientID, err)
	}

	b, err := svc.baselines.Ingest(ctx, sample)
	if err != nil {
		if errors.Is(err, baseline.ErrValidation) {
			metrics.SamplesRejected.WithLabelValues(sample.Signal).Inc()
			log.Warn("sample rejected", "patient_id", sample.PatientID, "err", err.Error())
			return nil
		}
		return err
	}

	metrics.SamplesIngested.WithLabelValues(sample.Signal).Inc()

	st.observeSample(sample)

	anomalyEvent := svc.detector.Evaluate(sample, b)
	if anomalyEvent != nil {
		metrics.AnomaliesDetected.WithLabelValues(anomalyEvent.Signal).Inc()
		st.observeAnomaly(*anomalyEvent)
		log.Debug("baseline deviation detected", "patient_id", sample.PatientID, "signal", sample.Signal, "deviation", anomalyEvent.Deviation)
	}

	err = svc.storage.SetLastObserved(ctx, sample.PatientID, sample.Timestamp)
	if err != nil {
		log.Error("failed to update last observed timestamp", "patient_id", sample.PatientID, "err", err.Error())
	}

	return svc.evaluate(ctx, st, alerting.Facts{
		PatientID: st.patientID,
		Tenant:    st.tenant,
		Now:       sample.Timestamp,
		Sample:    &sample,
	})
}

func (svc *monitoringSvc) processSymptomReport(ctx context.Context, report types.SymptomReport) error {
	st, err := svc.stateFor(ctx, report.PatientID, report.Tenant)
	if err != nil {
		return svc.dropUnmonitored(ctx, report.PatientID, err)
	}

	if !report.Valid() {
		logging.GetFromContext(ctx).Warn("symptom report rejected", "patient_id", report.PatientID)
		return nil
	}

	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	st.observeSymptoms(report)

	return svc.evaluate(ctx, st, alerting.Facts{
		PatientID: st.patientID,
		Tenant:    st.tenant,
		Now:       report.Timestamp,
	})
}

func (svc *monitoringSvc) processMedicationEvent(ctx context.Context, event types.MedicationEvent) error {
	st, err := svc.stateFor(ctx, event.PatientID, event.Tenant)
	if err != nil {
		return svc.dropUnmonitored(ctx, event.PatientID, err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	st.observeMedication(event)

	return svc.evaluate(ctx, st, alerting.Facts{
		PatientID:     st.patientID,
		Tenant:        st.tenant,
		Now:           event.Timestamp,
		MedicationDue: event.Kind == types.MedicationDoseScheduled,
	})
}

func (svc *monitoringSvc) processEnvironmentData(ctx context.Context, data types.EnvironmentData) error {
	st, err := svc.stateFor(ctx, data.PatientID, data.Tenant)
	if err != nil {
		return svc.dropUnmonitored(ctx, data.PatientID, err)
	}

	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now().UTC()
	}

	st.observeEnvironment(data)

	return svc.evaluate(ctx, st, alerting.Facts{
		PatientID: st.patientID,
		Tenant:    st.tenant,
		Now:       data.Timestamp,
	})
}

// evaluate runs one cycle of the evaluation pipeline: recompute the risk
// score from the patient's trailing state, persist and publish it, then run
// the rule evaluator and open an alert for every finding. The caller fills
// in the event specific facts, evaluate adds the state derived ones.
func (svc *monitoringSvc) evaluate(ctx context.Context, st *patientState, facts alerting.Facts) error {
	log := logging.GetFromContext(ctx)

	started := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
	}()

	now := facts.Now
	st.prune(now)

	score := svc.risk.Score(ctx, risk.Observation{
		PatientID: st.patientID,
		Tenant:    st.tenant,
		Timestamp: now,
		Anomalies: st.recentAnomalies(now),
		Symptoms:  st.symptoms,
		Adherence: st.adherence(now),
		AQI:       st.aqi(),
	})

	metrics.RiskEvaluations.WithLabelValues(score.Source).Inc()

	err := svc.storage.AddRiskScore(ctx, score)
	if err != nil {
		return err
	}

	err = svc.messenger.PublishOnTopic(ctx, &types.RiskScoreComputed{
		RiskScore: score,
		Tenant:    st.tenant,
		Timestamp: now,
	})
	if err != nil {
		log.Error("failed to publish risk score", "patient_id", st.patientID, "err", err.Error())
	}

	err = svc.webevents.PublishRiskScore(score)
	if err != nil {
		log.Error("failed to publish risk score web event", "err", err.Error())
	}

	facts.RiskScore = &score
	facts.InhalerUsesToday = st.inhalerUsesToday(now)
	facts.AdherencePercent = st.adherencePercent(now)
	facts.DailyActivityMeans = st.dailyActivityMeans(now)
	facts.ActiveMinutesToday = st.activeMinutesToday(now)
	facts.ActivityGoalMinutes = st.activityGoalMinutes

	for _, finding := range svc.evaluator.Evaluate(facts) {
		_, err = svc.alerts.Open(ctx, types.Alert{
			PatientID:   st.patientID,
			Tenant:      st.tenant,
			Severity:    finding.Severity,
			Condition:   finding.Condition,
			Title:       finding.Title,
			Message:     finding.Message,
			ActionSteps: finding.ActionSteps,
			CreatedAt:   now,
		})
		if err != nil {
			log.Error("failed to open alert", "patient_id", st.patientID, "condition", finding.Condition, "err", err.Error())
		}
	}

	return nil
}

// stateFor returns the in-memory state for a patient, creating it on the
// first observation. Creation happens on the partition worker that owns the
// patient, so no two goroutines ever race to create the same entry.
func (svc *monitoringSvc) stateFor(ctx context.Context, patientID, tenant string) (*patientState, error) {
	svc.mu.Lock()
	st, ok := svc.states[patientID]
	svc.mu.Unlock()

	if ok {
		return st, nil
	}

	p, err := svc.storage.GetPatient(ctx, patientID, []string{tenant})
	if err != nil {
		return nil, err
	}

	if !p.Active {
		return nil, errMonitoringPaused
	}

	st = newPatientState(p)

	svc.mu.Lock()
	svc.states[patientID] = st
	svc.mu.Unlock()

	return st, nil
}

// dropUnmonitored swallows observations that have no monitored patient
// behind them. Anything else is a real error for the caller to report.
func (svc *monitoringSvc) dropUnmonitored(ctx context.Context, patientID string, err error) error {
	log := logging.GetFromContext(ctx)

	if errors.Is(err, storage.ErrNoRows) {
		log.Warn("received observation for unknown patient", "patient_id", patientID)
		return nil
	}

	if errors.Is(err, errMonitoringPaused) {
		log.Debug("patient is not being monitored", "patient_id", patientID)
		return nil
	}

	return err
}
