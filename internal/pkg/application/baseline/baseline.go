package baseline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/robfig/cron/v3"
)

const DefaultCalibrationWindow = 14 * 24 * time.Hour

//go:generate moq -rm -out baselineservice_mock.go . BaselineService
type BaselineService interface {
	Restore(ctx context.Context) error
	Ingest(ctx context.Context, sample types.VitalSample) (types.Baseline, error)
	Baselines(ctx context.Context, patientID string, tenants []string) ([]types.Baseline, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

//go:generate moq -rm -out baselinestore_mock.go . BaselineStore
type BaselineStore interface {
	SaveBaseline(ctx context.Context, baseline types.Baseline) error
	QueryBaselines(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Baseline], error)
}

type baselineSvc struct {
	store     BaselineStore
	messenger messaging.MsgContext

	window   time.Duration
	schedule string
	cron     *cron.Cron

	mu        sync.Mutex
	estimates map[string]*estimate
}

type OptionFunc func(*baselineSvc)

func WithCalibrationWindow(d time.Duration) OptionFunc {
	return func(svc *baselineSvc) {
		if d > 0 {
			svc.window = d
		}
	}
}

func WithReestimationSchedule(schedule string) OptionFunc {
	return func(svc *baselineSvc) {
		if schedule != "" {
			svc.schedule = schedule
		}
	}
}

func New(s BaselineStore, m messaging.MsgContext, opts ...OptionFunc) BaselineService {
	svc := &baselineSvc{
		store:     s,
		messenger: m,
		window:    DefaultCalibrationWindow,
		schedule:  "@monthly",
		cron:      cron.New(),
		estimates: map[string]*estimate{},
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Restore rebuilds the in memory estimates from persisted baselines so that
// calibration survives a restart.
func (svc *baselineSvc) Restore(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	collection, err := svc.store.QueryBaselines(ctx, storage.WithLimit(100000))
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	for _, b := range collection.Data {
		svc.estimates[estimateKey(b.PatientID, b.Signal)] = &estimate{
			current: b,
			acc: accumulator{
				count: b.SampleCount,
				mean:  b.Mean,
				m2:    b.M2,
			},
		}
	}

	log.Info("restored baselines", "count", len(collection.Data))

	return nil
}

func (svc *baselineSvc) Ingest(ctx context.Context, sample types.VitalSample) (types.Baseline, error) {
	err := ValidateSample(sample)
	if err != nil {
		return types.Baseline{}, err
	}

	b, established, dirty := svc.apply(sample)

	if dirty {
		err = svc.store.SaveBaseline(ctx, b)
		if err != nil {
			return types.Baseline{}, err
		}
	}

	if established {
		err = svc.messenger.PublishOnTopic(ctx, &types.BaselineEstablished{
			PatientID: b.PatientID,
			Signal:    b.Signal,
			Mean:      b.Mean,
			StdDev:    b.StdDev,
			Tenant:    b.Tenant,
			Timestamp: *b.EstablishedAt,
		})
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to publish baseline established", "err", err.Error())
		}
	}

	return b, nil
}

func (svc *baselineSvc) Baselines(ctx context.Context, patientID string, tenants []string) ([]types.Baseline, error) {
	collection, err := svc.store.QueryBaselines(ctx, storage.WithPatientID(patientID), storage.WithTenants(tenants))
	if err != nil {
		return nil, err
	}
	return collection.Data, nil
}

func (svc *baselineSvc) Start(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	_, err := svc.cron.AddFunc(svc.schedule, func() {
		n := svc.beginReestimation(time.Now().UTC())
		log.Info("started baseline re-estimation", "windows", n)
	})
	if err != nil {
		return fmt.Errorf("invalid re-estimation schedule %s: %w", svc.schedule, err)
	}

	svc.cron.Start()

	return nil
}

func (svc *baselineSvc) Stop(ctx context.Context) error {
	<-svc.cron.Stop().Done()
	return nil
}

// apply mutates the estimate for the sample's patient and signal and returns
// a snapshot of the resulting baseline. Samples for a given patient arrive in
// order, so persistence can happen outside the lock.
func (svc *baselineSvc) apply(sample types.VitalSample) (b types.Baseline, established, dirty bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	key := estimateKey(sample.PatientID, sample.Signal)

	est, ok := svc.estimates[key]
	if !ok {
		est = &estimate{
			current: types.Baseline{
				PatientID:       sample.PatientID,
				Signal:          sample.Signal,
				WindowStartedAt: sample.Timestamp.UTC(),
				Status:          types.BaselineAccumulating,
				Tenant:          sample.Tenant,
			},
		}
		svc.estimates[key] = est
	}

	if !est.current.Finalized() {
		if sample.Timestamp.Sub(est.current.WindowStartedAt) >= svc.window {
			// first sample past the calibration window freezes the baseline,
			// the sample itself is evaluated against it rather than absorbed
			est.finalize(sample.Timestamp.UTC())
			return est.current, true, true
		}

		est.acc.add(sample.Value)
		est.sync()
		return est.current, false, true
	}

	if sample.Timestamp.Before(*est.current.EstablishedAt) {
		// late arrival, kept aside and folded into the next re-estimation
		est.parked.add(sample.Value)
		return est.current, false, false
	}

	if est.shadow != nil {
		if sample.Timestamp.Sub(est.shadow.startedAt) >= svc.window {
			est.swapShadow(sample.Timestamp.UTC())
			return est.current, true, true
		}
		est.shadow.acc.add(sample.Value)
	}

	return est.current, false, false
}

// beginReestimation opens a shadow calibration window for every finalized
// baseline. The current baseline keeps serving detection until the shadow
// window completes and is swapped in.
func (svc *baselineSvc) beginReestimation(now time.Time) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	n := 0

	for _, est := range svc.estimates {
		if !est.current.Finalized() || est.shadow != nil {
			continue
		}

		est.shadow = &window{
			startedAt: now,
			acc:       est.parked,
		}
		est.parked = accumulator{}
		n++
	}

	return n
}

func estimateKey(patientID, signal string) string {
	return patientID + "/" + signal
}

type estimate struct {
	current types.Baseline
	acc     accumulator
	shadow  *window
	parked  accumulator
}

type window struct {
	startedAt time.Time
	acc       accumulator
}

func (e *estimate) sync() {
	e.current.Mean = e.acc.mean
	e.current.M2 = e.acc.m2
	e.current.SampleCount = e.acc.count
	e.current.StdDev = e.acc.stdDev()
}

func (e *estimate) finalize(ts time.Time) {
	e.sync()
	e.current.Status = types.BaselineFinalized
	e.current.EstablishedAt = &ts
}

func (e *estimate) swapShadow(ts time.Time) {
	e.acc = e.shadow.acc
	e.current.WindowStartedAt = e.shadow.startedAt
	e.shadow = nil
	e.finalize(ts)
}

// accumulator tracks count, mean and squared distance from the mean using
// Welford's algorithm, which stays numerically stable over long windows.
type accumulator struct {
	count int64
	mean  float64
	m2    float64
}

func (a *accumulator) add(v float64) {
	a.count++
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (v - a.mean)
}

func (a accumulator) stdDev() float64 {
	if a.count < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.count-1))
}
