package monitoring

import (
	"slices"
	"time"

	"github.com/vardwise/patient-monitoring/internal/pkg/application/risk"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

const (
	anomalyWindow    = time.Hour
	medicationWindow = 7 * 24 * time.Hour
	activityDays     = 3

	minScheduledDoses = 3
)

// patientState holds the trailing in-memory context an evaluation needs.
// It is created and mutated only by the partition worker that owns the
// patient, so no locking is required.
type patientState struct {
	patientID           string
	tenant              string
	activityGoalMinutes int

	anomalies   []types.AnomalyEvent
	symptoms    *types.SymptomReport
	environment *types.EnvironmentData
	medication  []types.MedicationEvent
	days        map[string]*dayActivity
}

// dayActivity aggregates the activity context of one UTC day. Wearables
// report roughly once a minute, so the count of samples flagged active
// approximates active minutes.
type dayActivity struct {
	weightSum     float64
	samples       int
	activeSamples int
}

func newPatientState(p types.Patient) *patientState {
	return &patientState{
		patientID:           p.PatientID,
		tenant:              p.Tenant,
		activityGoalMinutes: p.ActivityGoalMinutes,
		days:                map[string]*dayActivity{},
	}
}

func activityWeight(activity string) float64 {
	switch activity {
	case types.ActivityLight:
		return 1
	case types.ActivityActive:
		return 2
	default:
		return 0
	}
}

func dayKey(ts time.Time) string {
	return ts.UTC().Format(time.DateOnly)
}

func (ps *patientState) observeSample(s types.VitalSample) {
	if s.Activity == "" {
		return
	}

	key := dayKey(s.Timestamp)

	day, ok := ps.days[key]
	if !ok {
		day = &dayActivity{}
		ps.days[key] = day
	}

	day.weightSum += activityWeight(s.Activity)
	day.samples++

	if s.Activity == types.ActivityActive {
		day.activeSamples++
	}
}

func (ps *patientState) observeAnomaly(a types.AnomalyEvent) {
	ps.anomalies = append(ps.anomalies, a)
}

func (ps *patientState) observeSymptoms(r types.SymptomReport) {
	if ps.symptoms != nil && r.Timestamp.Before(ps.symptoms.Timestamp) {
		return
	}
	ps.symptoms = &r
}

func (ps *patientState) observeMedication(e types.MedicationEvent) {
	ps.medication = append(ps.medication, e)
}

func (ps *patientState) observeEnvironment(d types.EnvironmentData) {
	if ps.environment != nil && d.Timestamp.Before(ps.environment.Timestamp) {
		return
	}
	ps.environment = &d
}

// recentAnomalies returns the deviations inside the trailing hour, the
// window the vitals component of the risk score is computed over.
func (ps *patientState) recentAnomalies(now time.Time) []types.AnomalyEvent {
	cutoff := now.Add(-anomalyWindow)

	recent := make([]types.AnomalyEvent, 0, len(ps.anomalies))
	for _, a := range ps.anomalies {
		if a.Timestamp.After(cutoff) {
			recent = append(recent, a)
		}
	}

	return recent
}

func (ps *patientState) adherence(now time.Time) risk.Adherence {
	cutoff := now.Add(-medicationWindow)

	a := risk.Adherence{}
	for _, e := range ps.medication {
		if !e.Timestamp.After(cutoff) {
			continue
		}
		switch e.Kind {
		case types.MedicationDoseTaken:
			a.Taken++
		case types.MedicationDoseScheduled:
			a.Scheduled++
		}
	}

	return a
}

// adherencePercent reports the trailing adherence ratio. A single freshly
// scheduled dose would read as 0% adherence, so nothing is reported until at
// least three doses have been scheduled in the window and the adherence rule
// stays quiet for patients whose medication is not tracked.
func (ps *patientState) adherencePercent(now time.Time) *float64 {
	a := ps.adherence(now)
	if a.Scheduled < minScheduledDoses {
		return nil
	}

	pct := a.Percent()
	return &pct
}

func (ps *patientState) aqi() *int {
	if ps.environment == nil {
		return nil
	}
	return &ps.environment.AQI
}

func (ps *patientState) inhalerUsesToday(now time.Time) int {
	today := dayKey(now)

	uses := 0
	for _, e := range ps.medication {
		if e.Kind == types.MedicationInhalerUse && dayKey(e.Timestamp) == today {
			uses++
		}
	}

	return uses
}

// dailyActivityMeans returns the mean activity weight for each of the last
// three calendar days ending today, oldest first. A day without samples
// breaks the run, so fewer than three means are returned and the declining
// activity rule cannot fire on a gappy record.
func (ps *patientState) dailyActivityMeans(now time.Time) []float64 {
	means := make([]float64, 0, activityDays)

	for i := activityDays - 1; i >= 0; i-- {
		key := dayKey(now.AddDate(0, 0, -i))

		day, ok := ps.days[key]
		if !ok || day.samples == 0 {
			continue
		}

		means = append(means, day.weightSum/float64(day.samples))
	}

	return means
}

func (ps *patientState) activeMinutesToday(now time.Time) int {
	day, ok := ps.days[dayKey(now)]
	if !ok {
		return 0
	}
	return day.activeSamples
}

// prune drops state that has aged out of every window it can contribute to.
func (ps *patientState) prune(now time.Time) {
	anomalyCutoff := now.Add(-anomalyWindow)
	ps.anomalies = slices.DeleteFunc(ps.anomalies, func(a types.AnomalyEvent) bool {
		return !a.Timestamp.After(anomalyCutoff)
	})

	medicationCutoff := now.Add(-medicationWindow)
	ps.medication = slices.DeleteFunc(ps.medication, func(e types.MedicationEvent) bool {
		return !e.Timestamp.After(medicationCutoff)
	})

	oldestDay := dayKey(now.AddDate(0, 0, -(activityDays - 1)))
	for key := range ps.days {
		if key < oldestDay {
			delete(ps.days, key)
		}
	}
}
