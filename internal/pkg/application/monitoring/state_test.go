package monitoring

import (
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

var noon = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func monitoredState() *patientState {
	return newPatientState(types.Patient{
		PatientID:           "patient-01",
		Tenant:              "default",
		Active:              true,
		ActivityGoalMinutes: 30,
	})
}

func medicationEvent(kind string, at time.Time) types.MedicationEvent {
	return types.MedicationEvent{
		PatientID: "patient-01",
		Kind:      kind,
		Tenant:    "default",
		Timestamp: at,
	}
}

func activitySample(activity string, at time.Time) types.VitalSample {
	return types.VitalSample{
		PatientID: "patient-01",
		Signal:    types.SignalHeartRate,
		Value:     72,
		Activity:  activity,
		Tenant:    "default",
		Timestamp: at,
	}
}

func TestAdherenceCountsTheTrailingSevenDays(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	for day := 1; day <= 5; day++ {
		ps.observeMedication(medicationEvent(types.MedicationDoseScheduled, noon.AddDate(0, 0, -day)))
	}
	for day := 1; day <= 4; day++ {
		ps.observeMedication(medicationEvent(types.MedicationDoseTaken, noon.AddDate(0, 0, -day).Add(time.Minute)))
	}

	// outside the window, must not count
	ps.observeMedication(medicationEvent(types.MedicationDoseScheduled, noon.AddDate(0, 0, -8)))
	ps.observeMedication(medicationEvent(types.MedicationDoseMissed, noon.AddDate(0, 0, -2)))

	a := ps.adherence(noon)
	is.Equal(5, a.Scheduled)
	is.Equal(4, a.Taken)
	is.Equal(80.0, a.Percent())
}

func TestAdherenceIsJudgedAfterThreeScheduledDoses(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	is.True(ps.adherencePercent(noon) == nil)

	ps.observeMedication(medicationEvent(types.MedicationDoseScheduled, noon.Add(-3*time.Hour)))
	ps.observeMedication(medicationEvent(types.MedicationDoseScheduled, noon.Add(-2*time.Hour)))
	is.True(ps.adherencePercent(noon) == nil)

	ps.observeMedication(medicationEvent(types.MedicationDoseScheduled, noon.Add(-time.Hour)))

	pct := ps.adherencePercent(noon)
	is.True(pct != nil)
	is.Equal(0.0, *pct)
}

func TestInhalerUsesAreCountedPerUTCDay(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	midnight := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

	ps.observeMedication(medicationEvent(types.MedicationInhalerUse, midnight.Add(-time.Minute)))
	ps.observeMedication(medicationEvent(types.MedicationInhalerUse, midnight.Add(time.Minute)))
	ps.observeMedication(medicationEvent(types.MedicationInhalerUse, noon))
	ps.observeMedication(medicationEvent(types.MedicationInhalerUse, noon.Add(time.Hour)))

	is.Equal(3, ps.inhalerUsesToday(noon))
}

func TestDailyActivityMeansAreOrderedOldestFirst(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	ps.observeSample(activitySample(types.ActivityActive, noon.AddDate(0, 0, -2)))
	ps.observeSample(activitySample(types.ActivityActive, noon.AddDate(0, 0, -2).Add(time.Minute)))
	ps.observeSample(activitySample(types.ActivityLight, noon.AddDate(0, 0, -1)))
	ps.observeSample(activitySample(types.ActivityResting, noon))

	means := ps.dailyActivityMeans(noon)
	is.Equal(3, len(means))
	is.Equal(2.0, means[0])
	is.Equal(1.0, means[1])
	is.Equal(0.0, means[2])
}

func TestAGapInTheRecordShortensTheActivityTrend(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	ps.observeSample(activitySample(types.ActivityActive, noon.AddDate(0, 0, -2)))
	ps.observeSample(activitySample(types.ActivityResting, noon))

	is.Equal(2, len(ps.dailyActivityMeans(noon)))
}

func TestActiveMinutesApproximatedFromSamples(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	for i := 0; i < 30; i++ {
		ps.observeSample(activitySample(types.ActivityActive, noon.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 10; i++ {
		ps.observeSample(activitySample(types.ActivityLight, noon.Add(time.Duration(30+i)*time.Minute)))
	}
	ps.observeSample(activitySample(types.ActivityActive, noon.AddDate(0, 0, -1)))

	is.Equal(30, ps.activeMinutesToday(noon))
}

func TestStaleSymptomReportsDoNotReplaceNewerOnes(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	ps.observeSymptoms(types.SymptomReport{MMRCGrade: 3, Timestamp: noon})
	ps.observeSymptoms(types.SymptomReport{MMRCGrade: 1, Timestamp: noon.Add(-time.Hour)})

	is.Equal(3, ps.symptoms.MMRCGrade)
}

func TestPruneDropsAgedOutState(t *testing.T) {
	is := is.New(t)
	ps := monitoredState()

	ps.observeAnomaly(types.AnomalyEvent{Signal: types.SignalSpO2, Timestamp: noon.Add(-61 * time.Minute)})
	ps.observeAnomaly(types.AnomalyEvent{Signal: types.SignalSpO2, Timestamp: noon.Add(-10 * time.Minute)})
	ps.observeMedication(medicationEvent(types.MedicationDoseTaken, noon.AddDate(0, 0, -8)))
	ps.observeMedication(medicationEvent(types.MedicationDoseTaken, noon.Add(-time.Hour)))
	ps.observeSample(activitySample(types.ActivityActive, noon.AddDate(0, 0, -4)))
	ps.observeSample(activitySample(types.ActivityActive, noon))

	ps.prune(noon)

	is.Equal(1, len(ps.anomalies))
	is.Equal(1, len(ps.medication))
	is.Equal(1, len(ps.days))
}
