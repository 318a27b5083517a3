package anomaly

import (
	"math"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

const DefaultThreshold = 2.0

type Detector struct {
	threshold float64
}

func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Evaluate checks a sample against the patient's personal baseline and
// returns a deviation event when the sample falls outside it, or nil when
// the sample is unremarkable. Samples arriving while the baseline is still
// calibrating are never flagged.
func (d *Detector) Evaluate(sample types.VitalSample, baseline types.Baseline) *types.AnomalyEvent {
	if !baseline.Finalized() {
		return nil
	}

	if baseline.StdDev == 0 {
		// a flat calibration window means any change is a deviation, reported
		// just past the threshold since a z-score is undefined here
		if sample.Value == baseline.Mean {
			return nil
		}

		deviation := d.threshold + 1
		if sample.Value < baseline.Mean {
			deviation = -deviation
		}

		return d.event(sample, baseline, deviation)
	}

	z := (sample.Value - baseline.Mean) / baseline.StdDev
	if math.Abs(z) <= d.threshold {
		return nil
	}

	return d.event(sample, baseline, z)
}

func (d *Detector) event(sample types.VitalSample, baseline types.Baseline, deviation float64) *types.AnomalyEvent {
	return &types.AnomalyEvent{
		PatientID:      sample.PatientID,
		Signal:         sample.Signal,
		Value:          sample.Value,
		BaselineMean:   baseline.Mean,
		BaselineStdDev: baseline.StdDev,
		Deviation:      deviation,
		Tenant:         sample.Tenant,
		Timestamp:      sample.Timestamp,
	}
}
