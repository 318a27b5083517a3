package baseline

import (
	"errors"
	"fmt"
	"math"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

var ErrValidation = errors.New("sample failed validation")

type valueRange struct {
	min float64
	max float64
}

// physiological plausibility limits per signal, values outside are sensor noise
var plausibleRanges = map[string]valueRange{
	types.SignalSpO2:            {min: 50, max: 100},
	types.SignalHeartRate:       {min: 20, max: 260},
	types.SignalRespiratoryRate: {min: 4, max: 60},
	types.SignalTemperature:     {min: 30, max: 45},
}

func ValidateSample(sample types.VitalSample) error {
	if sample.PatientID == "" {
		return fmt.Errorf("%w: missing patient id", ErrValidation)
	}

	if sample.Tenant == "" {
		return fmt.Errorf("%w: missing tenant", ErrValidation)
	}

	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}

	r, ok := plausibleRanges[sample.Signal]
	if !ok {
		return fmt.Errorf("%w: unknown signal %s", ErrValidation, sample.Signal)
	}

	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: %s value is not a number", ErrValidation, sample.Signal)
	}

	if sample.Value < r.min || sample.Value > r.max {
		return fmt.Errorf("%w: %s value %.1f outside plausible range [%.0f, %.0f]", ErrValidation, sample.Signal, sample.Value, r.min, r.max)
	}

	return nil
}
