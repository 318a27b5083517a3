package alerting

import (
	"fmt"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

func TestRepeatWithinWindowIsADuplicate(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 0)

	v := s.Check("patient-01", ConditionLowSpO2, types.SeverityCritical, t0)
	is.True(v.Allow)

	v = s.Check("patient-01", ConditionLowSpO2, types.SeverityCritical, t0.Add(time.Hour+59*time.Minute))
	is.True(!v.Allow)
	is.Equal(ReasonDuplicate, v.Reason)

	v = s.Check("patient-01", ConditionLowSpO2, types.SeverityCritical, t0.Add(2*time.Hour))
	is.True(v.Allow)
}

func TestDistinctConditionsAreNotDuplicates(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 0)

	is.True(s.Check("patient-01", ConditionLowSpO2, types.SeverityCritical, t0).Allow)
	is.True(s.Check("patient-01", ConditionHeartRateOutOfRange, types.SeverityCritical, t0.Add(time.Minute)).Allow)
	is.True(s.Check("patient-02", ConditionLowSpO2, types.SeverityCritical, t0.Add(2*time.Minute)).Allow)
}

func TestStormStartsAboveThreshold(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 0)

	for i := 0; i < DefaultStormThreshold; i++ {
		v := s.Check("patient-01", fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute))
		is.True(v.Allow)
		is.True(!v.StormStarted)
	}

	v := s.Check("patient-01", "condition-10", types.SeverityWarning, t0.Add(10*time.Minute))
	is.True(!v.Allow)
	is.Equal(ReasonStorm, v.Reason)
	is.True(v.StormStarted)
	is.Equal([]string{"condition-10"}, v.FoldedConditions)

	// the storm starts once, later candidates keep folding
	v = s.Check("patient-01", "condition-11", types.SeverityWarning, t0.Add(11*time.Minute))
	is.True(!v.Allow)
	is.True(!v.StormStarted)
	is.Equal([]string{"condition-10", "condition-11"}, v.FoldedConditions)
}

func TestCriticalAlertsPassThroughAStorm(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 3)

	for i := 0; i < 3; i++ {
		s.Check("patient-01", fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute))
	}

	v := s.Check("patient-01", ConditionLowSpO2, types.SeverityCritical, t0.Add(4*time.Minute))
	is.True(v.Allow)
	is.True(v.StormStarted)

	v = s.Check("patient-01", ConditionHeartRateOutOfRange, types.SeverityCritical, t0.Add(5*time.Minute))
	is.True(v.Allow)
	is.True(!v.StormStarted)
}

func TestStormClearsWhenTheTrailingHourQuietsDown(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 3)

	for i := 0; i < 4; i++ {
		s.Check("patient-01", fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute))
	}

	v := s.Check("patient-01", "condition-4", types.SeverityWarning, t0.Add(5*time.Minute))
	is.True(!v.Allow)

	// everything before has aged out of the trailing hour
	v = s.Check("patient-01", "condition-5", types.SeverityWarning, t0.Add(90*time.Minute))
	is.True(v.Allow)
	is.Equal(1, v.RecentCount)

	// and a fresh storm starts from a clean folded list
	for i := 6; i < 8; i++ {
		s.Check("patient-01", fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(85+i)*time.Minute))
	}
	v = s.Check("patient-01", "condition-9", types.SeverityWarning, t0.Add(95*time.Minute))
	is.True(v.StormStarted)
	is.Equal([]string{"condition-9"}, v.FoldedConditions)
}

func TestStormCountIsPerPatient(t *testing.T) {
	is := is.New(t)
	s := NewSuppressor(0, 3)

	for i := 0; i < 4; i++ {
		s.Check("patient-01", fmt.Sprintf("condition-%d", i), types.SeverityWarning, t0.Add(time.Duration(i)*time.Minute))
	}

	v := s.Check("patient-02", "condition-0", types.SeverityWarning, t0.Add(5*time.Minute))
	is.True(v.Allow)
}
