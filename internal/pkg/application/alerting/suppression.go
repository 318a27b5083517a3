package alerting

import (
	"slices"
	"sync"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

const (
	DefaultSuppressionWindow = 2 * time.Hour
	DefaultStormThreshold    = 10

	ReasonDuplicate = "duplicate"
	ReasonStorm     = "storm"
)

type Verdict struct {
	Allow            bool
	Reason           string
	StormStarted     bool
	RecentCount      int
	FoldedConditions []string
}

// Suppressor damps repeat alerts. A condition that fired for a patient within
// the suppression window is a duplicate. A patient exceeding the storm
// threshold within the trailing hour has further non-critical alerts folded
// until the trailing count drops back under the threshold.
type Suppressor struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	patients  map[string]*patientHistory
}

type patientHistory struct {
	lastSent map[string]time.Time
	recent   []time.Time
	storm    bool
	folded   []string
}

func NewSuppressor(window time.Duration, stormThreshold int) *Suppressor {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	if stormThreshold <= 0 {
		stormThreshold = DefaultStormThreshold
	}

	return &Suppressor{
		window:    window,
		threshold: stormThreshold,
		patients:  map[string]*patientHistory{},
	}
}

func (s *Suppressor) Check(patientID, condition, severity string, now time.Time) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[patientID]
	if !ok {
		p = &patientHistory{lastSent: map[string]time.Time{}}
		s.patients[patientID] = p
	}

	if last, ok := p.lastSent[condition]; ok && now.Sub(last) < s.window {
		return Verdict{Reason: ReasonDuplicate}
	}

	// folded alerts stamp the window too, so one noisy condition can not
	// keep a storm alive on its own
	p.lastSent[condition] = now

	cutoff := now.Add(-1 * time.Hour)
	p.recent = slices.DeleteFunc(p.recent, func(t time.Time) bool {
		return !t.After(cutoff)
	})
	p.recent = append(p.recent, now)

	if len(p.recent) <= s.threshold {
		p.storm = false
		p.folded = nil
		return Verdict{Allow: true, RecentCount: len(p.recent)}
	}

	v := Verdict{RecentCount: len(p.recent)}

	if !p.storm {
		p.storm = true
		v.StormStarted = true
	}

	if severity == types.SeverityCritical {
		v.Allow = true
		v.FoldedConditions = slices.Clone(p.folded)
		return v
	}

	if !slices.Contains(p.folded, condition) {
		p.folded = append(p.folded, condition)
	}

	v.Reason = ReasonStorm
	v.FoldedConditions = slices.Clone(p.folded)
	return v
}
