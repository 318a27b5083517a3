package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

const (
	ConditionLowSpO2             = "low_spo2"
	ConditionBorderlineSpO2      = "borderline_spo2"
	ConditionHeartRateOutOfRange = "heart_rate_out_of_range"
	ConditionHighRespiratoryRate = "high_respiratory_rate"
	ConditionRiskScoreCritical   = "risk_score_critical"
	ConditionRiskScoreElevated   = "risk_score_elevated"
	ConditionNoDataReceived      = "no_data_received"
	ConditionInhalerOveruse      = "rescue_inhaler_overuse"
	ConditionLowAdherence        = "low_medication_adherence"
	ConditionDecliningActivity   = "declining_activity"
	ConditionLowBattery          = "low_battery"
	ConditionMedicationDue       = "medication_due"
	ConditionGoalAchieved        = "exercise_goal_achieved"
	ConditionAlertStorm          = "alert_storm"
)

type Description struct {
	Severity    string
	Title       string
	ActionSteps []string
}

var catalog = map[string]Description{
	ConditionLowSpO2: {
		Severity:    types.SeverityCritical,
		Title:       "Sustained low oxygen saturation",
		ActionSteps: []string{"Call the patient immediately", "Instruct use of supplemental oxygen if prescribed", "Arrange urgent clinical review"},
	},
	ConditionBorderlineSpO2: {
		Severity:    types.SeverityWarning,
		Title:       "Oxygen saturation at the lower margin",
		ActionSteps: []string{"Check in with the patient", "Verify sensor placement", "Increase monitoring frequency"},
	},
	ConditionHeartRateOutOfRange: {
		Severity:    types.SeverityCritical,
		Title:       "Heart rate outside safe range",
		ActionSteps: []string{"Call the patient immediately", "Review current medication", "Arrange urgent clinical review"},
	},
	ConditionHighRespiratoryRate: {
		Severity:    types.SeverityCritical,
		Title:       "Elevated respiratory rate",
		ActionSteps: []string{"Call the patient immediately", "Assess for acute exacerbation", "Arrange urgent clinical review"},
	},
	ConditionRiskScoreCritical: {
		Severity:    types.SeverityCritical,
		Title:       "Exacerbation risk critical",
		ActionSteps: []string{"Review the contributing factors", "Contact the patient today", "Consider treatment plan adjustment"},
	},
	ConditionRiskScoreElevated: {
		Severity:    types.SeverityWarning,
		Title:       "Exacerbation risk elevated",
		ActionSteps: []string{"Review the contributing factors", "Schedule a follow up call"},
	},
	ConditionNoDataReceived: {
		Severity:    types.SeverityCritical,
		Title:       "No data received from patient",
		ActionSteps: []string{"Contact the patient or caregiver", "Verify device power and connectivity", "Dispatch a home visit if unreachable"},
	},
	ConditionInhalerOveruse: {
		Severity:    types.SeverityWarning,
		Title:       "Rescue inhaler used frequently",
		ActionSteps: []string{"Contact the patient about symptom burden", "Review reliever technique and dosage"},
	},
	ConditionLowAdherence: {
		Severity:    types.SeverityWarning,
		Title:       "Medication adherence below target",
		ActionSteps: []string{"Discuss barriers to adherence with the patient", "Review the medication schedule"},
	},
	ConditionDecliningActivity: {
		Severity:    types.SeverityWarning,
		Title:       "Declining daily activity",
		ActionSteps: []string{"Check in with the patient", "Screen for worsening breathlessness"},
	},
	ConditionLowBattery: {
		Severity:    types.SeverityInfo,
		Title:       "Device battery low",
		ActionSteps: []string{"Remind the patient to charge the device"},
	},
	ConditionMedicationDue: {
		Severity:    types.SeverityInfo,
		Title:       "Medication dose due",
		ActionSteps: []string{"Take the scheduled dose"},
	},
	ConditionGoalAchieved: {
		Severity:    types.SeverityInfo,
		Title:       "Daily exercise goal achieved",
		ActionSteps: []string{"Encourage the patient to keep it up"},
	},
	ConditionAlertStorm: {
		Severity:    types.SeverityWarning,
		Title:       "Unusually high alert volume",
		ActionSteps: []string{"Review the folded alerts for this patient", "Check the device for malfunction"},
	},
}

func Describe(condition string) (Description, bool) {
	d, ok := catalog[condition]
	return d, ok
}

// Facts is the snapshot of everything the rule set may consult for one
// incoming event. Fields that do not apply to the event are left at their
// zero value and the corresponding rules skip themselves.
type Facts struct {
	PatientID string
	Tenant    string
	Now       time.Time

	Sample    *types.VitalSample
	RiskScore *types.RiskScore

	InhalerUsesToday int
	AdherencePercent *float64
	MedicationDue    bool

	DailyActivityMeans  []float64
	ActiveMinutesToday  int
	ActivityGoalMinutes int
}

type Finding struct {
	Condition   string
	Severity    string
	Title       string
	Message     string
	ActionSteps []string
}

type Rule struct {
	Condition string
	Sustain   time.Duration
	Applies   func(Facts) bool
	Breached  func(Facts) (bool, string)
}

type Config struct {
	SustainSeconds       int     `yaml:"sustainSeconds"`
	SpO2CriticalBelow    float64 `yaml:"spo2CriticalBelow"`
	SpO2BorderlineUpTo   float64 `yaml:"spo2BorderlineUpTo"`
	HeartRateAbove       float64 `yaml:"heartRateAbove"`
	HeartRateBelow       float64 `yaml:"heartRateBelow"`
	RespiratoryRateAbove float64 `yaml:"respiratoryRateAbove"`
	RiskCriticalAbove    float64 `yaml:"riskCriticalAbove"`
	RiskElevatedFrom     float64 `yaml:"riskElevatedFrom"`
	InhalerUsesPerDay    int     `yaml:"inhalerUsesPerDay"`
	AdherenceFloor       float64 `yaml:"adherenceFloor"`
	BatteryFloor         float64 `yaml:"batteryFloor"`
	ActivityDecline      float64 `yaml:"activityDecline"`
}

func (c Config) sustain() time.Duration {
	return time.Duration(c.SustainSeconds) * time.Second
}

func DefaultConfig() Config {
	return Config{
		SustainSeconds:       120,
		SpO2CriticalBelow:    88,
		SpO2BorderlineUpTo:   90,
		HeartRateAbove:       120,
		HeartRateBelow:       40,
		RespiratoryRateAbove: 30,
		RiskCriticalAbove:    85,
		RiskElevatedFrom:     70,
		InhalerUsesPerDay:    4,
		AdherenceFloor:       70,
		BatteryFloor:         20,
		ActivityDecline:      0.10,
	}
}

func sampleOf(signal string) func(Facts) bool {
	return func(f Facts) bool {
		return f.Sample != nil && f.Sample.Signal == signal
	}
}

func newRules(cfg Config) []Rule {
	return []Rule{
		{
			Condition: ConditionLowSpO2,
			Sustain:   cfg.sustain(),
			Applies:   sampleOf(types.SignalSpO2),
			Breached: func(f Facts) (bool, string) {
				if f.Sample.Value >= cfg.SpO2CriticalBelow {
					return false, ""
				}
				return true, fmt.Sprintf("Oxygen saturation at %.0f%%, below %.0f%% for more than %.0f minutes", f.Sample.Value, cfg.SpO2CriticalBelow, cfg.sustain().Minutes())
			},
		},
		{
			Condition: ConditionBorderlineSpO2,
			Sustain:   cfg.sustain(),
			Applies:   sampleOf(types.SignalSpO2),
			Breached: func(f Facts) (bool, string) {
				if f.Sample.Value < cfg.SpO2CriticalBelow || f.Sample.Value > cfg.SpO2BorderlineUpTo {
					return false, ""
				}
				return true, fmt.Sprintf("Oxygen saturation at %.0f%% for more than %.0f minutes", f.Sample.Value, cfg.sustain().Minutes())
			},
		},
		{
			Condition: ConditionHeartRateOutOfRange,
			Applies:   sampleOf(types.SignalHeartRate),
			Breached: func(f Facts) (bool, string) {
				if f.Sample.Value > cfg.HeartRateAbove || f.Sample.Value < cfg.HeartRateBelow {
					return true, fmt.Sprintf("Heart rate at %.0f bpm", f.Sample.Value)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionHighRespiratoryRate,
			Applies:   sampleOf(types.SignalRespiratoryRate),
			Breached: func(f Facts) (bool, string) {
				if f.Sample.Value > cfg.RespiratoryRateAbove {
					return true, fmt.Sprintf("Respiratory rate at %.0f breaths per minute", f.Sample.Value)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionRiskScoreCritical,
			Applies:   func(f Facts) bool { return f.RiskScore != nil },
			Breached: func(f Facts) (bool, string) {
				if f.RiskScore.Overall > cfg.RiskCriticalAbove {
					return true, fmt.Sprintf("Composite risk score at %.0f of 100", f.RiskScore.Overall)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionRiskScoreElevated,
			Applies:   func(f Facts) bool { return f.RiskScore != nil },
			Breached: func(f Facts) (bool, string) {
				if f.RiskScore.Overall >= cfg.RiskElevatedFrom && f.RiskScore.Overall <= cfg.RiskCriticalAbove {
					return true, fmt.Sprintf("Composite risk score at %.0f of 100", f.RiskScore.Overall)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionInhalerOveruse,
			Breached: func(f Facts) (bool, string) {
				if f.InhalerUsesToday > cfg.InhalerUsesPerDay {
					return true, fmt.Sprintf("Rescue inhaler used %d times today", f.InhalerUsesToday)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionLowAdherence,
			Applies:   func(f Facts) bool { return f.AdherencePercent != nil },
			Breached: func(f Facts) (bool, string) {
				if *f.AdherencePercent < cfg.AdherenceFloor {
					return true, fmt.Sprintf("Medication adherence at %.0f%% over the last seven days", *f.AdherencePercent)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionDecliningActivity,
			Applies:   func(f Facts) bool { return len(f.DailyActivityMeans) >= 3 },
			Breached: func(f Facts) (bool, string) {
				m := f.DailyActivityMeans
				first, mid, last := m[len(m)-3], m[len(m)-2], m[len(m)-1]

				if first <= 0 || first <= mid || mid <= last {
					return false, ""
				}

				decline := (first - last) / first
				if decline < cfg.ActivityDecline {
					return false, ""
				}

				return true, fmt.Sprintf("Daily activity declined %.0f%% over three days", decline*100)
			},
		},
		{
			Condition: ConditionLowBattery,
			Applies:   func(f Facts) bool { return f.Sample != nil && f.Sample.BatteryLevel != nil },
			Breached: func(f Facts) (bool, string) {
				if *f.Sample.BatteryLevel < cfg.BatteryFloor {
					return true, fmt.Sprintf("Device battery at %.0f%%", *f.Sample.BatteryLevel)
				}
				return false, ""
			},
		},
		{
			Condition: ConditionMedicationDue,
			Breached: func(f Facts) (bool, string) {
				if f.MedicationDue {
					return true, "A scheduled medication dose is due"
				}
				return false, ""
			},
		},
		{
			Condition: ConditionGoalAchieved,
			Applies:   func(f Facts) bool { return f.ActivityGoalMinutes > 0 },
			Breached: func(f Facts) (bool, string) {
				if f.ActiveMinutesToday >= f.ActivityGoalMinutes {
					return true, fmt.Sprintf("%d active minutes today, goal of %d reached", f.ActiveMinutesToday, f.ActivityGoalMinutes)
				}
				return false, ""
			},
		},
	}
}

// Evaluator runs the rule set over incoming facts. Sustained rules latch per
// patient and condition so a continuous breach fires exactly once, and the
// latch resets when the signal leaves the band.
type Evaluator struct {
	mu      sync.Mutex
	rules   []Rule
	latches map[string]*latch
}

type latch struct {
	breachStart time.Time
	fired       bool
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		rules:   newRules(cfg),
		latches: map[string]*latch{},
	}
}

func (e *Evaluator) Evaluate(f Facts) []Finding {
	e.mu.Lock()
	defer e.mu.Unlock()

	findings := make([]Finding, 0)

	for _, r := range e.rules {
		if r.Applies != nil && !r.Applies(f) {
			continue
		}

		breached, message := r.Breached(f)

		if r.Sustain == 0 {
			if breached {
				findings = append(findings, newFinding(r.Condition, message))
			}
			continue
		}

		key := f.PatientID + "|" + r.Condition

		if !breached {
			delete(e.latches, key)
			continue
		}

		l, ok := e.latches[key]
		if !ok {
			e.latches[key] = &latch{breachStart: f.Now}
			continue
		}

		if l.fired || f.Now.Sub(l.breachStart) <= r.Sustain {
			continue
		}

		l.fired = true
		findings = append(findings, newFinding(r.Condition, message))
	}

	return findings
}

func newFinding(condition, message string) Finding {
	d := catalog[condition]
	return Finding{
		Condition:   condition,
		Severity:    d.Severity,
		Title:       d.Title,
		Message:     message,
		ActionSteps: d.ActionSteps,
	}
}
