package risk

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("patient-monitoring/risk")

const (
	WeightVitals      = 0.40
	WeightSymptoms    = 0.30
	WeightMedication  = 0.15
	WeightEnvironment = 0.15

	rulesConfidence = 0.75
)

type Adherence struct {
	Taken     int
	Scheduled int
}

// Percent reports doses taken against doses scheduled on the 0-100 scale.
// A patient with nothing scheduled is fully adherent.
func (a Adherence) Percent() float64 {
	if a.Scheduled <= 0 {
		return 100
	}
	return math.Min(100, float64(a.Taken)/float64(a.Scheduled)*100)
}

type Observation struct {
	PatientID string
	Tenant    string
	Timestamp time.Time
	Anomalies []types.AnomalyEvent
	Symptoms  *types.SymptomReport
	Adherence Adherence
	AQI       *int
}

type Engine struct {
	predictor Predictor
	threshold float64
}

type OptionFunc func(*Engine)

// WithPredictor wires an external exacerbation model. The engine falls back
// to the weighted rule combination whenever the model cannot answer.
func WithPredictor(p Predictor) OptionFunc {
	return func(e *Engine) {
		e.predictor = p
	}
}

func WithAnomalyThreshold(threshold float64) OptionFunc {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

func New(opts ...OptionFunc) *Engine {
	e := &Engine{
		threshold: 2.0,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) Score(ctx context.Context, obs Observation) types.RiskScore {
	components := types.RiskComponents{
		Vitals:      e.vitalsComponent(obs.Anomalies),
		Symptoms:    symptomsComponent(obs.Symptoms),
		Medication:  medicationComponent(obs.Adherence),
		Environment: environmentComponent(obs.AQI),
	}

	score := types.RiskScore{
		PatientID:  obs.PatientID,
		Components: components,
		Factors:    factors(components),
		Tenant:     obs.Tenant,
		Timestamp:  obs.Timestamp,
	}

	overall := WeightVitals*components.Vitals +
		WeightSymptoms*components.Symptoms +
		WeightMedication*components.Medication +
		WeightEnvironment*components.Environment

	score.Overall = round1(clamp(overall, 0, 100))
	score.Confidence = rulesConfidence
	score.Source = types.RiskSourceRules

	if e.predictor != nil {
		prediction, err := e.predictor.Predict(ctx, obs.PatientID, components)
		if err == nil {
			score.Overall = round1(prediction.Probability * 100)
			score.Confidence = prediction.Confidence
			score.Source = types.RiskSourceModel
		} else {
			logging.GetFromContext(ctx).Warn("falling back to rule based risk score", "err", err.Error())
		}
	}

	score.Category = types.RiskCategoryOf(score.Overall)

	return score
}

// vitalsComponent scores each deviation at 20 points plus 10 per standard
// deviation beyond the detection threshold, capped at 100.
func (e *Engine) vitalsComponent(anomalies []types.AnomalyEvent) float64 {
	var total float64
	for _, a := range anomalies {
		total += 20 + 10*math.Max(0, math.Abs(a.Deviation)-e.threshold)
	}
	return math.Min(100, total)
}

// symptomsComponent blends the CAT total (70%) with the mMRC grade (30%),
// both rescaled to 0-100.
func symptomsComponent(report *types.SymptomReport) float64 {
	if report == nil {
		return 0
	}

	cat := float64(report.CATScore()) * 2.5
	mmrc := float64(report.MMRCGrade) * 25

	return clamp(cat*0.7+mmrc*0.3, 0, 100)
}

func medicationComponent(adherence Adherence) float64 {
	return math.Max(0, 100-adherence.Percent())
}

// environmentComponent maps the air quality index onto risk bands.
func environmentComponent(aqi *int) float64 {
	if aqi == nil {
		return 0
	}

	switch {
	case *aqi <= 50:
		return 0
	case *aqi <= 100:
		return 25
	case *aqi <= 150:
		return 50
	case *aqi <= 200:
		return 75
	default:
		return 100
	}
}

type contribution struct {
	weighted float64
	label    string
}

// factors lists the non zero components in order of their weighted
// contribution, most influential first.
func factors(c types.RiskComponents) []string {
	contributions := []contribution{
		{weighted: WeightVitals * c.Vitals, label: "vital signs deviating from personal baseline"},
		{weighted: WeightSymptoms * c.Symptoms, label: "worsening symptom scores"},
		{weighted: WeightMedication * c.Medication, label: "missed medication doses"},
		{weighted: WeightEnvironment * c.Environment, label: "poor air quality"},
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].weighted > contributions[j].weighted
	})

	result := make([]string, 0, len(contributions))
	for _, c := range contributions {
		if c.weighted > 0 {
			result = append(result, c.label)
		}
	}

	return result
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
