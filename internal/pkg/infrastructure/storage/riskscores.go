package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) AddRiskScore(ctx context.Context, score types.RiskScore) error {
	if score.PatientID == "" {
		return ErrNoID
	}
	if score.Tenant == "" {
		return ErrMissingTenant
	}

	components, err := json.Marshal(score.Components)
	if err != nil {
		return err
	}

	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_scores (time, patient_id, overall, components, category, confidence, factors, source, tenant, created_on)
		VALUES (@time, @patient_id, @overall, @components, @category, @confidence, @factors, @source, @tenant, @created_on)
		ON CONFLICT (time, patient_id) DO UPDATE
		SET overall = EXCLUDED.overall,
		    components = EXCLUDED.components,
		    category = EXCLUDED.category,
		    confidence = EXCLUDED.confidence,
		    factors = EXCLUDED.factors,
		    source = EXCLUDED.source`,
		pgx.NamedArgs{
			"time":       score.Timestamp.UTC(),
			"patient_id": score.PatientID,
			"overall":    score.Overall,
			"components": string(components),
			"category":   score.Category,
			"confidence": score.Confidence,
			"factors":    string(factors),
			"source":     score.Source,
			"tenant":     score.Tenant,
			"created_on": time.Now().UTC(),
		})

	return err
}

func (s *Storage) GetLatestRiskScore(ctx context.Context, patientID string, tenants []string) (types.RiskScore, error) {
	condition := &Condition{}
	WithPatientID(patientID)(condition)
	WithTenants(tenants)(condition)

	query := fmt.Sprintf(`
		SELECT time, patient_id, overall, components, category, confidence, factors, source, tenant
		FROM risk_scores
		WHERE %s
		ORDER BY time DESC
		LIMIT 1`, condition.Where())

	var score types.RiskScore
	var components, factors json.RawMessage

	err := s.pool.QueryRow(ctx, query, condition.NamedArgs()).Scan(
		&score.Timestamp, &score.PatientID, &score.Overall, &components, &score.Category, &score.Confidence, &factors, &score.Source, &score.Tenant,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.RiskScore{}, ErrNoRows
		}
		return types.RiskScore{}, err
	}

	if err := json.Unmarshal(components, &score.Components); err != nil {
		return types.RiskScore{}, err
	}
	if err := json.Unmarshal(factors, &score.Factors); err != nil {
		return types.RiskScore{}, err
	}

	return score, nil
}

func (s *Storage) QueryRiskScores(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.RiskScore], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	// score history filters on observation time rather than ingest time
	where := strings.ReplaceAll(condition.Where(), "created_on", "time")

	query := fmt.Sprintf(`
		SELECT time, patient_id, overall, components, category, confidence, factors, source, tenant, count(*) OVER () AS count
		FROM risk_scores
		WHERE %s
		ORDER BY time DESC
		OFFSET %d LIMIT %d`,
		where, condition.Offset(), queryLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.RiskScore]{}, err
	}

	scores := make([]types.RiskScore, 0)

	var score types.RiskScore
	var components, factors json.RawMessage
	var count int64

	_, err = pgx.ForEachRow(rows, []any{&score.Timestamp, &score.PatientID, &score.Overall, &components, &score.Category, &score.Confidence, &factors, &score.Source, &score.Tenant, &count}, func() error {
		if err := json.Unmarshal(components, &score.Components); err != nil {
			return err
		}
		if err := json.Unmarshal(factors, &score.Factors); err != nil {
			return err
		}
		scores = append(scores, score)
		return nil
	})
	if err != nil {
		return types.Collection[types.RiskScore]{}, err
	}

	return types.Collection[types.RiskScore]{
		Data:       scores,
		Count:      uint64(len(scores)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(queryLimit(condition)),
		TotalCount: uint64(count),
	}, nil
}
