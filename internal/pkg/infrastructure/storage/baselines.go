package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) SaveBaseline(ctx context.Context, b types.Baseline) error {
	if b.PatientID == "" {
		return ErrNoID
	}
	if b.Tenant == "" {
		return ErrMissingTenant
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO baselines (patient_id, signal, mean, std_dev, m2, sample_count, window_started_at, established_at, status, tenant, modified_on)
		VALUES (@patient_id, @signal, @mean, @std_dev, @m2, @sample_count, @window_started_at, @established_at, @status, @tenant, @modified_on)
		ON CONFLICT (patient_id, signal) DO UPDATE
		SET mean = EXCLUDED.mean,
		    std_dev = EXCLUDED.std_dev,
		    m2 = EXCLUDED.m2,
		    sample_count = EXCLUDED.sample_count,
		    window_started_at = EXCLUDED.window_started_at,
		    established_at = EXCLUDED.established_at,
		    status = EXCLUDED.status,
		    tenant = EXCLUDED.tenant,
		    modified_on = EXCLUDED.modified_on`,
		pgx.NamedArgs{
			"patient_id":        b.PatientID,
			"signal":            b.Signal,
			"mean":              b.Mean,
			"std_dev":           b.StdDev,
			"m2":                b.M2,
			"sample_count":      b.SampleCount,
			"window_started_at": b.WindowStartedAt.UTC(),
			"established_at":    b.EstablishedAt,
			"status":            b.Status,
			"tenant":            b.Tenant,
			"modified_on":       time.Now().UTC(),
		})

	return err
}

func (s *Storage) GetBaseline(ctx context.Context, patientID, signal string, tenants []string) (types.Baseline, error) {
	condition := &Condition{}
	WithPatientID(patientID)(condition)
	WithSignal(signal)(condition)
	WithTenants(tenants)(condition)

	query := fmt.Sprintf(`
		SELECT patient_id, signal, mean, std_dev, m2, sample_count, window_started_at, established_at, status, tenant
		FROM baselines
		WHERE %s`, condition.Where())

	var b types.Baseline
	var established *time.Time

	err := s.pool.QueryRow(ctx, query, condition.NamedArgs()).Scan(
		&b.PatientID, &b.Signal, &b.Mean, &b.StdDev, &b.M2, &b.SampleCount, &b.WindowStartedAt, &established, &b.Status, &b.Tenant,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Baseline{}, ErrNoRows
		}
		return types.Baseline{}, err
	}

	b.EstablishedAt = established

	return b, nil
}

func (s *Storage) QueryBaselines(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Baseline], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	sortBy := condition.SortBy()
	if sortBy == "" {
		sortBy = "patient_id"
	}

	query := fmt.Sprintf(`
		SELECT patient_id, signal, mean, std_dev, m2, sample_count, window_started_at, established_at, status, tenant, count(*) OVER () AS count
		FROM baselines
		WHERE %s
		ORDER BY %s %s, signal ASC
		OFFSET %d LIMIT %d`,
		condition.Where(), sortBy, condition.SortOrder(), condition.Offset(), queryLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Baseline]{}, err
	}

	baselines := make([]types.Baseline, 0)

	var b types.Baseline
	var established *time.Time
	var count int64

	_, err = pgx.ForEachRow(rows, []any{&b.PatientID, &b.Signal, &b.Mean, &b.StdDev, &b.M2, &b.SampleCount, &b.WindowStartedAt, &established, &b.Status, &b.Tenant, &count}, func() error {
		b.EstablishedAt = nil
		if established != nil {
			t := *established
			b.EstablishedAt = &t
		}
		baselines = append(baselines, b)
		return nil
	})
	if err != nil {
		return types.Collection[types.Baseline]{}, err
	}

	return types.Collection[types.Baseline]{
		Data:       baselines,
		Count:      uint64(len(baselines)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(queryLimit(condition)),
		TotalCount: uint64(count),
	}, nil
}
