package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) AddPatient(ctx context.Context, p types.Patient) error {
	if p.PatientID == "" {
		return ErrNoID
	}
	if p.Tenant == "" {
		return ErrMissingTenant
	}

	var deleted bool
	err := s.pool.QueryRow(ctx, "SELECT deleted FROM patients WHERE patient_id = @patient_id ORDER BY deleted ASC LIMIT 1",
		pgx.NamedArgs{"patient_id": p.PatientID}).Scan(&deleted)
	if err == nil {
		if deleted {
			return ErrDeleted
		}
		return ErrAlreadyExist
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	contact, err := json.Marshal(p.Contact)
	if err != nil {
		return err
	}

	careTeam, err := json.Marshal(p.CareTeam)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, name, active, contact, care_team, activity_goal_minutes, tenant, created_on, modified_on)
		VALUES (@patient_id, @name, @active, @contact, @care_team, @activity_goal_minutes, @tenant, @created_on, @modified_on)`,
		pgx.NamedArgs{
			"patient_id":            p.PatientID,
			"name":                  p.Name,
			"active":                p.Active,
			"contact":               string(contact),
			"care_team":             string(careTeam),
			"activity_goal_minutes": p.ActivityGoalMinutes,
			"tenant":                p.Tenant,
			"created_on":            time.Now().UTC(),
			"modified_on":           time.Now().UTC(),
		})

	return err
}

func (s *Storage) CreateOrUpdatePatient(ctx context.Context, p types.Patient) error {
	err := s.AddPatient(ctx, p)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrAlreadyExist) {
		return s.UpdatePatient(ctx, p)
	}

	return err
}

func (s *Storage) UpdatePatient(ctx context.Context, p types.Patient) error {
	if p.PatientID == "" {
		return ErrNoID
	}

	contact, err := json.Marshal(p.Contact)
	if err != nil {
		return err
	}

	careTeam, err := json.Marshal(p.CareTeam)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE patients
		SET name = @name,
		    active = @active,
		    contact = @contact,
		    care_team = @care_team,
		    activity_goal_minutes = @activity_goal_minutes,
		    modified_on = @modified_on
		WHERE patient_id = @patient_id AND deleted = FALSE`,
		pgx.NamedArgs{
			"patient_id":            p.PatientID,
			"name":                  p.Name,
			"active":                p.Active,
			"contact":               string(contact),
			"care_team":             string(careTeam),
			"activity_goal_minutes": p.ActivityGoalMinutes,
			"modified_on":           time.Now().UTC(),
		})

	return err
}

func (s *Storage) GetPatient(ctx context.Context, patientID string, tenants []string) (types.Patient, error) {
	condition := &Condition{}
	WithPatientID(patientID)(condition)
	WithTenants(tenants)(condition)

	query := fmt.Sprintf(`
		SELECT patient_id, name, active, contact, care_team, activity_goal_minutes, tenant, last_observed_at
		FROM patients
		WHERE %s AND deleted = FALSE`, condition.Where())

	var p types.Patient
	var contact, careTeam json.RawMessage
	var lastObserved *time.Time

	err := s.pool.QueryRow(ctx, query, condition.NamedArgs()).Scan(
		&p.PatientID, &p.Name, &p.Active, &contact, &careTeam, &p.ActivityGoalMinutes, &p.Tenant, &lastObserved,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Patient{}, ErrNoRows
		}
		return types.Patient{}, err
	}

	if err := json.Unmarshal(contact, &p.Contact); err != nil {
		return types.Patient{}, err
	}
	if err := json.Unmarshal(careTeam, &p.CareTeam); err != nil {
		return types.Patient{}, err
	}
	if lastObserved != nil {
		p.LastObservedAt = lastObserved
	}

	return p, nil
}

func (s *Storage) QueryPatients(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Patient], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	deletedClause := "AND deleted = FALSE"
	if condition.IncludeDeleted {
		deletedClause = ""
	}

	sortBy := condition.SortBy()
	if sortBy == "" {
		sortBy = "patient_id"
	}

	query := fmt.Sprintf(`
		SELECT patient_id, name, active, contact, care_team, activity_goal_minutes, tenant, last_observed_at, count(*) OVER () AS count
		FROM patients
		WHERE %s %s
		ORDER BY %s %s
		OFFSET %d LIMIT %d`,
		condition.Where(), deletedClause, sortBy, condition.SortOrder(), condition.Offset(), queryLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Patient]{}, err
	}

	patients := make([]types.Patient, 0)

	var p types.Patient
	var contact, careTeam json.RawMessage
	var lastObserved *time.Time
	var count int64

	_, err = pgx.ForEachRow(rows, []any{&p.PatientID, &p.Name, &p.Active, &contact, &careTeam, &p.ActivityGoalMinutes, &p.Tenant, &lastObserved, &count}, func() error {
		if err := json.Unmarshal(contact, &p.Contact); err != nil {
			return err
		}
		if err := json.Unmarshal(careTeam, &p.CareTeam); err != nil {
			return err
		}
		p.LastObservedAt = nil
		if lastObserved != nil {
			t := *lastObserved
			p.LastObservedAt = &t
		}
		patients = append(patients, p)
		return nil
	})
	if err != nil {
		return types.Collection[types.Patient]{}, err
	}

	return types.Collection[types.Patient]{
		Data:       patients,
		Count:      uint64(len(patients)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(queryLimit(condition)),
		TotalCount: uint64(count),
	}, nil
}

func (s *Storage) SetLastObserved(ctx context.Context, patientID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE patients
		SET last_observed_at = @last_observed_at
		WHERE patient_id = @patient_id AND deleted = FALSE
		  AND (last_observed_at IS NULL OR last_observed_at < @last_observed_at)`,
		pgx.NamedArgs{
			"patient_id":       patientID,
			"last_observed_at": ts.UTC(),
		})

	return err
}

func (s *Storage) SetActive(ctx context.Context, patientID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE patients
		SET active = @active, modified_on = @modified_on
		WHERE patient_id = @patient_id AND deleted = FALSE`,
		pgx.NamedArgs{
			"patient_id":  patientID,
			"active":      active,
			"modified_on": time.Now().UTC(),
		})

	return err
}

func (s *Storage) DeletePatient(ctx context.Context, patientID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE patients
		SET deleted = TRUE, deleted_on = @deleted_on
		WHERE patient_id = @patient_id AND deleted = FALSE`,
		pgx.NamedArgs{
			"patient_id": patientID,
			"deleted_on": time.Now().UTC(),
		})

	return err
}

func (s *Storage) GetTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT tenant FROM patients WHERE deleted = FALSE")
	if err != nil {
		return nil, err
	}

	tenants := make([]string, 0)
	var tenant string

	_, err = pgx.ForEachRow(rows, []any{&tenant}, func() error {
		tenants = append(tenants, tenant)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tenants, nil
}

func queryLimit(c *Condition) int {
	if c.Limit() == 0 {
		return 1000
	}
	return c.Limit()
}
