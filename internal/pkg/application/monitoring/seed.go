package monitoring

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

func SeedPatients(ctx context.Context, s *storage.Storage, patients io.ReadCloser, validTenants []string) error {
	log := logging.GetFromContext(ctx)
	defer patients.Close()

	r := csv.NewReader(patients)
	r.Comma = ';'

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	records, err := getRecordsFromRows(rows)
	if err != nil {
		return err
	}

	log.Info("loaded patients from file", slog.Int("rows", len(rows)), slog.Int("records", len(records)))

	for _, record := range records {
		patient := record.mapToPatient()

		if !slices.Contains(validTenants, patient.Tenant) {
			log.Warn("tenant not allowed", "patient_id", patient.PatientID, "tenant", patient.Tenant)
			continue
		}

		err := s.CreateOrUpdatePatient(ctx, patient)
		if err != nil {
			return err
		}
	}

	return nil
}

type patientRecord struct {
	patientID          string
	name               string
	tenant             string
	active             bool
	phone              string
	email              string
	pushToken          string
	caregiverName      string
	caregiverPhone     string
	caregiverEmail     string
	caregiverPushToken string
	onCallName         string
	onCallEmail        string
	activityGoal       int
}

func (pr patientRecord) mapToPatient() types.Patient {
	patient := types.Patient{
		PatientID: pr.patientID,
		Name:      pr.name,
		Active:    pr.active,
		Tenant:    pr.tenant,
		Contact: types.Contact{
			Name:      pr.name,
			Phone:     pr.phone,
			Email:     pr.email,
			PushToken: pr.pushToken,
		},
		CareTeam: types.CareTeam{
			OnCall: types.Contact{
				Name:  pr.onCallName,
				Email: pr.onCallEmail,
			},
		},
		ActivityGoalMinutes: pr.activityGoal,
	}

	if pr.caregiverName != "" {
		patient.CareTeam.Caregivers = append(patient.CareTeam.Caregivers, types.Contact{
			Name:      pr.caregiverName,
			Phone:     pr.caregiverPhone,
			Email:     pr.caregiverEmail,
			PushToken: pr.caregiverPushToken,
		})
	}

	return patient
}

func newPatientRecord(r []string) (patientRecord, error) {
	strToBool := func(str string) bool {
		return str == "true"
	}

	strToInt := func(str string, def int) int {
		if n, err := strconv.Atoi(str); err == nil {
			if n == 0 {
				return def
			}
			return n
		}
		return def
	}

	pr := patientRecord{
		patientID:          strings.TrimSpace(r[0]),
		name:               r[1],
		tenant:             r[2],
		active:             strToBool(r[3]),
		phone:              strings.TrimSpace(r[4]),
		email:              strings.TrimSpace(r[5]),
		pushToken:          strings.TrimSpace(r[6]),
		caregiverName:      r[7],
		caregiverPhone:     strings.TrimSpace(r[8]),
		caregiverEmail:     strings.TrimSpace(r[9]),
		caregiverPushToken: strings.TrimSpace(r[10]),
		onCallName:         r[11],
		onCallEmail:        strings.TrimSpace(r[12]),
		activityGoal:       strToInt(r[13], 30),
	}

	err := validatePatientRecord(pr)
	if err != nil {
		return patientRecord{}, err
	}

	return pr, nil
}

func validatePatientRecord(r patientRecord) error {
	if r.patientID == "" {
		return fmt.Errorf("row with name %s contains no patient id", r.name)
	}

	if r.tenant == "" {
		return fmt.Errorf("row with %s contains no tenant", r.patientID)
	}

	if r.phone == "" && r.email == "" && r.pushToken == "" {
		return fmt.Errorf("row with %s contains no reachable contact information", r.patientID)
	}

	return nil
}

func getRecordsFromRows(rows [][]string) ([]patientRecord, error) {
	records := []patientRecord{}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		rec, err := newPatientRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
