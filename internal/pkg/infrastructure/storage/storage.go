package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{
		host:     host,
		user:     user,
		password: password,
		port:     port,
		dbname:   dbname,
		sslmode:  sslmode,
	}
}

func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, config.ConnStr())
	if err != nil {
		return nil, err
	}

	err = p.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return p, nil
}

var (
	ErrNoRows        = errors.New("no rows in result set")
	ErrTooManyRows   = errors.New("too many rows in result set")
	ErrQueryRow      = errors.New("could not execute query")
	ErrStoreFailed   = errors.New("could not store data")
	ErrNoID          = errors.New("data contains no id")
	ErrMissingTenant = errors.New("missing tenant information")
	ErrAlreadyExist  = errors.New("patient already exists")
	ErrDeleted       = errors.New("deleted")
)

type Storage struct {
	pool *pgxpool.Pool
}

func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func New(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS patients (
			patient_id				TEXT	NOT NULL,
			name					TEXT	NOT NULL,
			active					BOOLEAN	NOT NULL DEFAULT TRUE,
			contact					JSONB	NOT NULL,
			care_team				JSONB	NOT NULL,
			activity_goal_minutes	NUMERIC	NOT NULL DEFAULT 0,
			tenant					TEXT	NOT NULL,
			last_observed_at		timestamp with time zone NULL,
			created_on				timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on				timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted					BOOLEAN DEFAULT FALSE,
			deleted_on				timestamp with time zone NULL,
			CONSTRAINT pkey_patients_unique PRIMARY KEY (patient_id, deleted)
		);

		CREATE TABLE IF NOT EXISTS baselines (
			patient_id			TEXT	NOT NULL,
			signal				TEXT	NOT NULL,
			mean				DOUBLE PRECISION NOT NULL DEFAULT 0,
			std_dev				DOUBLE PRECISION NOT NULL DEFAULT 0,
			m2					DOUBLE PRECISION NOT NULL DEFAULT 0,
			sample_count		BIGINT	NOT NULL DEFAULT 0,
			window_started_at	timestamp with time zone NOT NULL,
			established_at		timestamp with time zone NULL,
			status				TEXT	NOT NULL,
			tenant				TEXT	NOT NULL,
			modified_on			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_baselines PRIMARY KEY (patient_id, signal)
		);

		CREATE TABLE IF NOT EXISTS risk_scores (
			time		timestamp with time zone NOT NULL,
			patient_id	TEXT	NOT NULL,
			overall		DOUBLE PRECISION NOT NULL,
			components	JSONB	NOT NULL,
			category	TEXT	NOT NULL,
			confidence	DOUBLE PRECISION NOT NULL,
			factors		JSONB	NOT NULL,
			source		TEXT	NOT NULL,
			tenant		TEXT	NOT NULL,
			created_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_risk_scores PRIMARY KEY (time, patient_id)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			alert_id		VARCHAR(255),
			patient_id		VARCHAR(255) NOT NULL,
			severity		TEXT	NOT NULL,
			condition		TEXT	NOT NULL,
			title			TEXT	NOT NULL,
			message			TEXT	NOT NULL,
			action_steps	JSONB	NOT NULL,
			state			TEXT	NOT NULL,
			acknowledged_by	TEXT	NULL,
			acknowledged_at	timestamp with time zone NULL,
			escalated_at	timestamp with time zone NULL,
			resolved_at		timestamp with time zone NULL,
			tenant			VARCHAR(255) NOT NULL,
			created_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_alerts_unique PRIMARY KEY (alert_id)
		);

		CREATE TABLE IF NOT EXISTS notification_attempts (
			time		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			alert_id	VARCHAR(255) NOT NULL,
			recipient	TEXT	NOT NULL,
			channel		TEXT	NOT NULL,
			outcome		TEXT	NOT NULL,
			error		TEXT	NOT NULL DEFAULT '',
			tenant		TEXT	NOT NULL
		);

		CREATE INDEX IF NOT EXISTS alerts_patient_state_idx ON alerts (patient_id, state);
		CREATE INDEX IF NOT EXISTS alerts_tenant_state_idx ON alerts (tenant, state);
		CREATE INDEX IF NOT EXISTS risk_scores_patient_time_idx ON risk_scores (patient_id, time DESC);
		CREATE INDEX IF NOT EXISTS patients_tenant_idx ON patients (tenant) WHERE NOT deleted;
		CREATE INDEX IF NOT EXISTS notification_attempts_alert_idx ON notification_attempts (alert_id);
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}
