package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/alerting"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/anomaly"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/baseline"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/monitoring"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/notifications"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/risk"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/watchdog"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/webevents"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/router"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/internal/pkg/presentation/api"
	"gopkg.in/yaml.v2"
)

const serviceName string = "patient-monitoring"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	controlPort
	enableTracing

	policiesFile
	configurationFile
	patientsFile

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode

	allowedSeedTenants
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",
		controlPort:   "8000",
		enableTracing: "true",

		policiesFile:      "/opt/vardwise/config/authz.rego",
		configurationFile: "/opt/vardwise/config/config.yaml",
		patientsFile:      "/opt/vardwise/config/patients.csv",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "vardwise",
		dbSSLMode:  "disable",

		allowedSeedTenants: "default",
	}
}

func main() {
	ctx, flags := parseExternalConfig(context.Background(), defaultFlags())

	serviceVersion := buildinfo.SourceVersion()
	ctx, logger, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	cfg, err := os.Open(flags[configurationFile])
	exitIf(err, logger, "could not open configuration file")

	appCfg, err := parseExternalConfigFile(ctx, cfg)
	exitIf(err, logger, "could not create monitoring configuration")

	policies, err := os.Open(flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")

	patients, err := os.Open(flags[patientsFile])
	exitIf(err, logger, "could not open patients file")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initialize(ctx, flags, appCfg, policies, patients)
	exitIf(err, logger, "failed to initialize application")

	err = app.run(ctx, flags)
	exitIf(err, logger, "service terminated with an error")

	logger.Info("shutdown complete")
}

type app struct {
	storage    *storage.Storage
	messenger  messaging.MsgContext
	webevents  webevents.WebEvents
	baselines  baseline.BaselineService
	monitor    monitoring.Service
	dispatcher *notifications.Dispatcher
	escalator  *alerting.Escalator
	watchdog   *watchdog.Watchdog
	router     *chi.Mux
}

func initialize(ctx context.Context, flags flagMap, cfg *appConfig, policies, patients io.ReadCloser) (*app, error) {
	defer policies.Close()

	log := logging.GetFromContext(ctx)

	s, err := newStorage(ctx, flags)
	if err != nil {
		return nil, fmt.Errorf("could not create or connect to database: %w", err)
	}

	err = s.CreateTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create database tables: %w", err)
	}

	err = monitoring.SeedPatients(ctx, s, patients, strings.Split(flags[allowedSeedTenants], ","))
	if err != nil {
		return nil, fmt.Errorf("could not seed patients: %w", err)
	}

	messenger, err := messaging.Initialize(ctx, messaging.LoadConfiguration(ctx, serviceName, log))
	if err != nil {
		return nil, fmt.Errorf("failed to init messenger: %w", err)
	}

	we := webevents.New()

	suppressor := alerting.NewSuppressor(
		time.Duration(cfg.Suppression.WindowMinutes)*time.Minute,
		cfg.Suppression.StormThreshold,
	)
	alertSvc := alerting.New(s, messenger, suppressor)

	baselines := baseline.New(s, messenger,
		baseline.WithCalibrationWindow(time.Duration(cfg.Baseline.CalibrationDays)*24*time.Hour),
		baseline.WithReestimationSchedule(cfg.Baseline.ReestimationSchedule),
	)

	engineOpts := []risk.OptionFunc{risk.WithAnomalyThreshold(cfg.Anomaly.Threshold)}
	if cfg.Risk.PredictorURL != "" {
		timeout := time.Duration(cfg.Risk.PredictorTimeoutMillis) * time.Millisecond
		engineOpts = append(engineOpts, risk.WithPredictor(risk.NewPredictorClient(cfg.Risk.PredictorURL, timeout)))
	}

	monitor := monitoring.New(s, baselines,
		anomaly.New(cfg.Anomaly.Threshold),
		risk.New(engineOpts...),
		alertSvc,
		alerting.NewEvaluator(cfg.AlertRules),
		messenger, we,
		monitoring.WithWorkerCount(cfg.Monitoring.Workers),
	)

	dispatcher := notifications.New(
		notifications.NewSendersFromConfig(&cfg.Notifications),
		s, s, messenger, we, &cfg.Notifications,
	)

	escalator := alerting.NewEscalator(alertSvc, s,
		alerting.WithEscalationTimeout(time.Duration(cfg.Escalation.TimeoutMinutes)*time.Minute),
		alerting.WithSweepInterval(time.Duration(cfg.Escalation.SweepIntervalSeconds)*time.Second),
	)

	dog := watchdog.New(s, messenger,
		watchdog.WithStalenessLimit(time.Duration(cfg.Watchdog.StalenessHours)*time.Hour),
		watchdog.WithSweepInterval(time.Duration(cfg.Watchdog.SweepIntervalMinutes)*time.Minute),
	)

	r := router.New(serviceName, router.WithTracing(flags[enableTracing] == "true"))
	_, err = api.RegisterHandlers(ctx, r, policies, alertSvc, baselines, s, we)
	if err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	return &app{
		storage:    s,
		messenger:  messenger,
		webevents:  we,
		baselines:  baselines,
		monitor:    monitor,
		dispatcher: dispatcher,
		escalator:  escalator,
		watchdog:   dog,
		router:     r,
	}, nil
}

func (a *app) run(ctx context.Context, flags flagMap) error {
	log := logging.GetFromContext(ctx)

	err := a.baselines.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore baseline estimates: %w", err)
	}

	a.messenger.Start()

	err = a.monitor.RegisterTopicMessageHandlers(ctx)
	if err != nil {
		return fmt.Errorf("failed to register topic message handlers: %w", err)
	}

	err = a.monitor.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}

	err = a.baselines.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start baseline reestimation: %w", err)
	}

	err = a.dispatcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start notification dispatch: %w", err)
	}

	a.escalator.Start(ctx)
	a.watchdog.Start(ctx)

	control := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", flags[listenAddress], flags[controlPort]),
		Handler: newControlMux(),
	}
	public := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", flags[listenAddress], flags[servicePort]),
		Handler: a.router,
	}

	errs := make(chan error, 2)

	go func() {
		if err := control.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() {
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	log.Info("starting to listen for incoming connections", "port", flags[servicePort])

	select {
	case err = <-errs:
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e := public.Shutdown(shutdownCtx); e != nil {
		log.Error("failed to shut down public listener", "err", e.Error())
	}
	if e := control.Shutdown(shutdownCtx); e != nil {
		log.Error("failed to shut down control listener", "err", e.Error())
	}

	a.shutdown(shutdownCtx, log)

	return err
}

// shutdown stops the periodic workers before the brokers they publish to.
func (a *app) shutdown(ctx context.Context, log *slog.Logger) {
	a.watchdog.Stop()
	a.escalator.Stop(ctx)
	a.dispatcher.Stop(ctx)

	if err := a.monitor.Stop(ctx); err != nil {
		log.Error("failed to stop monitoring", "err", err.Error())
	}
	if err := a.baselines.Stop(ctx); err != nil {
		log.Error("failed to stop baseline reestimation", "err", err.Error())
	}

	a.webevents.Shutdown()
	a.messenger.Close()
	a.storage.Close()
}

func newControlMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func newStorage(ctx context.Context, flags flagMap) (*storage.Storage, error) {
	return storage.New(ctx, storage.NewConfig(
		flags[dbHost], flags[dbUser], flags[dbPassword], flags[dbPort], flags[dbName], flags[dbSSLMode],
	))
}

type appConfig struct {
	Baseline      baselineConfig       `yaml:"baseline"`
	Anomaly       anomalyConfig        `yaml:"anomaly"`
	Risk          riskConfig           `yaml:"risk"`
	Monitoring    monitoringConfig     `yaml:"monitoring"`
	Suppression   suppressionConfig    `yaml:"suppression"`
	Escalation    escalationConfig     `yaml:"escalation"`
	Watchdog      watchdogConfig       `yaml:"watchdog"`
	AlertRules    alerting.Config      `yaml:"alertRules"`
	Notifications notifications.Config `yaml:"notifications"`
}

type baselineConfig struct {
	CalibrationDays      int    `yaml:"calibrationDays"`
	ReestimationSchedule string `yaml:"reestimationSchedule"`
}

type anomalyConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type riskConfig struct {
	PredictorURL           string `yaml:"predictorUrl"`
	PredictorTimeoutMillis int    `yaml:"predictorTimeoutMillis"`
}

type monitoringConfig struct {
	Workers int `yaml:"workers"`
}

type suppressionConfig struct {
	WindowMinutes  int `yaml:"windowMinutes"`
	StormThreshold int `yaml:"stormThreshold"`
}

type escalationConfig struct {
	TimeoutMinutes       int `yaml:"timeoutMinutes"`
	SweepIntervalSeconds int `yaml:"sweepIntervalSeconds"`
}

type watchdogConfig struct {
	StalenessHours       int `yaml:"stalenessHours"`
	SweepIntervalMinutes int `yaml:"sweepIntervalMinutes"`
}

func parseExternalConfigFile(_ context.Context, cfgFile io.ReadCloser) (*appConfig, error) {
	defer cfgFile.Close()

	b, err := io.ReadAll(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg := &appConfig{
		AlertRules:    alerting.DefaultConfig(),
		Notifications: *notifications.DefaultConfig(),
	}
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Notifications.MaxAttempts <= 0 {
		cfg.Notifications.MaxAttempts = notifications.DefaultMaxAttempts
	}
	if cfg.Notifications.BackoffMillis <= 0 {
		cfg.Notifications.BackoffMillis = notifications.DefaultBackoffMillis
	}
	if cfg.Notifications.DigestHour < 0 || cfg.Notifications.DigestHour > 23 {
		cfg.Notifications.DigestHour = notifications.DefaultDigestHour
	}

	return cfg, nil
}

func parseExternalConfig(ctx context.Context, flags flagMap) (context.Context, flagMap) {
	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault

	flags[listenAddress] = envOrDef(ctx, "LISTEN_ADDRESS", flags[listenAddress])
	flags[controlPort] = envOrDef(ctx, "CONTROL_PORT", flags[controlPort])
	flags[servicePort] = envOrDef(ctx, "SERVICE_PORT", flags[servicePort])

	flags[policiesFile] = envOrDef(ctx, "POLICIES_FILE", flags[policiesFile])
	flags[allowedSeedTenants] = envOrDef(ctx, "ALLOWED_SEED_TENANTS", flags[allowedSeedTenants])

	flags[dbHost] = envOrDef(ctx, "POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef(ctx, "POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef(ctx, "POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef(ctx, "POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef(ctx, "POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef(ctx, "POSTGRES_SSLMODE", flags[dbSSLMode])
	flags[enableTracing] = envOrDef(ctx, "ENABLE_TRACING", flags[enableTracing])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("patients", "list of monitored patients", apply(patientsFile))
	flag.Func("config", "monitoring configuration file", apply(configurationFile))
	flag.Parse()

	return ctx, flags
}

func exitIf(err error, logger *slog.Logger, msg string, args ...any) {
	if err != nil {
		logger.With(args...).Error(msg, "err", err.Error())
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
