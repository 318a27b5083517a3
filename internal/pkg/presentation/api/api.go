package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/vardwise/patient-monitoring/internal/pkg/application/alerting"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/baseline"
	"github.com/vardwise/patient-monitoring/internal/pkg/application/webevents"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/storage"
	"github.com/vardwise/patient-monitoring/internal/pkg/presentation/api/auth"
	"github.com/vardwise/patient-monitoring/pkg/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("patient-monitoring/api")

var (
	scopeRead    = auth.Scope("read")
	scopeRespond = auth.Scope("respond")
)

//go:generate moq -rm -out riskstore_mock.go . RiskStore
type RiskStore interface {
	GetLatestRiskScore(ctx context.Context, patientID string, tenants []string) (types.RiskScore, error)
}

func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, alertSvc alerting.AlertService, baselineSvc baseline.BaselineService, riskStore RiskStore, we webevents.WebEvents) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log := logging.GetFromContext(ctx)

	// Handle valid / invalid tokens.
	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return nil, fmt.Errorf("failed to create api authenticator: %w", err)
	}

	router.Route("/api/v0", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireAccess(scopeRead))

			r.Route("/patients/{patientID}", func(r chi.Router) {
				r.Get("/risk", getLatestRiskHandler(log, riskStore))
				r.Get("/baselines", getBaselinesHandler(log, baselineSvc))
				r.Get("/alerts", getPatientAlertsHandler(log, alertSvc))
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", queryAlertsHandler(log, alertSvc))
				r.Get("/{alertID}", getAlertDetailsHandler(log, alertSvc))
			})

			r.Mount("/events", we.Server())
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireAccess(scopeRespond))

			r.Post("/alerts/{alertID}/acknowledge", acknowledgeAlertHandler(log, alertSvc))
			r.Post("/alerts/{alertID}/resolve", resolveAlertHandler(log, alertSvc))
		})
	})

	return router, nil
}

func getLatestRiskHandler(log *slog.Logger, riskStore RiskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRead)

		ctx, span := tracer.Start(r.Context(), "get-latest-risk")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")
		if patientID != "" {
			requestLogger = requestLogger.With(slog.String("patient_id", patientID))
		}

		score, err := riskStore.GetLatestRiskScore(ctx, patientID, allowedTenants)
		if errors.Is(err, storage.ErrNoRows) {
			requestLogger.Debug("patient has no risk score yet")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error("could not fetch data", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(ApiResponse{Data: score})
		if err != nil {
			requestLogger.Error("unable to marshal risk score", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func getBaselinesHandler(log *slog.Logger, svc baseline.BaselineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRead)

		ctx, span := tracer.Start(r.Context(), "get-baselines")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")
		if patientID != "" {
			requestLogger = requestLogger.With(slog.String("patient_id", patientID))
		}

		baselines, err := svc.Baselines(ctx, patientID, allowedTenants)
		if err != nil {
			requestLogger.Error("unable to fetch baselines", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(ApiResponse{Data: baselines})
		if err != nil {
			requestLogger.Error("unable to marshal baselines", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func getPatientAlertsHandler(log *slog.Logger, svc alerting.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRead)

		ctx, span := tracer.Start(r.Context(), "get-patient-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")
		if patientID != "" {
			requestLogger = requestLogger.With(slog.String("patient_id", patientID))
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		collection, err := svc.GetByPatientID(ctx, patientID, offset, limit, allowedTenants)
		if err != nil {
			requestLogger.Error("unable to fetch alerts", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(newCollectionResponse(collection, r.URL))
		if err != nil {
			requestLogger.Error("unable to marshal alerts", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func queryAlertsHandler(log *slog.Logger, svc alerting.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRead)

		ctx, span := tracer.Start(r.Context(), "query-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		collection, err := svc.Query(ctx, r.URL.Query(), allowedTenants)
		if err != nil {
			requestLogger.Error("unable to fetch alerts", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if strings.HasPrefix(r.Header.Get("Accept"), "text/csv") {
			w.Header().Add("Content-Type", "text/csv")
			w.WriteHeader(http.StatusOK)

			err = writeCsvWithAlerts(w, collection.Data)
			if err != nil {
				requestLogger.Error("failed to write csv response", "err", err.Error())
			}
			return
		}

		b, err := json.Marshal(newCollectionResponse(collection, r.URL))
		if err != nil {
			requestLogger.Error("unable to marshal alerts", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func getAlertDetailsHandler(log *slog.Logger, svc alerting.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRead)

		ctx, span := tracer.Start(r.Context(), "get-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")
		if alertID != "" {
			requestLogger = requestLogger.With(slog.String("alert_id", alertID))
		}

		alert, err := svc.GetByID(ctx, alertID, allowedTenants)
		if errors.Is(err, alerting.ErrAlertNotFound) {
			requestLogger.Debug("alert not found")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error("could not fetch data", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		b, err := json.Marshal(ApiResponse{Data: alert})
		if err != nil {
			requestLogger.Error("unable to marshal alert", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

func acknowledgeAlertHandler(log *slog.Logger, svc alerting.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRespond)

		ctx, span := tracer.Start(r.Context(), "acknowledge-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")
		if alertID != "" {
			requestLogger = requestLogger.With(slog.String("alert_id", alertID))
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error("unable to read body", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var ack struct {
			By string `json:"by"`
		}
		err = json.Unmarshal(body, &ack)
		if err != nil {
			requestLogger.Error("unable to unmarshal body", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if ack.By == "" {
			err = errors.New("acknowledge request carries no acknowledger")
			requestLogger.Error("unable to acknowledge alert", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = svc.Acknowledge(ctx, alertID, ack.By, allowedTenants)
		if errors.Is(err, alerting.ErrAlertNotFound) {
			requestLogger.Debug("alert not found")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, alerting.ErrInvalidTransition) {
			requestLogger.Debug("acknowledge rejected", "err", err.Error())
			w.WriteHeader(http.StatusConflict)
			return
		}
		if err != nil {
			requestLogger.Error("unable to acknowledge alert", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
	}
}

func resolveAlertHandler(log *slog.Logger, svc alerting.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		allowedTenants := auth.GetTenantsWithAllowedScopes(r.Context(), scopeRespond)

		ctx, span := tracer.Start(r.Context(), "resolve-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")
		if alertID != "" {
			requestLogger = requestLogger.With(slog.String("alert_id", alertID))
		}

		err = svc.Resolve(ctx, alertID, allowedTenants)
		if errors.Is(err, alerting.ErrAlertNotFound) {
			requestLogger.Debug("alert not found")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, alerting.ErrInvalidTransition) {
			requestLogger.Debug("resolve rejected", "err", err.Error())
			w.WriteHeader(http.StatusConflict)
			return
		}
		if err != nil {
			requestLogger.Error("unable to resolve alert", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
	}
}
