package monitoring

import (
	"context"
	"encoding/json"

	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

var tracer = otel.Tracer("patient-monitoring/monitoring")

func NewVitalSampleHandler(svc Service) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "vital-sample")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		sample := types.VitalSample{}
		err = json.Unmarshal(itm.Body(), &sample)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		ctx = logging.NewContextWithLogger(ctx, log, slog.String("patient_id", sample.PatientID), slog.String("tenant", sample.Tenant))

		err = svc.HandleVitalSample(ctx, sample)
		if err != nil {
			log.Error("could not handle vital sample", "err", err.Error())
			return
		}
	}
}

func NewSymptomReportHandler(svc Service) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "symptom-report")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		report := types.SymptomReport{}
		err = json.Unmarshal(itm.Body(), &report)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		ctx = logging.NewContextWithLogger(ctx, log, slog.String("patient_id", report.PatientID), slog.String("tenant", report.Tenant))

		err = svc.HandleSymptomReport(ctx, report)
		if err != nil {
			log.Error("could not handle symptom report", "err", err.Error())
			return
		}
	}
}

func NewMedicationEventHandler(svc Service) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "medication-event")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		event := types.MedicationEvent{}
		err = json.Unmarshal(itm.Body(), &event)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		ctx = logging.NewContextWithLogger(ctx, log, slog.String("patient_id", event.PatientID), slog.String("tenant", event.Tenant))

		err = svc.HandleMedicationEvent(ctx, event)
		if err != nil {
			log.Error("could not handle medication event", "err", err.Error())
			return
		}
	}
}

func NewEnvironmentUpdatedHandler(svc Service) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "environment-updated")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		data := types.EnvironmentData{}
		err = json.Unmarshal(itm.Body(), &data)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		ctx = logging.NewContextWithLogger(ctx, log, slog.String("patient_id", data.PatientID), slog.String("tenant", data.Tenant))

		err = svc.HandleEnvironmentData(ctx, data)
		if err != nil {
			log.Error("could not handle environment data", "err", err.Error())
			return
		}
	}
}
