package notifications

import (
	"context"
	"encoding/json"

	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

var tracer = otel.Tracer("patient-monitoring/notifications")

type alertEvent struct {
	Alert  types.Alert `json:"alert"`
	Tenant string      `json:"tenant"`
}

func NewAlertCreatedHandler(messenger messaging.MsgContext, d *Dispatcher) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "dispatch-notifications")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		evt := alertEvent{}

		err = json.Unmarshal(itm.Body(), &evt)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		patient, err := d.patients.GetPatient(ctx, evt.Alert.PatientID, []string{evt.Tenant})
		if err != nil {
			log.Error("could not fetch patient", "patient_id", evt.Alert.PatientID, "err", err.Error())
			return
		}

		attempts := d.Dispatch(ctx, evt.Alert, patient)
		log.Debug("dispatched notifications", "alert_id", evt.Alert.ID, "attempts", len(attempts))
	}
}

func NewAlertEscalatedHandler(messenger messaging.MsgContext, d *Dispatcher) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "dispatch-escalation")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		evt := alertEvent{}

		err = json.Unmarshal(itm.Body(), &evt)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		patient, err := d.patients.GetPatient(ctx, evt.Alert.PatientID, []string{evt.Tenant})
		if err != nil {
			log.Error("could not fetch patient", "patient_id", evt.Alert.PatientID, "err", err.Error())
			return
		}

		d.DispatchEscalation(ctx, evt.Alert, patient)
	}
}
