package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

type patientNotObserved struct {
	PatientID  string    `json:"patientID"`
	Tenant     string    `json:"tenant"`
	ObservedAt time.Time `json:"observedAt"`
}

var tracer = otel.Tracer("patient-monitoring/alerting")

func NewPatientNotObservedHandler(messenger messaging.MsgContext, svc AlertService) messaging.TopicMessageHandler {
	return func(ctx context.Context, itm messaging.IncomingTopicMessage, l *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, "patient-not-observed")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, l, ctx)

		msg := patientNotObserved{}

		err = json.Unmarshal(itm.Body(), &msg)
		if err != nil {
			log.Error("failed to unmarshal message", "err", err.Error())
			return
		}

		// a still open alert for the same condition means the team already knows
		existing, err := svc.Query(ctx, map[string][]string{
			"patient_id": {msg.PatientID},
			"condition":  {ConditionNoDataReceived},
			"state":      {types.AlertOpen, types.AlertAcknowledged, types.AlertEscalated},
		}, []string{msg.Tenant})
		if err != nil {
			log.Error("could not fetch alerts", "err", err.Error())
			return
		}

		if existing.Count > 0 {
			return
		}

		message := "no observations have been received from this patient"
		if !msg.ObservedAt.IsZero() {
			message = fmt.Sprintf("no observations received since %s", msg.ObservedAt.Format(time.RFC3339))
		}

		d, _ := Describe(ConditionNoDataReceived)

		_, err = svc.Open(ctx, types.Alert{
			PatientID:   msg.PatientID,
			Tenant:      msg.Tenant,
			Severity:    d.Severity,
			Condition:   ConditionNoDataReceived,
			Title:       d.Title,
			Message:     message,
			ActionSteps: d.ActionSteps,
		})
		if err != nil {
			log.Error("could not create alert", "err", err.Error())
			return
		}
	}
}
