package notifications

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/robfig/cron/v3"

	"github.com/vardwise/patient-monitoring/internal/pkg/application/webevents"
	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/metrics"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

const maxBackoff = 5 * time.Second

//go:generate moq -rm -out attemptstore_mock.go . AttemptStore
type AttemptStore interface {
	AddNotificationAttempt(ctx context.Context, attempt types.NotificationAttempt) error
}

//go:generate moq -rm -out patientgetter_mock.go . PatientGetter
type PatientGetter interface {
	GetPatient(ctx context.Context, patientID string, tenants []string) (types.Patient, error)
}

type Dispatcher struct {
	senders     []Sender
	store       AttemptStore
	patients    PatientGetter
	messenger   messaging.MsgContext
	webevents   webevents.WebEvents
	digest      *digest
	cron        *cron.Cron
	maxAttempts int
	backoffBase time.Duration
	digestHour  int
}

func New(senders []Sender, store AttemptStore, patients PatientGetter, messenger messaging.MsgContext, we webevents.WebEvents, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	d := &Dispatcher{
		senders:     senders,
		store:       store,
		patients:    patients,
		messenger:   messenger,
		webevents:   we,
		digest:      newDigest(),
		cron:        cron.New(),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.backoffBase(),
		digestHour:  cfg.DigestHour,
	}

	d.messenger.RegisterTopicMessageHandler("alerts.alertCreated", NewAlertCreatedHandler(messenger, d))
	d.messenger.RegisterTopicMessageHandler("alerts.alertEscalated", NewAlertEscalatedHandler(messenger, d))

	return d
}

func (d *Dispatcher) Start(ctx context.Context) error {
	_, err := d.cron.AddFunc(fmt.Sprintf("0 %d * * *", d.digestHour), func() {
		count := d.FlushDigest(ctx)
		if count > 0 {
			logging.GetFromContext(ctx).Info("flushed caregiver digests", "count", count)
		}
	})
	if err != nil {
		return err
	}

	d.cron.Start()

	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) {
	<-d.cron.Stop().Done()
}

type recipient struct {
	label    string
	contact  types.Contact
	channels []string
}

// Dispatch fans an alert out to its recipients. Critical alerts reach the
// patient, every caregiver and the on-call provider. Warnings reach the
// patient directly while caregivers collect them in the daily digest. Info
// alerts stay with the patient.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert, patient types.Patient) []types.NotificationAttempt {
	log := logging.GetFromContext(ctx)

	if alert.Severity != types.SeverityInfo {
		err := d.webevents.PublishAlert(alert)
		if err != nil {
			log.Error("could not publish alert on the dashboard stream", "err", err.Error())
		} else {
			metrics.NotificationAttempts.WithLabelValues(types.ChannelDashboard, types.OutcomeSent).Inc()
		}
	}

	if alert.Severity == types.SeverityWarning {
		for _, c := range patient.CareTeam.Caregivers {
			d.digest.add(c, alert)
		}
	}

	attempts := make([]types.NotificationAttempt, 0)
	exhausted := false

	for _, r := range recipientsFor(alert, patient) {
		recipientAttempts, delivered := d.deliver(ctx, r, alert)
		attempts = append(attempts, recipientAttempts...)

		if !delivered {
			exhausted = true
		}
	}

	if exhausted && alert.Severity == types.SeverityCritical {
		attempts = append(attempts, d.escalationNotice(ctx, alert, patient)...)
	}

	return attempts
}

// DispatchEscalation re-notifies the escalation tier after an alert went
// unacknowledged past the timeout.
func (d *Dispatcher) DispatchEscalation(ctx context.Context, alert types.Alert, patient types.Patient) []types.NotificationAttempt {
	log := logging.GetFromContext(ctx)

	err := d.webevents.PublishAlert(alert)
	if err != nil {
		log.Error("could not publish alert on the dashboard stream", "err", err.Error())
	}

	notice := alert
	notice.Title = "Escalation: " + alert.Title

	attempts, _ := d.deliver(ctx, onCallRecipient(patient), notice)

	return attempts
}

func recipientsFor(alert types.Alert, patient types.Patient) []recipient {
	self := recipient{
		label:    labelOr(patient.Name, patient.PatientID),
		contact:  patient.Contact,
		channels: []string{types.ChannelPush},
	}

	if alert.Severity != types.SeverityCritical {
		return []recipient{self}
	}

	self.channels = []string{types.ChannelPush, types.ChannelSMS}
	recipients := []recipient{self}

	// optional tiers without any address are not configured, only the
	// patient entry itself reports exhaustion when unreachable
	for _, c := range patient.CareTeam.Caregivers {
		if !reachable(c) {
			continue
		}
		recipients = append(recipients, recipient{
			label:    labelOr(c.Name, "caregiver"),
			contact:  c,
			channels: []string{types.ChannelPush, types.ChannelSMS},
		})
	}

	if reachable(patient.CareTeam.OnCall) {
		recipients = append(recipients, onCallRecipient(patient))
	}

	return recipients
}

func reachable(c types.Contact) bool {
	return c.PushToken != "" || c.Phone != "" || c.Email != ""
}

func onCallRecipient(patient types.Patient) recipient {
	return recipient{
		label:    labelOr(patient.CareTeam.OnCall.Name, "on-call provider"),
		contact:  patient.CareTeam.OnCall,
		channels: []string{types.ChannelEmail},
	}
}

func labelOr(label, fallback string) string {
	if label != "" {
		return label
	}
	return fallback
}

// deliver walks the fallback chain for one recipient, records every channel
// outcome and queues a manual follow-up when the chain is exhausted.
func (d *Dispatcher) deliver(ctx context.Context, r recipient, alert types.Alert) ([]types.NotificationAttempt, bool) {
	log := logging.GetFromContext(ctx)

	attempts := make([]types.NotificationAttempt, 0, 1)
	tried := make([]string, 0, len(r.channels))

	for _, s := range d.senders {
		if !slices.Contains(r.channels, s.Channel()) || !s.CanReach(r.contact) {
			continue
		}

		tried = append(tried, s.Channel())

		err := d.sendWithRetry(ctx, s, r.contact, alert)

		attempt := types.NotificationAttempt{
			AlertID:     alert.ID,
			Recipient:   r.label,
			Channel:     s.Channel(),
			Outcome:     types.OutcomeSent,
			Tenant:      alert.Tenant,
			AttemptedAt: time.Now().UTC(),
		}
		if err != nil {
			attempt.Outcome = types.OutcomeFailed
			attempt.Error = err.Error()
		}

		d.record(ctx, attempt)
		attempts = append(attempts, attempt)

		if err == nil {
			return attempts, true
		}

		log.Warn("notification channel failed", "channel", s.Channel(), "recipient", r.label, "err", err.Error())
	}

	channel := "none"
	if len(tried) > 0 {
		channel = tried[len(tried)-1]
	}

	attempt := types.NotificationAttempt{
		AlertID:     alert.ID,
		Recipient:   r.label,
		Channel:     channel,
		Outcome:     types.OutcomeExhausted,
		Tenant:      alert.Tenant,
		AttemptedAt: time.Now().UTC(),
	}
	d.record(ctx, attempt)
	attempts = append(attempts, attempt)

	err := d.messenger.PublishOnTopic(ctx, &ManualFollowUp{
		AlertID:   alert.ID,
		PatientID: alert.PatientID,
		Recipient: r.label,
		Channels:  tried,
		Tenant:    alert.Tenant,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Error("could not queue manual follow-up", "recipient", r.label, "err", err.Error())
	}

	return attempts, false
}

// a critical alert that could not reach someone goes straight to the on-call
// provider instead of waiting for the escalation timer
func (d *Dispatcher) escalationNotice(ctx context.Context, alert types.Alert, patient types.Patient) []types.NotificationAttempt {
	notice := alert
	notice.Title = "Delivery failure: " + alert.Title
	notice.Message = fmt.Sprintf("A critical alert for %s could not be delivered to all recipients. %s", labelOr(patient.Name, patient.PatientID), alert.Message)

	attempts, _ := d.deliver(ctx, onCallRecipient(patient), notice)

	return attempts
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, contact types.Contact, alert types.Alert) error {
	var err error

	backoff := d.backoffBase

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
		}

		err = s.Send(ctx, contact, alert)
		if err == nil {
			return nil
		}
	}

	return err
}

func (d *Dispatcher) record(ctx context.Context, attempt types.NotificationAttempt) {
	metrics.NotificationAttempts.WithLabelValues(attempt.Channel, attempt.Outcome).Inc()

	err := d.store.AddNotificationAttempt(ctx, attempt)
	if err != nil {
		logging.GetFromContext(ctx).Error("could not store notification attempt", "alert_id", attempt.AlertID, "err", err.Error())
	}
}

// FlushDigest sends the accumulated caregiver digests and is invoked by the
// daily schedule, or directly.
func (d *Dispatcher) FlushDigest(ctx context.Context) int {
	log := logging.GetFromContext(ctx)

	sent := 0

	for _, e := range d.digest.drain() {
		summary := e.summary()

		delivered := false

		for _, channel := range []string{types.ChannelEmail, types.ChannelPush, types.ChannelSMS} {
			s := d.senderFor(channel)
			if s == nil || !s.CanReach(e.contact) {
				continue
			}

			err := d.sendWithRetry(ctx, s, e.contact, summary)
			if err != nil {
				metrics.NotificationAttempts.WithLabelValues(channel, types.OutcomeFailed).Inc()
				log.Warn("could not deliver digest", "channel", channel, "err", err.Error())
				continue
			}

			metrics.NotificationAttempts.WithLabelValues(channel, types.OutcomeSent).Inc()
			delivered = true
			sent++
			break
		}

		if !delivered {
			log.Warn("digest could not be delivered", "recipient", e.contact.Name)
		}
	}

	return sent
}

func (d *Dispatcher) senderFor(channel string) Sender {
	for _, s := range d.senders {
		if s.Channel() == channel {
			return s
		}
	}

	return nil
}
