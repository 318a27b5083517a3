package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"golang.org/x/sys/unix"

	"github.com/vardwise/patient-monitoring/pkg/types"
)

//go:generate moq -rm -out sender_mock.go . Sender
type Sender interface {
	Channel() string
	CanReach(contact types.Contact) bool
	Send(ctx context.Context, contact types.Contact, alert types.Alert) error
}

// NewSendersFromConfig builds one gateway sender per configured channel, in
// push, sms, email order so the slice doubles as the fallback order.
func NewSendersFromConfig(cfg *Config) []Sender {
	endpoints := map[string]string{}
	for _, c := range cfg.Channels {
		endpoints[c.Channel] = c.Endpoint
	}

	senders := make([]Sender, 0, 3)

	for _, channel := range []string{types.ChannelPush, types.ChannelSMS, types.ChannelEmail} {
		if endpoint, ok := endpoints[channel]; ok && endpoint != "" {
			senders = append(senders, NewChannelSender(channel, endpoint))
		}
	}

	return senders
}

type channelSender struct {
	channel  string
	endpoint string
}

func NewChannelSender(channel, endpoint string) Sender {
	return &channelSender{
		channel:  channel,
		endpoint: endpoint,
	}
}

func (s *channelSender) Channel() string {
	return s.channel
}

func (s *channelSender) CanReach(contact types.Contact) bool {
	return address(s.channel, contact) != ""
}

func (s *channelSender) Send(ctx context.Context, contact types.Contact, alert types.Alert) error {
	to := address(s.channel, contact)
	if to == "" {
		return fmt.Errorf("contact has no %s address", s.channel)
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return err
	}

	event := cloudevents.NewEvent()
	event.SetID(fmt.Sprintf("%s:%s:%d", alert.ID, s.channel, time.Now().UnixNano()))
	event.SetTime(time.Now().UTC())
	event.SetSource("github.com/vardwise/patient-monitoring")
	event.SetType("se.vardwise.notification." + s.channel)

	eventData := struct {
		To          string   `json:"to"`
		Name        string   `json:"name,omitempty"`
		AlertID     string   `json:"alertID"`
		PatientID   string   `json:"patientID"`
		Severity    string   `json:"severity"`
		Title       string   `json:"title"`
		Message     string   `json:"message"`
		ActionSteps []string `json:"actionSteps,omitempty"`
	}{
		To:          to,
		Name:        contact.Name,
		AlertID:     alert.ID,
		PatientID:   alert.PatientID,
		Severity:    alert.Severity,
		Title:       alert.Title,
		Message:     alert.Message,
		ActionSteps: alert.ActionSteps,
	}

	err = event.SetData(cloudevents.ApplicationJSON, eventData)
	if err != nil {
		return err
	}

	result := c.Send(cloudevents.ContextWithTarget(ctx, s.endpoint), event)
	if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
		return fmt.Errorf("failed to deliver %s notification: %w", s.channel, result)
	}

	return nil
}

func address(channel string, contact types.Contact) string {
	switch channel {
	case types.ChannelPush:
		return contact.PushToken
	case types.ChannelSMS:
		return contact.Phone
	case types.ChannelEmail:
		return contact.Email
	}

	return ""
}
