package notifications

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	test "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

func TestChannelSenderDeliversCloudEvent(t *testing.T) {
	is := is.New(t)

	gateway := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestMethod(http.MethodPost),
			expects.RequestBodyContaining(`"alertID":"alert-01"`, `"to":"token-anna"`),
		),
		test.Returns(
			response.Code(http.StatusOK),
		),
	)
	defer gateway.Close()

	s := NewChannelSender(types.ChannelPush, gateway.URL())

	err := s.Send(context.Background(),
		types.Contact{Name: "Anna", PushToken: "token-anna"},
		types.Alert{ID: "alert-01", PatientID: "patient-01", Severity: types.SeverityCritical, Title: "Sustained low oxygen saturation", Message: "Oxygen saturation at 84%"},
	)
	is.NoErr(err)
}

func TestChannelSenderReportsGatewayFailure(t *testing.T) {
	is := is.New(t)

	gateway := test.NewMockServiceThat(
		test.Expects(is),
		test.Returns(
			response.Code(http.StatusInternalServerError),
		),
	)
	defer gateway.Close()

	s := NewChannelSender(types.ChannelSMS, gateway.URL())

	err := s.Send(context.Background(),
		types.Contact{Phone: "+46700000001"},
		types.Alert{ID: "alert-01"},
	)
	is.True(err != nil)
}

func TestChannelSenderRequiresAnAddress(t *testing.T) {
	is := is.New(t)

	s := NewChannelSender(types.ChannelEmail, "http://email-gw.local")

	err := s.Send(context.Background(), types.Contact{Phone: "+46700000001"}, types.Alert{ID: "alert-01"})
	is.True(err != nil)
}

func TestCanReachMatchesChannelAddress(t *testing.T) {
	is := is.New(t)

	contact := types.Contact{PushToken: "token", Email: "a@example.com"}

	is.True(NewChannelSender(types.ChannelPush, "x").CanReach(contact))
	is.True(NewChannelSender(types.ChannelEmail, "x").CanReach(contact))
	is.True(!NewChannelSender(types.ChannelSMS, "x").CanReach(contact))
}

func TestSendersFromConfigFollowFallbackOrder(t *testing.T) {
	is := is.New(t)

	cfg := &Config{
		Channels: []ChannelConfig{
			{Channel: types.ChannelEmail, Endpoint: "http://email-gw:8080"},
			{Channel: types.ChannelPush, Endpoint: "http://push-gw:8080"},
		},
	}

	senders := NewSendersFromConfig(cfg)

	is.Equal(2, len(senders))
	is.Equal(types.ChannelPush, senders[0].Channel())
	is.Equal(types.ChannelEmail, senders[1].Channel())
}

func TestLoadConfiguration(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(bytes.NewBufferString(`
channels:
  - channel: push
    endpoint: http://push-gw:8080
  - channel: sms
    endpoint: http://sms-gw:8080
maxAttempts: 5
backoffMillis: 100
digestHour: 6
`))
	is.NoErr(err)
	is.Equal(2, len(cfg.Channels))
	is.Equal(5, cfg.MaxAttempts)
	is.Equal(100, cfg.BackoffMillis)
	is.Equal(6, cfg.DigestHour)
}

func TestLoadConfigurationAppliesDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(bytes.NewBufferString(""))
	is.NoErr(err)
	is.Equal(DefaultMaxAttempts, cfg.MaxAttempts)
	is.Equal(DefaultBackoffMillis, cfg.BackoffMillis)
	is.Equal(DefaultDigestHour, cfg.DigestHour)
}
