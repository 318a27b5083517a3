package client

import (
	"context"
	"errors"
	"testing"

	test "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
)

func TestLatestRisk(t *testing.T) {
	is := is.New(t)

	mockedService := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/api/v0/patients/patient-01/risk"),
			expects.RequestMethod("GET"),
			expects.RequestHeaderContains("Authorization", "Bearer testtoken"),
		),
		test.Returns(
			response.ContentType("application/json"),
			response.Code(200),
			response.Body([]byte(`{"data":{"patientID":"patient-01","overall":72.5,"category":"high","source":"model","tenant":"vardcentralen"}}`)),
		),
	)

	mockOAuth := newMockOAuth(is)
	defer mockOAuth.Close()

	ctx := context.Background()

	client, err := New(ctx, mockedService.URL(), mockOAuth.URL()+"/token", "", "")
	is.NoErr(err)
	defer client.Close(ctx)

	score, err := client.LatestRisk(ctx, "patient-01")
	is.NoErr(err)
	is.Equal(72.5, score.Overall)
	is.Equal("high", score.Category)
}

func TestLatestRiskForUnscoredPatient(t *testing.T) {
	is := is.New(t)

	mockedService := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/api/v0/patients/patient-02/risk"),
		),
		test.Returns(
			response.Code(404),
		),
	)

	mockOAuth := newMockOAuth(is)
	defer mockOAuth.Close()

	ctx := context.Background()

	client, err := New(ctx, mockedService.URL(), mockOAuth.URL()+"/token", "", "")
	is.NoErr(err)
	defer client.Close(ctx)

	_, err = client.LatestRisk(ctx, "patient-02")
	is.True(errors.Is(err, ErrNotFound))
}

func TestOpenAlertsQueriesForUnresolvedStates(t *testing.T) {
	is := is.New(t)

	mockedService := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/api/v0/alerts"),
			expects.RequestMethod("GET"),
		),
		test.Returns(
			response.ContentType("application/json"),
			response.Code(200),
			response.Body([]byte(`{"meta":{"totalRecords":1,"count":1},"data":[{"id":"alert-01","patientID":"patient-01","state":"open"}]}`)),
		),
	)

	mockOAuth := newMockOAuth(is)
	defer mockOAuth.Close()

	ctx := context.Background()

	client, err := New(ctx, mockedService.URL(), mockOAuth.URL()+"/token", "", "")
	is.NoErr(err)
	defer client.Close(ctx)

	alerts, err := client.OpenAlerts(ctx, "patient-01")
	is.NoErr(err)
	is.Equal(1, len(alerts))
	is.Equal("alert-01", alerts[0].ID)
}

func TestAcknowledgeForwardsTheAcknowledger(t *testing.T) {
	is := is.New(t)

	mockedService := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/api/v0/alerts/alert-01/acknowledge"),
			expects.RequestMethod("POST"),
			expects.RequestHeaderContains("Content-Type", "application/json"),
			expects.RequestBodyContaining(`"by":"nurse-01"`),
		),
		test.Returns(
			response.Code(204),
		),
	)

	mockOAuth := newMockOAuth(is)
	defer mockOAuth.Close()

	ctx := context.Background()

	client, err := New(ctx, mockedService.URL(), mockOAuth.URL()+"/token", "", "")
	is.NoErr(err)
	defer client.Close(ctx)

	err = client.Acknowledge(ctx, "alert-01", "nurse-01")
	is.NoErr(err)
}

func TestResolvingAResolvedAlertConflicts(t *testing.T) {
	is := is.New(t)

	mockedService := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/api/v0/alerts/alert-01/resolve"),
			expects.RequestMethod("POST"),
		),
		test.Returns(
			response.Code(409),
		),
	)

	mockOAuth := newMockOAuth(is)
	defer mockOAuth.Close()

	ctx := context.Background()

	client, err := New(ctx, mockedService.URL(), mockOAuth.URL()+"/token", "", "")
	is.NoErr(err)
	defer client.Close(ctx)

	err = client.Resolve(ctx, "alert-01")
	is.True(errors.Is(err, ErrConflict))
}

func TestNewFailsWithoutClientCredentials(t *testing.T) {
	is := is.New(t)

	mockOAuth := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/token"),
		),
		test.Returns(
			response.Code(500),
		),
	)
	defer mockOAuth.Close()

	ctx := context.Background()

	_, err := New(ctx, "http://localhost", mockOAuth.URL()+"/token", "", "")
	is.True(err != nil)
}

func newMockOAuth(is *is.I) test.MockService {
	return test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/token"),
		),
		test.Returns(
			response.ContentType("application/json"),
			response.Code(200),
			response.Body([]byte(TokenResponse)),
		),
	)
}

const TokenResponse string = `{"access_token":"testtoken","expires_in":300,"refresh_expires_in":0,"token_type":"Bearer","not-before-policy":0,"scope":"email profile"}`
