package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var tracer = otel.Tracer("patient-monitoring-client")

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

//go:generate moq -rm -out client_mock.go . MonitoringClient
type MonitoringClient interface {
	LatestRisk(ctx context.Context, patientID string) (types.RiskScore, error)
	Baselines(ctx context.Context, patientID string) ([]types.Baseline, error)
	OpenAlerts(ctx context.Context, patientID string) ([]types.Alert, error)
	Acknowledge(ctx context.Context, alertID, by string) error
	Resolve(ctx context.Context, alertID string) error
	Close(ctx context.Context)
}

type monitoringClient struct {
	url               string
	clientCredentials *clientcredentials.Config
	httpClient        http.Client

	mu    sync.RWMutex
	token *oauth2.Token

	done chan struct{}
}

func New(ctx context.Context, monitoringURL, oauthTokenURL, oauthClientID, oauthClientSecret string) (MonitoringClient, error) {
	oauthConfig := &clientcredentials.Config{
		ClientID:     oauthClientID,
		ClientSecret: oauthClientSecret,
		TokenURL:     oauthTokenURL,
	}

	token, err := oauthConfig.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get client credentials from %s: %w", oauthConfig.TokenURL, err)
	}

	if !token.Valid() {
		return nil, fmt.Errorf("an invalid token was returned from %s", oauthTokenURL)
	}

	c := &monitoringClient{
		url:               monitoringURL,
		clientCredentials: oauthConfig,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		token: token,
		done:  make(chan struct{}),
	}

	go c.refreshTokenLoop(ctx)

	return c, nil
}

func (c *monitoringClient) Close(ctx context.Context) {
	close(c.done)
}

// refreshTokenLoop replaces the client credentials token halfway through
// its lifetime so requests never go out with an expired token.
func (c *monitoringClient) refreshTokenLoop(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	for {
		c.mu.RLock()
		expiry := c.token.Expiry
		c.mu.RUnlock()

		refreshIn := time.Until(expiry) / 2
		if refreshIn < 10*time.Second {
			refreshIn = 10 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(refreshIn):
			token, err := c.clientCredentials.Token(ctx)
			if err != nil {
				log.Error("failed to refresh client credentials", "err", err.Error())
				continue
			}

			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
		}
	}
}

func (c *monitoringClient) LatestRisk(ctx context.Context, patientID string) (types.RiskScore, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-latest-risk")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug("looking up latest risk score", "patient_id", patientID)

	resp, err := c.do(ctx, http.MethodGet, "/api/v0/patients/"+patientID+"/risk", nil)
	if err != nil {
		return types.RiskScore{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		err = fmt.Errorf("%w: patient %s has no risk score", ErrNotFound, patientID)
		return types.RiskScore{}, err
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("request failed with status code %d", resp.StatusCode)
		return types.RiskScore{}, err
	}

	var response struct {
		Data types.RiskScore `json:"data"`
	}

	err = decode(resp.Body, &response)
	if err != nil {
		return types.RiskScore{}, err
	}

	return response.Data, nil
}

func (c *monitoringClient) Baselines(ctx context.Context, patientID string) ([]types.Baseline, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-baselines")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug("looking up baselines", "patient_id", patientID)

	resp, err := c.do(ctx, http.MethodGet, "/api/v0/patients/"+patientID+"/baselines", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("request failed with status code %d", resp.StatusCode)
		return nil, err
	}

	var response struct {
		Data []types.Baseline `json:"data"`
	}

	err = decode(resp.Body, &response)
	if err != nil {
		return nil, err
	}

	return response.Data, nil
}

func (c *monitoringClient) OpenAlerts(ctx context.Context, patientID string) ([]types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-open-alerts")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug("looking up open alerts", "patient_id", patientID)

	query := url.Values{
		"patient_id": []string{patientID},
		"state":      []string{"open", "acknowledged", "escalated"},
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v0/alerts?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("request failed with status code %d", resp.StatusCode)
		return nil, err
	}

	var response struct {
		Data []types.Alert `json:"data"`
	}

	err = decode(resp.Body, &response)
	if err != nil {
		return nil, err
	}

	return response.Data, nil
}

func (c *monitoringClient) Acknowledge(ctx context.Context, alertID, by string) error {
	var err error
	ctx, span := tracer.Start(ctx, "acknowledge-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(struct {
		By string `json:"by"`
	}{By: by})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v0/alerts/"+alertID+"/acknowledge", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return statusError(resp.StatusCode, alertID)
}

func (c *monitoringClient) Resolve(ctx context.Context, alertID string) error {
	var err error
	ctx, span := tracer.Start(ctx, "resolve-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, err := c.do(ctx, http.MethodPost, "/api/v0/alerts/"+alertID+"/resolve", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return statusError(resp.StatusCode, alertID)
}

func (c *monitoringClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

func statusError(statusCode int, alertID string) error {
	switch statusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	case http.StatusConflict:
		return fmt.Errorf("%w: alert %s is not in a state that permits the transition", ErrConflict, alertID)
	default:
		return fmt.Errorf("request failed with status code %d", statusCode)
	}
}

func decode(r io.Reader, result any) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	err = json.Unmarshal(b, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
