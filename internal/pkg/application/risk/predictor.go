package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vardwise/patient-monitoring/pkg/types"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrPredictionUnavailable = errors.New("prediction unavailable")

//go:generate moq -rm -out predictor_mock.go . Predictor
type Predictor interface {
	Predict(ctx context.Context, patientID string, components types.RiskComponents) (Prediction, error)
}

type Prediction struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

type predictorClient struct {
	url     string
	timeout time.Duration
	client  http.Client
}

func NewPredictorClient(url string, timeout time.Duration) Predictor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &predictorClient{
		url:     url,
		timeout: timeout,
		client: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *predictorClient) Predict(ctx context.Context, patientID string, components types.RiskComponents) (Prediction, error) {
	var err error
	ctx, span := tracer.Start(ctx, "predict-exacerbation-risk")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(struct {
		PatientID  string               `json:"patientID"`
		Components types.RiskComponents `json:"components"`
	}{
		PatientID:  patientID,
		Components: components,
	})
	if err != nil {
		return Prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/predict", bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("failed to create http request: %w", err)
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrPredictionUnavailable, err.Error())
		return Prediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: model service returned %d", ErrPredictionUnavailable, resp.StatusCode)
		return Prediction{}, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %w", err)
		return Prediction{}, err
	}

	var p Prediction
	err = json.Unmarshal(respBody, &p)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body: %w", err)
		return Prediction{}, err
	}

	if p.Probability < 0 || p.Probability > 1 || p.Confidence < 0 || p.Confidence > 1 {
		err = fmt.Errorf("%w: prediction outside the unit interval", ErrPredictionUnavailable)
		return Prediction{}, err
	}

	return p, nil
}
