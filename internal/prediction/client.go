package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"cultivation-platform/internal/config"
	"cultivation-platform/internal/models"
	"cultivation-platform/pkg/logging"
	"cultivation-platform/pkg/metrics"
)

// ErrPredictionUnavailable reports that the service failed transport or
// returned a non-ok body across all retry attempts.
var ErrPredictionUnavailable = errors.New("prediction service unavailable")

// ErrMalformedResponse reports an ok response with no usable prediction payload.
var ErrMalformedResponse = errors.New("malformed prediction response")

// defaultModelID is reported when the response carries no model path hint.
const defaultModelID = "current"

// Result is one prediction extracted from the service response.
type Result struct {
	PredDays  float64
	PredYield float64
	ModelID   string
}

// Client submits feature vectors to the external prediction service with
// bounded retries and exponential backoff.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	policy     Policy
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClient creates a prediction service client
func NewClient(cfg config.PredictionConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}

	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		policy: Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase,
			Factor:      2,
		},
		logger:  logger,
		metrics: metricsCollector,
	}
}

type requestPayload struct {
	Data []requestItem `json:"data"`
}

type requestItem struct {
	Features *models.FeatureVector `json:"features"`
}

type responsePayload struct {
	OK            bool                 `json:"ok"`
	Predictions   []predictionPayload  `json:"predictions"`
	ModelPathDays string               `json:"model_path_days"`
}

type predictionPayload struct {
	Days  float64 `json:"days"`
	Yield float64 `json:"yield"`
}

// Predict submits the vector as a single-item batch and returns the first
// prediction entry. A response counts as accepted only when transport
// succeeds and the body's ok flag is true; anything else is retried until
// attempts run out, then reported as ErrPredictionUnavailable.
func (c *Client) Predict(ctx context.Context, vector *models.FeatureVector) (*Result, error) {
	body, err := json.Marshal(requestPayload{Data: []requestItem{{Features: vector}}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	start := time.Now()

	var decoded responsePayload
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.metrics.PredictionRetriesTotal.Inc()
		}
		return c.call(ctx, attempt, body, &decoded)
	})
	if err != nil {
		c.logger.Error(ctx, "[PREDICT_EXHAUSTED] Prediction attempts exhausted", logging.Fields{
			"url":          c.url,
			"max_attempts": c.policy.MaxAttempts,
		}, err)
		return nil, fmt.Errorf("%w: %v", ErrPredictionUnavailable, err)
	}

	c.metrics.PredictionLatency.Observe(time.Since(start).Seconds())

	if len(decoded.Predictions) == 0 {
		c.metrics.RecordPredictionAttempt("malformed")
		return nil, fmt.Errorf("%w: ok response with no predictions", ErrMalformedResponse)
	}

	result := &Result{
		PredDays:  decoded.Predictions[0].Days,
		PredYield: decoded.Predictions[0].Yield,
		ModelID:   modelIDFromPath(decoded.ModelPathDays),
	}

	c.logger.Info(ctx, "[PREDICT_OK] Prediction received", logging.Fields{
		"model_id":   result.ModelID,
		"pred_days":  result.PredDays,
		"pred_yield": result.PredYield,
	})

	return result, nil
}

// call performs one POST attempt and decodes the body into out.
func (c *Client) call(ctx context.Context, attempt int, body []byte, out *responsePayload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordPredictionAttempt("transport_error")
		c.logger.Warn(ctx, "[PREDICT_ATTEMPT_FAILED] Prediction request failed", logging.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})
		return fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	*out = responsePayload{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.RecordPredictionAttempt("transport_error")
		return fmt.Errorf("failed to decode prediction response: %w", err)
	}

	if !out.OK {
		c.metrics.RecordPredictionAttempt("not_ok")
		c.logger.Warn(ctx, "[PREDICT_ATTEMPT_NOT_OK] Prediction response not ok", logging.Fields{
			"attempt":     attempt,
			"status_code": resp.StatusCode,
		})
		return fmt.Errorf("prediction response not ok (status %d)", resp.StatusCode)
	}

	c.metrics.RecordPredictionAttempt("ok")
	return nil
}

// modelIDFromPath derives the model identifier from the response path hint:
// the base name of its parent directory.
func modelIDFromPath(modelPath string) string {
	if modelPath == "" {
		return defaultModelID
	}
	id := path.Base(path.Dir(modelPath))
	if id == "." || id == "/" {
		return defaultModelID
	}
	return id
}
