package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackingService records scalar time series and image artifacts for a run
// and forwards them to a sidecar dashboard over HTTP. Metrics are always
// kept in memory; the HTTP side is optional and failures there never stop
// a training run.
type TrackingService struct {
	baseURL    string
	httpClient *http.Client
	config     TrackingConfig
	enabled    bool
	runID      string

	mu      sync.Mutex
	scalars map[string][]ScalarPoint
}

// TrackingConfig contains configuration for the tracking service
type TrackingConfig struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// DefaultTrackingConfig returns default configuration for the tracking service
func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// ScalarPoint is one recorded value of a named metric.
type ScalarPoint struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// scalarPayload is the wire format for scalar posts.
type scalarPayload struct {
	RunID string  `json:"run_id"`
	Name  string  `json:"name"`
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// imagePayload is the wire format for image artifact posts.
type imagePayload struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Step   int    `json:"step"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// trackingResponse represents the response from the tracking sidecar
type trackingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewTrackingService creates a tracking service client with a fresh run ID.
func NewTrackingService(config TrackingConfig) *TrackingService {
	return &TrackingService{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config:  config,
		scalars: make(map[string][]ScalarPoint),
		runID:   uuid.New().String(),
	}
}

// Enable enables forwarding to the sidecar.
func (ts *TrackingService) Enable() {
	ts.enabled = true
}

// Disable disables forwarding to the sidecar.
func (ts *TrackingService) Disable() {
	ts.enabled = false
}

// IsEnabled returns whether sidecar forwarding is enabled.
func (ts *TrackingService) IsEnabled() bool {
	return ts.enabled
}

// RunID returns the unique identifier of this run.
func (ts *TrackingService) RunID() string {
	return ts.runID
}

// AddScalar records one value of a named time series, such as "train_loss"
// at a global iteration index.
func (ts *TrackingService) AddScalar(name string, step int, value float64) error {
	ts.mu.Lock()
	ts.scalars[name] = append(ts.scalars[name], ScalarPoint{Step: step, Value: value})
	ts.mu.Unlock()

	if !ts.enabled {
		return nil
	}
	return ts.postWithRetry("/api/scalar", scalarPayload{
		RunID: ts.runID,
		Name:  name,
		Step:  step,
		Value: value,
	})
}

// AddImage records an encoded image artifact, such as a flow visualization.
func (ts *TrackingService) AddImage(name string, step int, format string, data []byte) error {
	if !ts.enabled {
		return nil
	}
	return ts.postWithRetry("/api/image", imagePayload{
		RunID:  ts.runID,
		Name:   name,
		Step:   step,
		Format: format,
		Data:   data,
	})
}

// History returns the recorded points of a metric, in insertion order.
func (ts *TrackingService) History(name string) []ScalarPoint {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	points := make([]ScalarPoint, len(ts.scalars[name]))
	copy(points, ts.scalars[name])
	return points
}

func (ts *TrackingService) postWithRetry(endpoint string, payload interface{}) error {
	var lastErr error
	for attempt := 0; attempt < ts.config.RetryAttempts; attempt++ {
		if err := ts.post(endpoint, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < ts.config.RetryAttempts-1 {
			time.Sleep(ts.config.RetryDelay)
		}
	}
	return fmt.Errorf("failed to post to %s after %d attempts: %w", endpoint, ts.config.RetryAttempts, lastErr)
}

func (ts *TrackingService) post(endpoint string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", ts.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flowtrain")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var tracked trackingResponse
	if err := json.Unmarshal(respBody, &tracked); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, tracked.Message)
	}
	return nil
}

// CheckHealth checks if the tracking sidecar is reachable.
func (ts *TrackingService) CheckHealth() error {
	if !ts.enabled {
		return fmt.Errorf("tracking service is disabled")
	}
	resp, err := ts.httpClient.Get(ts.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("tracking sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracking sidecar unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
