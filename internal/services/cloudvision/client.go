package cloudvision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"loadout/internal/config"
	"loadout/internal/detection"
	"loadout/internal/services"
)

const (
	defaultHTTPTimeout    = 15 * time.Second
	defaultCooldown       = 5 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// DefaultHTTPTimeout returns the default timeout used for vision requests.
func DefaultHTTPTimeout() time.Duration {
	return defaultHTTPTimeout
}

// Client wraps the cloud vision-language model API used for frame escalation.
// After a request deadline expires the client refuses further calls for a
// cooldown window so a degraded link cannot burn the daily budget.
type Client struct {
	cfg        config.CloudVision
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	cooldown         time.Duration
	sleeper          func(time.Duration)
	now              func() time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithClock overrides the cooldown clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a cloud vision client from the supplied configuration.
func NewClient(cfg config.CloudVision, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cooldown := defaultCooldown
	if cfg.CooldownSeconds > 0 {
		cooldown = time.Duration(cfg.CooldownSeconds) * time.Second
	}
	client := &Client{
		cfg: config.CloudVision{
			Endpoint:           strings.TrimSpace(cfg.Endpoint),
			APIKey:             strings.TrimSpace(cfg.APIKey),
			Model:              strings.TrimSpace(cfg.Model),
			TimeoutSeconds:     cfg.TimeoutSeconds,
			CooldownSeconds:    cfg.CooldownSeconds,
			EstimatedCostCents: cfg.EstimatedCostCents,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		cooldown:         cooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// EstimatedCostCents is the per-call cost reserved against the budget before
// the provider reports the actual charge.
func (c *Client) EstimatedCostCents() int64 {
	if c.cfg.EstimatedCostCents > 0 {
		return c.cfg.EstimatedCostCents
	}
	return 10
}

// Result is the validated analysis returned by the vision model.
type Result struct {
	Analysis        detection.FrameAnalysis
	ActualCostCents int64
	Raw             string
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("cloudvision request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ErrCoolingDown reports that a recent timeout put the client in its cooldown
// window and the call was refused without touching the network.
var ErrCoolingDown = errors.New("cloudvision: cooling down after timeout")

// AnalyzeFrame submits the frame image for full scene analysis. The checklist
// is included so the model can match detections against expected item names.
func (c *Client) AnalyzeFrame(ctx context.Context, frame detection.Frame, checklist []detection.ChecklistItem) (Result, error) {
	var empty Result
	if c.cfg.Endpoint == "" {
		return empty, services.Wrap(services.ErrConfiguration, "cloudvision", "analyze", "endpoint not configured", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "cloudvision", "analyze", "api key required", nil)
	}
	if len(frame.Image) == 0 {
		return empty, services.Wrap(services.ErrValidation, "cloudvision", "analyze", "empty frame image", nil)
	}
	if remaining := c.cooldownRemaining(); remaining > 0 {
		return empty, fmt.Errorf("%w (%s remaining)", ErrCoolingDown, remaining.Round(time.Millisecond))
	}

	payload := analysisRequest{
		Model:       c.cfg.Model,
		ImageBase64: base64.StdEncoding.EncodeToString(frame.Image),
		CapturedAt:  frame.CapturedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range checklist {
		payload.ExpectedItems = append(payload.ExpectedItems, expectedItem{
			ID:       item.ID,
			Name:     item.Name,
			Category: item.Category,
		})
	}

	body, raw, err := c.sendWithRetry(ctx, payload)
	if err != nil {
		return empty, err
	}
	result, err := validateResponse(body, frame.CapturedAt)
	if err != nil {
		// A syntactically valid HTTP exchange with garbage inside is a provider
		// fault, not a caller fault.
		return empty, services.Wrap(services.ErrTransient, "cloudvision", "analyze", "malformed provider response", err)
	}
	result.Raw = raw
	return result, nil
}

// Ping verifies the endpoint and credentials are usable.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return services.Wrap(services.ErrConfiguration, "cloudvision", "ping", "endpoint not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("cloudvision ping: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudvision ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("cloudvision ping: http %d", resp.StatusCode)
	}
	return nil
}

type analysisRequest struct {
	Model         string         `json:"model"`
	ImageBase64   string         `json:"image_base64"`
	CapturedAt    string         `json:"captured_at"`
	ExpectedItems []expectedItem `json:"expected_items,omitempty"`
}

type expectedItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

type analysisResponse struct {
	Items []struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		ItemType    string  `json:"item_type"`
		Confidence  float64 `json:"confidence"`
		ContainerID string  `json:"container_id"`
	} `json:"items"`
	Containers []struct {
		ID            string  `json:"id"`
		ContainerType string  `json:"container_type"`
		Color         string  `json:"color"`
		Confidence    float64 `json:"confidence"`
	} `json:"containers"`
	SceneConfidence float64 `json:"scene_confidence"`
	CostUSD         float64 `json:"cost_usd"`
	Error           *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func validateResponse(body []byte, capturedAt time.Time) (Result, error) {
	var empty Result
	var parsed analysisResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return empty, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return empty, fmt.Errorf("api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if parsed.SceneConfidence < 0 || parsed.SceneConfidence > 1 {
		return empty, fmt.Errorf("scene confidence out of range: %v", parsed.SceneConfidence)
	}
	if parsed.CostUSD < 0 {
		return empty, fmt.Errorf("negative cost: %v", parsed.CostUSD)
	}

	analysis := detection.FrameAnalysis{
		Timestamp:       capturedAt.UTC(),
		SceneConfidence: parsed.SceneConfidence,
		Method:          detection.MethodCloudVLM,
	}
	for _, item := range parsed.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return empty, errors.New("item with empty id")
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			return empty, fmt.Errorf("item %s confidence out of range: %v", id, item.Confidence)
		}
		analysis.Items = append(analysis.Items, detection.DetectedItem{
			ID:          id,
			Name:        strings.TrimSpace(item.Name),
			ItemType:    strings.TrimSpace(item.ItemType),
			Confidence:  item.Confidence,
			ContainerID: strings.TrimSpace(item.ContainerID),
		})
	}
	for _, container := range parsed.Containers {
		analysis.Containers = append(analysis.Containers, detection.DetectedContainer{
			ID:            strings.TrimSpace(container.ID),
			ContainerType: strings.TrimSpace(container.ContainerType),
			Color:         strings.TrimSpace(container.Color),
			Confidence:    container.Confidence,
		})
	}

	return Result{
		Analysis:        analysis,
		ActualCostCents: int64(math.Round(parsed.CostUSD * 100)),
	}, nil
}

func (c *Client) sendWithRetry(ctx context.Context, payload analysisRequest) ([]byte, string, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.sendOnce(ctx, payload)
		if err == nil {
			return body, string(body), nil
		}
		if isTimeout(err) {
			c.startCooldown()
			return nil, "", services.Wrap(services.ErrTimeout, "cloudvision", "analyze", "request timed out", err)
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, "", err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, "", err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, "", fmt.Errorf("cloudvision analyze: failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, payload analysisRequest) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cloudvision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("cloudvision request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudvision request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudvision request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

func (c *Client) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.cooldownUntil.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Client) startCooldown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil = c.now().Add(c.cooldown)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	maxDelay := c.retryMaxDelay
	if base < 0 {
		base = defaultRetryBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if base <= 0 {
		return 0
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
