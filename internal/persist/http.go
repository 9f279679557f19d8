package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loadout/internal/config"
	"loadout/internal/services"
)

// HTTPBackend stores verification records in the remote fleet backend. Server
// errors come back tagged transient so the offline queue retries them;
// rejections (4xx) do not, since resubmitting the same record cannot help.
type HTTPBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPBackend builds a backend client from configuration. Returns nil when
// no endpoint is configured.
func NewHTTPBackend(cfg config.Backend) *HTTPBackend {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) SaveVerification(ctx context.Context, record VerificationRecord) error {
	if record.TenantID == "" {
		return services.Wrap(services.ErrValidation, "persist", "save", "tenant id required", nil)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return services.Wrap(services.ErrValidation, "persist", "save", "encode record", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/verifications", bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "persist", "save", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "persist", "save", "backend unreachable", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "persist", "save",
			fmt.Sprintf("backend returned %d", resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrValidation, "persist", "save",
			fmt.Sprintf("backend rejected record with %d", resp.StatusCode), nil)
	}
}

func (b *HTTPBackend) ListVerifications(ctx context.Context, tenantID string) ([]VerificationRecord, error) {
	query := url.Values{"tenant": []string{tenantID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/verifications?"+query.Encode(), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "persist", "list", "build request", err)
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "persist", "list", "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return nil, services.Wrap(services.ErrTransient, "persist", "list",
			fmt.Sprintf("backend returned %d", resp.StatusCode), nil)
	}

	var records []VerificationRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, services.Wrap(services.ErrTransient, "persist", "list", "decode response", err)
	}
	return records, nil
}

func (b *HTTPBackend) authorize(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
}
